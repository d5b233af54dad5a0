package commands

import (
	"io"
	"net"
	"os"

	"github.com/skycoin/udt/pkg/udt"
)

const streamBufferSize = 64 << 10

// pipe copies stdin to c and c to stdout until either side ends.
func pipe(c net.Conn) {
	done := make(chan struct{})
	go func() {
		if _, err := io.Copy(os.Stdout, c); err != nil {
			log.WithError(err).Debug("Connection read ended")
		}
		close(done)
	}()
	go func() {
		if _, err := io.Copy(c, os.Stdin); err != nil {
			log.WithError(err).Debug("Stdin copy ended")
		}
		if err := c.Close(); err != nil && err != udt.ErrClosed {
			log.WithError(err).Warn("Failed to close connection")
		}
	}()
	<-done
}

// echo writes everything read from c back to it. In datagram mode every
// message is echoed as one message.
func echo(c *udt.Conn) error {
	buf := make([]byte, readBufferSize(c))
	for {
		n, err := c.Read(buf)
		if err == udt.ErrMessageTruncated {
			log.Warnf("Dropping message longer than %d bytes", len(buf))
			continue
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if _, err := c.Write(buf[:n]); err != nil {
			return err
		}
	}
}

// readBufferSize fits the largest message c can deliver in one Read.
func readBufferSize(c *udt.Conn) int {
	if c.Mode() == udt.DatagramMode {
		return c.MaxMessageSize()
	}
	return streamBufferSize
}
