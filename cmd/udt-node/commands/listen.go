package commands

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/skycoin/udt/pkg/udt"
)

var listenEcho bool

func init() {
	listenCmd.Flags().BoolVar(&listenEcho, "echo", false, "echo everything back to the peer instead of printing it")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen <addr>",
	Short: "Accept stream and datagram connections on a UDP address",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		l, err := udt.Listen(args[0], conf)
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			l.Close() // nolint: errcheck
		}()

		for {
			c, err := l.AcceptContext(ctx)
			if err != nil {
				if err == udt.ErrListenerClosed || ctx.Err() != nil {
					return nil
				}
				return err
			}
			go handleConn(c)
		}
	},
}

func handleConn(c *udt.Conn) {
	log := log.WithField("remote", c.RemoteAddr()).WithField("mode", c.Mode())
	log.Info("Accepted connection")

	var err error
	if listenEcho {
		err = echo(c)
	} else {
		_, err = io.Copy(os.Stdout, c)
	}
	if err != nil {
		log.WithError(err).Warn("Connection failed")
	}
	if err := c.Close(); err != nil && err != udt.ErrClosed {
		log.WithError(err).Debug("Close")
	}

	st := c.Stats()
	log.Infof("Connection closed: %d packets sent, %d received, %d retransmitted", st.PktSent, st.PktRecv, st.PktRetrans)
}
