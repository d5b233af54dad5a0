package udtproxy

import (
	"io"
	"net"
	"sync"

	"github.com/hashicorp/yamux"
	"github.com/pkg/errors"
)

// Client forwards local TCP connections to a remote Server, one stream each.
type Client struct {
	session *yamux.Session

	mu       sync.Mutex
	listener net.Listener
}

// NewClient starts a yamux session over conn.
func NewClient(conn net.Conn) (*Client, error) {
	session, err := yamux.Client(conn, nil)
	if err != nil {
		return nil, errors.Wrap(err, "yamux")
	}

	return &Client{session: session}, nil
}

// ListenAndServe listens on the TCP address addr and forwards every accepted
// connection to the remote proxy server.
func (c *Client) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return c.Serve(l)
}

// Serve forwards the connections accepted from l.
func (c *Client) Serve(l net.Listener) error {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}

		stream, err := c.session.Open()
		if err != nil {
			conn.Close() // nolint: errcheck
			return errors.Wrap(err, "yamux")
		}

		go forward(conn, stream)
	}
}

func forward(conn net.Conn, stream net.Conn) {
	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(stream, conn)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(conn, stream)
		errCh <- err
	}()

	err := <-errCh
	if err := conn.Close(); err != nil {
		log.WithError(err).Warn("Failed to close connection")
	}
	if err := stream.Close(); err != nil {
		log.WithError(err).Warn("Failed to close stream")
	}
	if err != nil {
		log.WithError(err).Debug("Copy ended")
	}
	<-errCh
}

// Addr returns the local listening address, or nil before serving.
func (c *Client) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Close stops the listener and the session.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	if sErr := c.session.Close(); err == nil {
		err = sErr
	}
	return err
}
