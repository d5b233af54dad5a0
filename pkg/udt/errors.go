package udt

import (
	"errors"
	"net"
)

// Errors returned by connections, listeners and multiplexers.
var (
	ErrRefused            = errors.New("udt: connection refused by peer")
	ErrCorrupted          = errors.New("udt: peer violated the protocol")
	ErrClosed             = errors.New("udt: use of closed connection")
	ErrListenerClosed     = errors.New("udt: listener closed")
	ErrMessageTruncated   = errors.New("udt: message truncated")
	ErrMessageTooLarge    = errors.New("udt: message too large")
	ErrAcceptorRegistered = errors.New("udt: another acceptor is registered")
	ErrRendezvousExists   = errors.New("udt: rendezvous already registered")
	ErrInvalidDestination = errors.New("udt: non-handshake packet addressed to socket 0")
	ErrNotConnected       = errors.New("udt: not connected")

	// ErrTimeout is returned when a connect, read or write deadline expires.
	ErrTimeout net.Error = &timeoutError{"udt: i/o timeout"}

	// ErrPeerTimeout is returned once an established peer stops responding.
	ErrPeerTimeout net.Error = &timeoutError{"udt: peer stopped responding"}
)

type timeoutError struct {
	msg string
}

func (e *timeoutError) Error() string   { return e.msg }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
