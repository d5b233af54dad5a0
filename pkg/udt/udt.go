// Package udt implements a reliable, congestion controlled transport over UDP.
//
// Every local UDP address is served by one Multiplexer, shared by all the
// connections and the listener bound to it. Connections are set up either with
// a client/server handshake (Dial and Listen) or a rendezvous, where both
// peers connect to each other at the same time. A connection delivers either
// an ordered byte stream or whole messages, depending on its Mode.
package udt

import (
	"context"
	"net"
)

// Version is the library version.
const Version = "0.1.0"

// Dialer opens outbound and rendezvous connections.
type Dialer struct {
	// LocalAddr is the address to bind. When nil or with port 0 a fresh
	// multiplexer with an ephemeral port is used.
	LocalAddr *net.UDPAddr
	Config    *Config
}

// Dial connects to a listener at raddr.
func (d *Dialer) Dial(ctx context.Context, raddr string, mode Mode) (*Conn, error) {
	return d.open(ctx, raddr, mode, roleClient)
}

// Rendezvous connects to a peer that is doing a rendezvous towards the
// dialer's local address at the same time.
func (d *Dialer) Rendezvous(ctx context.Context, raddr string, mode Mode) (*Conn, error) {
	return d.open(ctx, raddr, mode, roleRendezvous)
}

func (d *Dialer) open(ctx context.Context, raddr string, mode Mode, role connRole) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, err
	}
	conf := d.Config.withDefaults()
	m, err := getInstance(d.LocalAddr, conf)
	if err != nil {
		return nil, err
	}
	defer m.release()

	c, err := m.newSocket(addr, role, mode, conf)
	if err != nil {
		return nil, err
	}
	if role == roleRendezvous {
		err = c.rendezvous(ctx)
	} else {
		err = c.connect(ctx)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Dial connects to a listener at raddr from an ephemeral local port.
func Dial(ctx context.Context, raddr string, mode Mode, conf *Config) (*Conn, error) {
	d := Dialer{Config: conf}
	return d.Dial(ctx, raddr, mode)
}

// Rendezvous binds laddr and connects to a peer doing the same towards it.
func Rendezvous(ctx context.Context, laddr, raddr string, mode Mode, conf *Config) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	d := Dialer{LocalAddr: addr, Config: conf}
	return d.Rendezvous(ctx, raddr, mode)
}
