package udt

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/udt/pkg/udt/packet"
)

// connect runs the client side of the handshake and blocks until it has an outcome.
func (c *Conn) connect(ctx context.Context) error {
	c.mx.Lock()
	c.state = StateConnecting
	c.mx.Unlock()

	c.hsDeadline = time.Now().Add(c.conf.ConnectTimeout)
	c.log.Debugf("Connecting to %s", c.raddr)
	go c.serve()
	return c.awaitHandshake(ctx)
}

// rendezvous runs a simultaneous open with a peer doing the same.
func (c *Conn) rendezvous(ctx context.Context) error {
	if !c.m.startRendezvous(c) {
		c.finish(StateClosed, ErrRendezvousExists)
		return ErrRendezvousExists
	}
	c.mx.Lock()
	c.state = StateRendezvous
	c.mx.Unlock()

	c.hsDeadline = time.Now().Add(c.conf.RendezvousTimeout)
	c.log.Debugf("Rendezvous with %s", c.raddr)
	go c.serve()
	return c.awaitHandshake(ctx)
}

func (c *Conn) awaitHandshake(ctx context.Context) error {
	select {
	case <-c.connectedCh:
	case <-ctx.Done():
		c.finish(StateClosed, ctx.Err())
	}

	c.mx.Lock()
	state, err := c.state, c.connErr
	c.mx.Unlock()
	if state != StateConnected {
		if err == nil {
			err = errors.Errorf("handshake ended in state %s", state)
		}
		return err
	}
	return nil
}

// handshakeLocked builds a handshake from the local connection parameters.
func (c *Conn) handshakeLocked(reqType packet.HandshakeReqType) *packet.HandshakePacket {
	return &packet.HandshakePacket{
		UDTVer:         packet.UDTVersion,
		SockType:       c.mode.sockType(),
		InitPktSeq:     c.initSeq,
		MaxPktSize:     c.mtu,
		MaxFlowWinSize: c.conf.MaxFlowWinSize,
		ReqType:        reqType,
		SockID:         c.sockID,
		SynCookie:      c.cookie,
		SockAddr:       c.raddr.IP,
	}
}

// sendHandshakeRequest (re)sends the handshake of a connection that is not yet connected.
func (c *Conn) sendHandshakeRequest() {
	c.mx.Lock()
	var p *packet.HandshakePacket
	switch c.state {
	case StateConnecting:
		p = c.handshakeLocked(packet.HsRequest)
	case StateRendezvous:
		p = c.handshakeLocked(packet.HsRendezvous)
	}
	c.mx.Unlock()
	if p != nil {
		c.sendHandshake(p, 0)
	}
}

func (c *Conn) sendHandshake(p *packet.HandshakePacket, dstSockID uint32) {
	if err := c.m.sendPacket(c.raddr, dstSockID, p); err != nil {
		c.log.WithError(err).Debugf("Failed to send %s handshake", p.ReqType)
	}
}

// checkValidHandshake rejects handshakes from the expected peer that break the protocol.
func (c *Conn) checkValidHandshake(p *packet.HandshakePacket) error {
	if p.UDTVer != packet.UDTVersion {
		return errors.Wrapf(ErrCorrupted, "unsupported version %d", p.UDTVer)
	}
	if !p.ReqType.Known() {
		return errors.Wrapf(ErrCorrupted, "unknown request type %d", int32(p.ReqType))
	}
	if p.ReqType == packet.HsRefused {
		return nil
	}
	if p.SockType != c.mode.sockType() {
		return errors.Wrapf(ErrCorrupted, "peer wants socket type %s", p.SockType)
	}
	if p.MaxPktSize < minPacketSize || p.MaxFlowWinSize < minFlowWinSize {
		return errors.Wrapf(ErrCorrupted, "peer limits too small: packet %d window %d", p.MaxPktSize, p.MaxFlowWinSize)
	}
	switch {
	case c.state == StateConnecting && p.ReqType == packet.HsResponse:
		if p.SynCookie != c.cookie {
			return errors.Wrap(ErrCorrupted, "cookie mismatch")
		}
		if p.InitPktSeq != c.initSeq {
			return errors.Wrap(ErrCorrupted, "initial sequence mismatch")
		}
		if p.SockID == 0 {
			return errors.Wrap(ErrCorrupted, "response without socket id")
		}
	case c.state == StateRendezvous:
		if p.SockID == 0 {
			return errors.Wrap(ErrCorrupted, "rendezvous without socket id")
		}
	}
	return nil
}

// establishLocked records the negotiated peer parameters and marks the connection connected.
func (c *Conn) establishLocked(p *packet.HandshakePacket) {
	c.farSockID = p.SockID
	c.farInitSeq = p.InitPktSeq
	if p.MaxPktSize < c.mtu {
		c.mtu = p.MaxPktSize
	}
	c.peerFlowWin = p.MaxFlowWinSize
	c.state = StateConnected
	c.closeConnectedLocked()
}

// readHandshake processes a handshake on the multiplexer's read goroutine. It
// reports whether the packet belonged to this connection.
func (c *Conn) readHandshake(p *packet.HandshakePacket, from *net.UDPAddr) bool {
	if !sameAddr(from, c.raddr) {
		return false
	}

	var (
		reply     *packet.HandshakePacket
		replyDst  uint32
		failState ConnState
		failErr   error
		connected bool
	)

	c.mx.Lock()
	if c.state == StateInit || c.state.Terminal() {
		c.mx.Unlock()
		return false
	}
	if c.state != StateConnected {
		if err := c.checkValidHandshake(p); err != nil {
			failState, failErr = StateCorrupted, err
		}
	}
	if failErr == nil {
		switch c.state {
		case StateConnecting:
			switch p.ReqType {
			case packet.HsRefused:
				failState, failErr = StateRefused, ErrRefused
			case packet.HsRequest:
				// Cookie challenge from the listener.
				if p.SynCookie != 0 && p.SynCookie != c.cookie {
					c.cookie = p.SynCookie
					reply = c.handshakeLocked(packet.HsRequest)
				}
			case packet.HsResponse:
				c.establishLocked(p)
				connected = true
			}

		case StateRendezvous:
			switch p.ReqType {
			case packet.HsRefused:
				failState, failErr = StateRefused, ErrRefused
			case packet.HsRendezvous:
				c.establishLocked(p)
				connected = true
				reply, replyDst = c.handshakeLocked(packet.HsResponse), p.SockID
			case packet.HsResponse:
				c.establishLocked(p)
				connected = true
			}

		case StateConnected:
			// The peer has not seen our response yet.
			if c.role == roleRendezvous && p.ReqType == packet.HsRendezvous && p.SockID == c.farSockID {
				reply, replyDst = c.handshakeLocked(packet.HsResponse), c.farSockID
			}
		}
	}
	c.mx.Unlock()

	if failErr != nil {
		c.log.WithError(failErr).Warnf("Handshake with %s failed", from)
		c.finish(failState, failErr)
		return true
	}
	if connected {
		c.m.metrics.Handshake(StateConnected.String())
		c.log.Infof("Connected to %s (peer socket %d, %s)", c.raddr, p.SockID, c.mode)
	}
	if reply != nil {
		c.sendHandshake(reply, replyDst)
	}
	return true
}

// acceptHandshake turns a fresh server socket into a connected one from a
// validated client request and returns the response to send back.
func (c *Conn) acceptHandshake(p *packet.HandshakePacket) *packet.HandshakePacket {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.initSeq = p.InitPktSeq
	c.cookie = p.SynCookie
	c.establishLocked(p)
	return c.handshakeLocked(packet.HsResponse)
}

// resendResponse answers a duplicate request for an already accepted connection.
func (c *Conn) resendResponse() {
	c.mx.Lock()
	if c.state != StateConnected {
		c.mx.Unlock()
		return
	}
	resp, dst := c.handshakeLocked(packet.HsResponse), c.farSockID
	c.mx.Unlock()
	c.sendHandshake(resp, dst)
}
