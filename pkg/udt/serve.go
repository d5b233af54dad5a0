package udt

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/udt/pkg/udt/packet"
)

// serve is the connection's goroutine. It drives the handshake retries, then
// owns the sender, receiver and congestion control until the connection finishes.
func (c *Conn) serve() {
	ticker := time.NewTicker(c.conf.SynTime)
	defer ticker.Stop()
	defer func() {
		if c.cc != nil {
			c.cc.Close()
		}
	}()

	now := time.Now()
	if st := c.State(); st == StateConnecting || st == StateRendezvous {
		c.sendHandshakeRequest()
		c.nextHs = now.Add(c.conf.HandshakeRetry)
	}

	connectedCh := c.connectedCh
	closeCh := c.closeCh
	for {
		var sendCh chan []byte
		if c.snd != nil && !c.closing && c.snd.canQueue() {
			sendCh = c.sendCh
		}

		select {
		case <-c.doneCh:
			return
		case <-connectedCh:
			connectedCh = nil
			c.establish(time.Now())
		case p := <-c.recvCh:
			c.handlePacket(p, time.Now())
		case msg := <-sendCh:
			now := time.Now()
			c.snd.enqueue(msg)
			c.snd.flush(now)
		case now := <-ticker.C:
			c.onTick(now)
		case <-closeCh:
			closeCh = nil
			c.onClose(time.Now())
		}
	}
}

// establish sets up data transfer once the handshake completed. It reports
// whether the connection is ready for it.
func (c *Conn) establish(now time.Time) bool {
	if c.snd != nil {
		return true
	}
	c.mx.Lock()
	if c.state != StateConnected {
		c.mx.Unlock()
		return false
	}
	far, initSeq, farInitSeq, mtu, peerWin := c.farSockID, c.initSeq, c.farInitSeq, c.mtu, c.peerFlowWin
	c.mx.Unlock()

	win := c.conf.MaxFlowWinSize
	if peerWin < win {
		win = peerWin
	}
	c.cc = c.conf.NewCongestion()
	c.cc.Init(win, initSeq)
	c.snd = newSender(c, c.cc, far, initSeq, mtu, peerWin, now)
	c.rcv = newReceiver(c, c.cc, farInitSeq, c.conf.MaxFlowWinSize)
	return true
}

func (c *Conn) handlePacket(p packet.Packet, now time.Time) {
	if !c.establish(now) {
		return
	}
	c.snd.onPeerActivity(now)

	switch p := p.(type) {
	case *packet.DataPacket:
		c.rcv.onData(p, now)
	case *packet.AckPacket:
		c.snd.onAck(p, now)
		c.checkLinger(now)
	case *packet.Ack2Packet:
		c.rcv.onAck2(p, now)
	case *packet.NakPacket:
		c.snd.onNak(p, now)
	case *packet.KeepAlivePacket:
	case *packet.ShutdownPacket:
		c.log.Debugf("Peer %s closed the connection", c.raddr)
		c.finish(StateClosed, io.EOF)
	case *packet.CongestionPacket:
		c.cc.OnCongestionWarning()
	case *packet.MsgDropReqPacket:
		c.rcv.onMsgDrop(p)
	case *packet.ErrPacket:
		c.log.Warnf("Peer %s reported error %d", c.raddr, p.ErrCode)
		c.finish(StateClosed, errors.Errorf("udt: peer reported error %d", p.ErrCode))
	case *packet.UserDefPacket:
		c.cc.OnCustomMsg(p)
	default:
		c.log.Debugf("Ignoring %s packet", p.Type())
	}
}

func (c *Conn) onTick(now time.Time) {
	switch c.State() {
	case StateConnecting, StateRendezvous:
		if now.After(c.hsDeadline) {
			c.log.Debugf("Handshake with %s timed out", c.raddr)
			c.finish(StateTimeout, ErrTimeout)
			return
		}
		if !now.Before(c.nextHs) {
			c.sendHandshakeRequest()
			c.nextHs = now.Add(c.conf.HandshakeRetry)
		}

	case StateConnected:
		if !c.establish(now) {
			return
		}
		c.rcv.onTick(now)
		if err := c.snd.onTick(now); err != nil {
			c.log.Warnf("Peer %s stopped responding", c.raddr)
			c.finish(StateTimeout, err)
			return
		}
		c.checkLinger(now)
	}
}

// onClose starts a graceful close: queued writes are drained and sent, and the
// connection lingers until they are acknowledged or LingerTime passes.
func (c *Conn) onClose(now time.Time) {
	if c.State() != StateConnected || !c.establish(now) {
		c.finish(StateClosed, ErrClosed)
		return
	}
	c.closing = true
	c.lingerDeadline = now.Add(c.conf.LingerTime)
	for drained := false; !drained; {
		select {
		case msg := <-c.sendCh:
			c.snd.enqueue(msg)
		default:
			drained = true
		}
	}
	c.snd.flush(now)
	c.checkLinger(now)
}

func (c *Conn) checkLinger(now time.Time) {
	if !c.closing {
		return
	}
	if !c.snd.idle() && now.Before(c.lingerDeadline) {
		return
	}
	c.sendControl(&packet.ShutdownPacket{})
	c.finish(StateClosed, ErrClosed)
}
