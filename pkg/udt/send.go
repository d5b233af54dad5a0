package udt

import (
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/skycoin/udt/pkg/udt/packet"
)

const (
	// sendBacklog bounds the packets waiting for window space.
	sendBacklog = 1024

	minExpInterval = 300 * time.Millisecond
	maxExpInterval = time.Second
)

type sendItem struct {
	seq packet.SeqNum
	pkt *packet.DataPacket
}

func (a *sendItem) Less(b btree.Item) bool { return a.seq.Less(b.(*sendItem).seq) }

type seqItem packet.SeqNum

func (a seqItem) Less(b btree.Item) bool { return packet.SeqNum(a).Less(packet.SeqNum(b.(seqItem))) }

// sender owns the outbound half of a connection. It is only used from the
// connection's goroutine.
type sender struct {
	c         *Conn
	cc        CongestionControl
	farSockID uint32
	payload   int

	nextSeq   packet.SeqNum // next sequence number to assign
	lastAck   packet.SeqNum // every packet before it is acknowledged
	nextMsgID uint32
	peerWin   uint32

	queue   []*packet.DataPacket // waiting for window space
	pending *btree.BTree         // sent and not yet acknowledged
	loss    *btree.BTree         // reported lost, to be retransmitted first

	lastSend time.Time
	lastResp time.Time
	nextExp  time.Time
	expCount int
}

func newSender(c *Conn, cc CongestionControl, farSockID uint32, initSeq packet.SeqNum, mtu, peerWin uint32, now time.Time) *sender {
	s := &sender{
		c:         c,
		cc:        cc,
		farSockID: farSockID,
		payload:   payloadSize(mtu),
		nextSeq:   initSeq,
		lastAck:   initSeq,
		peerWin:   peerWin,
		pending:   btree.New(32),
		loss:      btree.New(32),
		lastSend:  now,
		lastResp:  now,
	}
	s.nextExp = now.Add(s.expInterval())
	return s
}

func (s *sender) canQueue() bool { return len(s.queue) < sendBacklog }

// idle reports whether everything written has been acknowledged.
func (s *sender) idle() bool { return len(s.queue) == 0 && s.pending.Len() == 0 }

// enqueue cuts a message into data packets.
func (s *sender) enqueue(msg []byte) {
	if s.c.mode == StreamMode {
		for len(msg) > 0 {
			n := minInt(len(msg), s.payload)
			s.queue = append(s.queue, &packet.DataPacket{Boundary: packet.MsgSolo, InOrder: true, MsgID: s.msgID(), Data: msg[:n]})
			msg = msg[n:]
		}
		return
	}

	id := s.msgID()
	for off := 0; off < len(msg); off += s.payload {
		end := minInt(off+s.payload, len(msg))
		b := packet.MsgMiddle
		switch {
		case off == 0 && end == len(msg):
			b = packet.MsgSolo
		case off == 0:
			b = packet.MsgFirst
		case end == len(msg):
			b = packet.MsgLast
		}
		s.queue = append(s.queue, &packet.DataPacket{Boundary: b, InOrder: true, MsgID: id, Data: msg[off:end]})
	}
}

func (s *sender) msgID() uint32 {
	id := s.nextMsgID
	s.nextMsgID = packet.NextMsgID(id)
	return id
}

func (s *sender) window() int32 {
	w := s.cc.Window()
	if s.peerWin < w {
		w = s.peerWin
	}
	return int32(w)
}

// flush retransmits reported losses, then sends new packets while the window allows.
func (s *sender) flush(now time.Time) {
	for s.loss.Len() > 0 {
		seq := packet.SeqNum(s.loss.DeleteMin().(seqItem))
		if seq.Less(s.lastAck) {
			continue
		}
		it := s.pending.Get(&sendItem{seq: seq})
		if it == nil {
			continue
		}
		s.send(it.(*sendItem).pkt, now)
		atomic.AddUint64(&s.c.pktRetrans, 1)
		s.c.m.metrics.Retransmitted(1)
	}

	for len(s.queue) > 0 && s.nextSeq.BlindDiff(s.lastAck) < s.window() {
		p := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		p.Seq = s.nextSeq
		s.nextSeq = s.nextSeq.Incr()
		s.pending.ReplaceOrInsert(&sendItem{seq: p.Seq, pkt: p})
		s.send(p, now)
		s.cc.OnPktSent(p)
	}
}

func (s *sender) send(p *packet.DataPacket, now time.Time) {
	if err := s.c.m.sendPacket(s.c.raddr, s.farSockID, p); err != nil {
		return
	}
	s.lastSend = now
	atomic.AddUint64(&s.c.pktSent, 1)
	atomic.AddUint64(&s.c.bytesSent, uint64(len(p.Data)))
}

func (s *sender) sendControl(p packet.Packet, now time.Time) {
	s.c.sendControl(p)
	s.lastSend = now
}

// onPeerActivity restarts the expiration timer; any packet proves the peer alive.
func (s *sender) onPeerActivity(now time.Time) {
	s.lastResp = now
	s.expCount = 0
	s.nextExp = now.Add(s.expInterval())
}

func (s *sender) onAck(p *packet.AckPacket, now time.Time) {
	if !p.Light {
		s.sendControl(&packet.Ack2Packet{AckSeqNo: p.AckSeqNo}, now)
		s.c.setRTT(p.RTT, p.RTTVar)
		s.peerWin = p.BuffAvail
		if p.IncludeRate {
			s.c.applyReceiveRates(p.PktRecvRate, p.EstLinkCap)
		}
	}

	ack := p.PktSeqHi
	if ack.BlindDiff(s.nextSeq) > 0 {
		s.c.log.Debugf("Ignoring ACK %s beyond next sequence %s", ack, s.nextSeq)
		return
	}
	if acked := ack.BlindDiff(s.lastAck); acked > 0 {
		for {
			it := s.pending.Min()
			if it == nil || !it.(*sendItem).seq.Less(ack) {
				break
			}
			s.pending.DeleteMin()
		}
		s.lastAck = ack
		rtt, _ := s.c.getRTT()
		s.cc.OnACK(int(acked), time.Duration(rtt)*time.Microsecond)
	}
	s.flush(now)
}

func (s *sender) onNak(p *packet.NakPacket, now time.Time) {
	var losses []packet.SeqNum
	for _, r := range p.Ranges() {
		from, to := r.From, r.To
		if from.Less(s.lastAck) {
			from = s.lastAck
		}
		if !to.Less(s.nextSeq) {
			to = s.nextSeq.Decr()
		}
		for seq := from; !to.Less(seq); seq = seq.Incr() {
			s.loss.ReplaceOrInsert(seqItem(seq))
			losses = append(losses, seq)
		}
	}
	if len(losses) == 0 {
		return
	}
	atomic.AddUint64(&s.c.pktLoss, uint64(len(losses)))
	s.cc.OnNAK(losses, s.nextSeq)
	s.flush(now)
}

// expInterval grows with every expiration that goes unanswered.
func (s *sender) expInterval() time.Duration {
	rtt, rttVar := s.c.getRTT()
	n := time.Duration(s.expCount + 1)
	d := n*time.Duration(rtt+4*rttVar)*time.Microsecond + s.c.conf.SynTime
	if d < n*minExpInterval {
		d = n * minExpInterval
	}
	if d > maxExpInterval {
		d = maxExpInterval
	}
	return d
}

// onTick runs the expiration timer and keeps an idle connection alive.
// It returns ErrPeerTimeout once the peer has been silent for too long.
func (s *sender) onTick(now time.Time) error {
	if !now.Before(s.nextExp) {
		if s.expCount > maxExpCount && now.Sub(s.lastResp) > peerIdleTimeout {
			return ErrPeerTimeout
		}
		if s.pending.Len() > 0 {
			s.pending.Ascend(func(it btree.Item) bool {
				s.loss.ReplaceOrInsert(seqItem(it.(*sendItem).seq))
				return true
			})
			s.cc.OnTimeout()
		} else {
			s.sendControl(&packet.KeepAlivePacket{}, now)
		}
		s.expCount++
		s.nextExp = now.Add(s.expInterval())
		s.flush(now)
	}
	if now.Sub(s.lastSend) >= keepAliveInterval {
		s.sendControl(&packet.KeepAlivePacket{}, now)
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
