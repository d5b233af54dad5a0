package udt

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/skycoin/udt/pkg/udt/packet"
)

const (
	ackHistorySize = 1024
	minNakInterval = 20 * time.Millisecond
	maxNakRanges   = 128
	probeInterval  = 16
	rateWindowSize = 16
)

type recvItem struct {
	seq packet.SeqNum
	pkt *packet.DataPacket // nil once dropped on request
}

func (a *recvItem) Less(b btree.Item) bool { return a.seq.Less(b.(*recvItem).seq) }

type lossItem struct {
	seq     packet.SeqNum
	lastNak time.Time
	naks    int
}

func (a *lossItem) Less(b btree.Item) bool { return a.seq.Less(b.(*lossItem).seq) }

type ackRecord struct {
	ackSeqNo uint32
	sentAt   time.Time
}

// receiver owns the inbound half of a connection. It is only used from the
// connection's goroutine.
type receiver struct {
	c       *Conn
	cc      CongestionControl
	flowWin int

	nextSeq    packet.SeqNum // one past the highest sequence number seen
	deliverSeq packet.SeqNum // next sequence number to hand to the reader
	pending    *btree.BTree  // received out of order, or dropped
	loss       *btree.BTree  // gaps not yet filled
	partial    [][]byte      // fragments of the message being reassembled

	ackSeqNo     uint32
	lastAckSeq   packet.SeqNum
	lastAckTime  time.Time
	ackConfirmed bool
	lastAdvAvail int
	unacked      int
	ackHistory   [ackHistorySize]ackRecord

	lastArrival time.Time
	probeStart  time.Time
	arrivals    rateWindow
	probes      rateWindow
}

func newReceiver(c *Conn, cc CongestionControl, initSeq packet.SeqNum, flowWin uint32) *receiver {
	return &receiver{
		c:            c,
		cc:           cc,
		flowWin:      int(flowWin),
		nextSeq:      initSeq,
		deliverSeq:   initSeq,
		pending:      btree.New(32),
		loss:         btree.New(32),
		lastAckSeq:   initSeq,
		ackConfirmed: true,
		lastAdvAvail: int(flowWin),
	}
}

// available is the number of packets the receive buffer can still take.
func (r *receiver) available() int {
	n := r.flowWin - r.c.queuedPackets() - len(r.partial)
	if n < 0 {
		return 0
	}
	return n
}

func (r *receiver) onData(p *packet.DataPacket, now time.Time) {
	r.cc.OnPktRecv(p)
	r.recordArrival(p.Seq, now)
	atomic.AddUint64(&r.c.pktRecv, 1)

	seq := p.Seq
	if seq.Less(r.deliverSeq) {
		return
	}
	if int(seq.BlindDiff(r.deliverSeq)) >= r.available() {
		r.c.m.metrics.PacketDropped("recv_buffer_full")
		return
	}

	switch d := seq.BlindDiff(r.nextSeq); {
	case d > 0:
		lost := make([]packet.SeqNum, 0, d)
		for s := r.nextSeq; s != seq; s = s.Incr() {
			r.loss.ReplaceOrInsert(&lossItem{seq: s, lastNak: now, naks: 1})
			lost = append(lost, s)
		}
		r.nextSeq = seq.Incr()
		r.sendNak(lost)
	case d == 0:
		r.nextSeq = seq.Incr()
	default:
		if r.loss.Delete(&lossItem{seq: seq}) == nil {
			return
		}
	}
	if r.pending.Has(&recvItem{seq: seq}) {
		return
	}
	r.pending.ReplaceOrInsert(&recvItem{seq: seq, pkt: p})
	atomic.AddUint64(&r.c.bytesRecv, uint64(len(p.Data)))
	r.deliver()

	r.unacked++
	if r.unacked >= lightAckInterval {
		r.sendLightAck()
	}
}

// deliver hands every contiguous packet from deliverSeq on to the reader.
func (r *receiver) deliver() {
	for {
		it := r.pending.Get(&recvItem{seq: r.deliverSeq})
		if it == nil {
			return
		}
		r.pending.Delete(it)
		r.deliverSeq = r.deliverSeq.Incr()

		p := it.(*recvItem).pkt
		if p == nil {
			r.partial = nil
			continue
		}
		if r.c.mode == StreamMode {
			r.c.pushMessage(p.Data, 1)
			continue
		}
		switch p.Boundary {
		case packet.MsgSolo:
			r.partial = nil
			r.c.pushMessage(p.Data, 1)
		case packet.MsgFirst:
			r.partial = [][]byte{p.Data}
		case packet.MsgMiddle:
			if r.partial != nil {
				r.partial = append(r.partial, p.Data)
			}
		case packet.MsgLast:
			if r.partial != nil {
				r.partial = append(r.partial, p.Data)
				r.c.pushMessage(joinFragments(r.partial), len(r.partial))
			}
			r.partial = nil
		}
	}
}

func joinFragments(frags [][]byte) []byte {
	n := 0
	for _, f := range frags {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range frags {
		out = append(out, f...)
	}
	return out
}

// onMsgDrop gives up on the packets of a message the sender will not retransmit.
func (r *receiver) onMsgDrop(p *packet.MsgDropReqPacket) {
	span := int(p.LastSeq.BlindDiff(p.FirstSeq))
	if span < 0 || span >= r.flowWin {
		r.c.log.Debugf("Ignoring message drop request %s-%s", p.FirstSeq, p.LastSeq)
		return
	}
	for seq := p.FirstSeq; !p.LastSeq.Less(seq); seq = seq.Incr() {
		if seq.Less(r.deliverSeq) {
			continue
		}
		r.loss.Delete(&lossItem{seq: seq})
		if !r.pending.Has(&recvItem{seq: seq}) {
			r.pending.ReplaceOrInsert(&recvItem{seq: seq})
		}
	}
	if !p.LastSeq.Less(r.nextSeq) {
		r.nextSeq = p.LastSeq.Incr()
	}
	r.deliver()
}

// ackPoint is the sequence number every packet before which has arrived.
func (r *receiver) ackPoint() packet.SeqNum {
	if it := r.loss.Min(); it != nil {
		return it.(*lossItem).seq
	}
	return r.nextSeq
}

func (r *receiver) sendLightAck() {
	r.unacked = 0
	r.c.sendControl(&packet.AckPacket{Light: true, PktSeqHi: r.ackPoint()})
}

// sendAck sends a full ACK when the ack point moved, the previous one went
// unconfirmed for too long, or the receive buffer opened up again.
func (r *receiver) sendAck(now time.Time) {
	ack := r.ackPoint()
	avail := r.available()
	rtt, rttVar := r.c.getRTT()

	switch {
	case ack != r.lastAckSeq:
	case !r.ackConfirmed && now.Sub(r.lastAckTime) > 2*time.Duration(rtt)*time.Microsecond:
	case avail > r.lastAdvAvail && (r.lastAdvAvail == 0 || avail-r.lastAdvAvail >= r.flowWin/4):
	default:
		return
	}

	r.ackSeqNo++
	if r.ackSeqNo == 0 {
		r.ackSeqNo++
	}
	r.ackHistory[r.ackSeqNo%ackHistorySize] = ackRecord{ackSeqNo: r.ackSeqNo, sentAt: now}
	r.lastAckSeq = ack
	r.lastAckTime = now
	r.ackConfirmed = false
	r.lastAdvAvail = avail
	r.unacked = 0

	r.c.sendControl(&packet.AckPacket{
		AckSeqNo:    r.ackSeqNo,
		PktSeqHi:    ack,
		RTT:         rtt,
		RTTVar:      rttVar,
		BuffAvail:   uint32(avail),
		IncludeRate: true,
		PktRecvRate: r.arrivals.rate(),
		EstLinkCap:  r.probes.rate(),
	})
}

func (r *receiver) onAck2(p *packet.Ack2Packet, now time.Time) {
	rec := r.ackHistory[p.AckSeqNo%ackHistorySize]
	if rec.ackSeqNo != p.AckSeqNo || rec.sentAt.IsZero() {
		return
	}
	r.ackHistory[p.AckSeqNo%ackHistorySize] = ackRecord{}
	sample := now.Sub(rec.sentAt)
	r.c.applyRTT(uint32(sample / time.Microsecond))
	r.c.m.metrics.RTT(sample)
	if p.AckSeqNo == r.ackSeqNo {
		r.ackConfirmed = true
	}
}

func (r *receiver) nakInterval() time.Duration {
	rtt, rttVar := r.c.getRTT()
	d := time.Duration(rtt+4*rttVar) * time.Microsecond
	if d < minNakInterval {
		d = minNakInterval
	}
	return d
}

// resendNaks reports again the gaps that have not been filled in time.
func (r *receiver) resendNaks(now time.Time) {
	interval := r.nakInterval()
	var lost []packet.SeqNum
	r.loss.Ascend(func(it btree.Item) bool {
		l := it.(*lossItem)
		if now.Sub(l.lastNak) >= time.Duration(l.naks)*interval {
			l.lastNak = now
			l.naks++
			lost = append(lost, l.seq)
		}
		return len(lost) < maxNakRanges*8
	})
	if len(lost) > 0 {
		r.sendNak(lost)
	}
}

func (r *receiver) sendNak(lost []packet.SeqNum) {
	info := packet.CompressLoss(lost)
	if len(info) > 2*maxNakRanges {
		info = info[:2*maxNakRanges]
		if info[len(info)-1]&0x80000000 != 0 {
			info = info[:len(info)-1]
		}
	}
	r.c.sendControl(&packet.NakPacket{CmpLossInfo: info})
}

func (r *receiver) onTick(now time.Time) {
	r.sendAck(now)
	r.resendNaks(now)
}

// recordArrival feeds the arrival rate and, for every probing pair, the link capacity estimate.
func (r *receiver) recordArrival(seq packet.SeqNum, now time.Time) {
	if !r.lastArrival.IsZero() {
		r.arrivals.add(now.Sub(r.lastArrival))
	}
	r.lastArrival = now

	switch seq % probeInterval {
	case 0:
		r.probeStart = now
	case 1:
		if !r.probeStart.IsZero() {
			r.probes.add(now.Sub(r.probeStart))
			r.probeStart = time.Time{}
		}
	}
}

// rateWindow turns the most recent packet intervals into a packets per second rate.
type rateWindow struct {
	samples [rateWindowSize]time.Duration
	n, next int
}

func (w *rateWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % rateWindowSize
	if w.n < rateWindowSize {
		w.n++
	}
}

// rate filters out samples far from the median and averages the rest.
// It returns 0 until enough consistent samples are collected.
func (w *rateWindow) rate() uint32 {
	if w.n == 0 {
		return 0
	}
	s := make([]time.Duration, w.n)
	copy(s, w.samples[:w.n])
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	median := s[w.n/2]
	lo, hi := median/8, median*8

	var sum time.Duration
	count := 0
	for _, d := range s {
		if d > lo && d < hi {
			sum += d
			count++
		}
	}
	if count <= w.n/2 || sum <= 0 {
		return 0
	}
	return uint32(time.Duration(count) * time.Second / sum)
}
