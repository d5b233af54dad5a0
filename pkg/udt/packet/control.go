package packet

import (
	"github.com/skycoin/udt/pkg/buffer"
)

// ctrl provides Header for the control packets.
type ctrl struct {
	Hdr Header
}

// Header implements Packet.
func (c *ctrl) Header() *Header { return &c.Hdr }

// KeepAlivePacket keeps an idle connection from expiring.
type KeepAlivePacket struct{ ctrl }

// Type implements Packet.
func (p *KeepAlivePacket) Type() Type                          { return TypeKeepAlive }
func (p *KeepAlivePacket) words() (uint32, uint32)             { return controlWord(TypeKeepAlive, 0), 0 }
func (p *KeepAlivePacket) writeBody(*buffer.Rope)              {}
func (p *KeepAlivePacket) readBody(uint32, buffer.Slice) error { return nil }

// ShutdownPacket tells the peer the connection is closed.
type ShutdownPacket struct{ ctrl }

// Type implements Packet.
func (p *ShutdownPacket) Type() Type                          { return TypeShutdown }
func (p *ShutdownPacket) words() (uint32, uint32)             { return controlWord(TypeShutdown, 0), 0 }
func (p *ShutdownPacket) writeBody(*buffer.Rope)              {}
func (p *ShutdownPacket) readBody(uint32, buffer.Slice) error { return nil }

// CongestionPacket is a congestion warning from the receiver.
type CongestionPacket struct{ ctrl }

// Type implements Packet.
func (p *CongestionPacket) Type() Type                          { return TypeCongestion }
func (p *CongestionPacket) words() (uint32, uint32)             { return controlWord(TypeCongestion, 0), 0 }
func (p *CongestionPacket) writeBody(*buffer.Rope)              {}
func (p *CongestionPacket) readBody(uint32, buffer.Slice) error { return nil }

// AckPacket acknowledges every packet before PktSeqHi.
// A light ACK carries only PktSeqHi.
type AckPacket struct {
	ctrl
	AckSeqNo    uint32
	PktSeqHi    SeqNum
	Light       bool
	RTT         uint32 // microseconds
	RTTVar      uint32 // microseconds
	BuffAvail   uint32 // packets
	IncludeRate bool
	PktRecvRate uint32 // packets per second
	EstLinkCap  uint32 // packets per second
}

// Type implements Packet.
func (p *AckPacket) Type() Type { return TypeAck }

func (p *AckPacket) words() (uint32, uint32) { return controlWord(TypeAck, 0), p.AckSeqNo }

func (p *AckPacket) writeBody(r *buffer.Rope) {
	putUint32s(r, uint32(p.PktSeqHi))
	if p.Light {
		return
	}
	putUint32s(r, p.RTT, p.RTTVar, p.BuffAvail)
	if p.IncludeRate {
		putUint32s(r, p.PktRecvRate, p.EstLinkCap)
	}
}

func (p *AckPacket) readBody(info uint32, body buffer.Slice) error {
	p.AckSeqNo = info
	var hi uint32
	if err := readUint32s(&body, &hi); err != nil {
		return err
	}
	p.PktSeqHi = SeqNum(hi & MaxSeqNum)
	if body.Empty() {
		p.Light = true
		return nil
	}
	if err := readUint32s(&body, &p.RTT, &p.RTTVar, &p.BuffAvail); err != nil {
		return err
	}
	if body.Empty() {
		return nil
	}
	p.IncludeRate = true
	return readUint32s(&body, &p.PktRecvRate, &p.EstLinkCap)
}

// Ack2Packet acknowledges an ACK so the receiver can sample the round trip time.
type Ack2Packet struct {
	ctrl
	AckSeqNo uint32
}

// Type implements Packet.
func (p *Ack2Packet) Type() Type              { return TypeAck2 }
func (p *Ack2Packet) words() (uint32, uint32) { return controlWord(TypeAck2, 0), p.AckSeqNo }
func (p *Ack2Packet) writeBody(*buffer.Rope)  {}
func (p *Ack2Packet) readBody(info uint32, _ buffer.Slice) error {
	p.AckSeqNo = info
	return nil
}

// NakPacket reports lost packets. CmpLossInfo is the compressed loss list: a value
// with the top bit set starts a range whose inclusive end is the following value.
type NakPacket struct {
	ctrl
	CmpLossInfo []uint32
}

// Type implements Packet.
func (p *NakPacket) Type() Type              { return TypeNak }
func (p *NakPacket) words() (uint32, uint32) { return controlWord(TypeNak, 0), 0 }

func (p *NakPacket) writeBody(r *buffer.Rope) {
	putUint32s(r, p.CmpLossInfo...)
}

func (p *NakPacket) readBody(_ uint32, body buffer.Slice) error {
	if body.Len()%4 != 0 {
		return ErrTruncated
	}
	p.CmpLossInfo = make([]uint32, body.Len()/4)
	for i := range p.CmpLossInfo {
		if err := readUint32s(&body, &p.CmpLossInfo[i]); err != nil {
			return err
		}
	}
	return nil
}

// CompressLoss builds the compressed loss list for the given sorted sequence numbers.
func CompressLoss(seqs []SeqNum) []uint32 {
	var out []uint32
	for i := 0; i < len(seqs); {
		j := i
		for j+1 < len(seqs) && seqs[j+1] == seqs[j].Incr() {
			j++
		}
		if j == i {
			out = append(out, uint32(seqs[i]))
		} else {
			out = append(out, uint32(seqs[i])|controlBit, uint32(seqs[j]))
		}
		i = j + 1
	}
	return out
}

// LossRange is an inclusive range of lost sequence numbers.
type LossRange struct {
	From, To SeqNum
}

// Len returns the number of sequence numbers in the range.
func (r LossRange) Len() int { return int(r.To.BlindDiff(r.From)) + 1 }

// Ranges decodes the compressed loss list. Ranges that end before they start are skipped.
func (p *NakPacket) Ranges() []LossRange {
	var out []LossRange
	for i := 0; i < len(p.CmpLossInfo); i++ {
		v := p.CmpLossInfo[i]
		if v&controlBit == 0 || i+1 == len(p.CmpLossInfo) {
			s := SeqNum(v & MaxSeqNum)
			out = append(out, LossRange{From: s, To: s})
			continue
		}
		from, to := SeqNum(v&MaxSeqNum), SeqNum(p.CmpLossInfo[i+1]&MaxSeqNum)
		i++
		if to.Less(from) {
			continue
		}
		out = append(out, LossRange{From: from, To: to})
	}
	return out
}

// Losses expands the compressed loss list.
func (p *NakPacket) Losses() []SeqNum {
	var out []SeqNum
	for _, r := range p.Ranges() {
		for s := r.From; ; s = s.Incr() {
			out = append(out, s)
			if s == r.To {
				break
			}
		}
	}
	return out
}

// MsgDropReqPacket asks the receiver to give up on a message.
type MsgDropReqPacket struct {
	ctrl
	MsgID    uint32
	FirstSeq SeqNum
	LastSeq  SeqNum
}

// Type implements Packet.
func (p *MsgDropReqPacket) Type() Type { return TypeMsgDropReq }

func (p *MsgDropReqPacket) words() (uint32, uint32) {
	return controlWord(TypeMsgDropReq, 0), p.MsgID
}

func (p *MsgDropReqPacket) writeBody(r *buffer.Rope) {
	putUint32s(r, uint32(p.FirstSeq), uint32(p.LastSeq))
}

func (p *MsgDropReqPacket) readBody(info uint32, body buffer.Slice) error {
	p.MsgID = info
	var first, last uint32
	if err := readUint32s(&body, &first, &last); err != nil {
		return err
	}
	p.FirstSeq, p.LastSeq = SeqNum(first&MaxSeqNum), SeqNum(last&MaxSeqNum)
	return nil
}

// ErrPacket reports a peer side error condition.
type ErrPacket struct {
	ctrl
	ErrCode uint32
}

// Type implements Packet.
func (p *ErrPacket) Type() Type              { return TypeSpecialErr }
func (p *ErrPacket) words() (uint32, uint32) { return controlWord(TypeSpecialErr, 0), p.ErrCode }
func (p *ErrPacket) writeBody(*buffer.Rope)  {}
func (p *ErrPacket) readBody(info uint32, _ buffer.Slice) error {
	p.ErrCode = info
	return nil
}

// UserDefPacket carries an application defined control message.
type UserDefPacket struct {
	ctrl
	SubType uint16
	Data    []byte
}

// Type implements Packet.
func (p *UserDefPacket) Type() Type              { return TypeUserDef }
func (p *UserDefPacket) words() (uint32, uint32) { return controlWord(TypeUserDef, p.SubType), 0 }
func (p *UserDefPacket) writeBody(r *buffer.Rope) {
	r.Write(p.Data) // nolint: errcheck
}
func (p *UserDefPacket) readBody(_ uint32, body buffer.Slice) error {
	p.Data = body.Bytes()
	return nil
}
