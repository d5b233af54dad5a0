// Package packet implements the wire format of UDT datagrams.
//
// Every datagram starts with a 16 byte big-endian header:
//
//	word 0: bit 31 set for control packets. Data: 31-bit sequence number.
//	        Control: 15-bit type, 16-bit subtype.
//	word 1: additional info (message number for data, type specific for control)
//	word 2: timestamp, microseconds since the sending multiplexer started
//	word 3: destination socket ID
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/skycoin/udt/pkg/buffer"
)

// HeaderSize is the size of the common packet header.
const HeaderSize = 16

const controlBit = 0x80000000

// Errors returned by Decode.
var (
	ErrTruncated   = errors.New("packet: truncated")
	ErrUnknownType = errors.New("packet: unknown control type")
)

// Type is the type of a packet.
type Type uint16

// Control packet types, as carried on the wire.
const (
	TypeHandshake  Type = 0x0
	TypeKeepAlive  Type = 0x1
	TypeAck        Type = 0x2
	TypeNak        Type = 0x3
	TypeCongestion Type = 0x4
	TypeShutdown   Type = 0x5
	TypeAck2       Type = 0x6
	TypeMsgDropReq Type = 0x7
	TypeSpecialErr Type = 0x8
	TypeUserDef    Type = 0x7FFF

	// TypeData never appears on the wire; data packets are told apart by word 0's top bit.
	TypeData Type = 0xFFFF
)

var typeNames = map[Type]string{
	TypeHandshake:  "HANDSHAKE",
	TypeKeepAlive:  "KEEPALIVE",
	TypeAck:        "ACK",
	TypeNak:        "NAK",
	TypeCongestion: "CONGESTION",
	TypeShutdown:   "SHUTDOWN",
	TypeAck2:       "ACK2",
	TypeMsgDropReq: "MSGDROPREQ",
	TypeSpecialErr: "SPECIALERR",
	TypeUserDef:    "USERDEF",
	TypeData:       "DATA",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN:%d", uint16(t))
}

// Header holds the fields common to every packet.
type Header struct {
	Timestamp uint32
	DstSockID uint32
}

// Packet is one UDT datagram.
type Packet interface {
	Type() Type
	Header() *Header

	// words returns the first two header words.
	words() (uint32, uint32)
	writeBody(r *buffer.Rope)
	readBody(info uint32, body buffer.Slice) error
}

// Encode serializes p into a new datagram.
func Encode(p Packet) []byte {
	r := buffer.NewRope(buffer.DefaultBlockSize)
	w0, w1 := p.words()
	h := p.Header()
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:], w0)
	binary.BigEndian.PutUint32(hdr[4:], w1)
	binary.BigEndian.PutUint32(hdr[8:], h.Timestamp)
	binary.BigEndian.PutUint32(hdr[12:], h.DstSockID)
	r.Write(hdr[:]) // nolint: errcheck
	p.writeBody(r)
	return r.Bytes()
}

// Decode parses one datagram.
func Decode(s buffer.Slice) (Packet, error) {
	if s.Len() < HeaderSize {
		return nil, ErrTruncated
	}
	hdr := s.PopSubstring(0, HeaderSize).Bytes()
	w0 := binary.BigEndian.Uint32(hdr[0:])
	w1 := binary.BigEndian.Uint32(hdr[4:])
	h := Header{
		Timestamp: binary.BigEndian.Uint32(hdr[8:]),
		DstSockID: binary.BigEndian.Uint32(hdr[12:]),
	}

	var p Packet
	if w0&controlBit == 0 {
		p = &DataPacket{Seq: SeqNum(w0)}
	} else {
		t := Type((w0 >> 16) & 0x7FFF)
		switch t {
		case TypeHandshake:
			p = &HandshakePacket{}
		case TypeKeepAlive:
			p = &KeepAlivePacket{}
		case TypeAck:
			p = &AckPacket{}
		case TypeNak:
			p = &NakPacket{}
		case TypeCongestion:
			p = &CongestionPacket{}
		case TypeShutdown:
			p = &ShutdownPacket{}
		case TypeAck2:
			p = &Ack2Packet{}
		case TypeMsgDropReq:
			p = &MsgDropReqPacket{}
		case TypeSpecialErr:
			p = &ErrPacket{}
		case TypeUserDef:
			p = &UserDefPacket{SubType: uint16(w0)}
		default:
			return nil, ErrUnknownType
		}
	}
	*p.Header() = h
	if err := p.readBody(w1, s); err != nil {
		return nil, err
	}
	return p, nil
}

func controlWord(t Type, subType uint16) uint32 {
	return controlBit | uint32(t)<<16 | uint32(subType)
}

func putUint32s(r *buffer.Rope, vs ...uint32) {
	var b [4]byte
	for _, v := range vs {
		binary.BigEndian.PutUint32(b[:], v)
		r.Write(b[:]) // nolint: errcheck
	}
}

func readUint32s(s *buffer.Slice, vs ...*uint32) error {
	if s.Len() < 4*len(vs) {
		return ErrTruncated
	}
	for _, v := range vs {
		*v = binary.BigEndian.Uint32(s.PopSubstring(0, 4).Bytes())
	}
	return nil
}

// MsgBoundary marks where a data packet sits within its message.
type MsgBoundary uint8

// Message boundaries.
const (
	MsgMiddle MsgBoundary = 0
	MsgLast   MsgBoundary = 1
	MsgFirst  MsgBoundary = 2
	MsgSolo   MsgBoundary = 3
)

// DataPacket carries application data.
type DataPacket struct {
	Hdr      Header
	Seq      SeqNum
	Boundary MsgBoundary
	InOrder  bool
	MsgID    uint32
	Data     []byte
}

// Type implements Packet.
func (p *DataPacket) Type() Type { return TypeData }

// Header implements Packet.
func (p *DataPacket) Header() *Header { return &p.Hdr }

func (p *DataPacket) words() (uint32, uint32) {
	info := uint32(p.Boundary)<<30 | p.MsgID&MaxMsgID
	if p.InOrder {
		info |= 1 << 29
	}
	return uint32(p.Seq) & MaxSeqNum, info
}

func (p *DataPacket) writeBody(r *buffer.Rope) {
	r.Write(p.Data) // nolint: errcheck
}

func (p *DataPacket) readBody(info uint32, body buffer.Slice) error {
	p.Boundary = MsgBoundary(info >> 30)
	p.InOrder = info&(1<<29) != 0
	p.MsgID = info & MaxMsgID
	p.Data = body.Bytes()
	return nil
}
