package packet

import (
	"fmt"
	"net"

	"github.com/skycoin/udt/pkg/buffer"
)

// UDTVersion is the only protocol version spoken.
const UDTVersion = 4

// SocketType is the transfer mode requested in a handshake.
type SocketType uint32

// Socket types.
const (
	TypeStream SocketType = 1
	TypeDgram  SocketType = 2
)

func (t SocketType) String() string {
	switch t {
	case TypeStream:
		return "STREAM"
	case TypeDgram:
		return "DGRAM"
	default:
		return fmt.Sprintf("UNKNOWN:%d", uint32(t))
	}
}

// HandshakeReqType is the role of a handshake packet in the exchange.
type HandshakeReqType int32

// Handshake request types.
const (
	HsRequest    HandshakeReqType = 1
	HsRendezvous HandshakeReqType = 0
	HsResponse   HandshakeReqType = -1
	HsResponse2  HandshakeReqType = -2
	HsRefused    HandshakeReqType = 1002
)

func (t HandshakeReqType) String() string {
	switch t {
	case HsRequest:
		return "REQUEST"
	case HsRendezvous:
		return "RENDEZVOUS"
	case HsResponse:
		return "RESPONSE"
	case HsResponse2:
		return "RESPONSE2"
	case HsRefused:
		return "REFUSED"
	default:
		return fmt.Sprintf("UNKNOWN:%d", int32(t))
	}
}

// Known reports whether t is a defined request type.
func (t HandshakeReqType) Known() bool {
	switch t {
	case HsRequest, HsRendezvous, HsResponse, HsResponse2, HsRefused:
		return true
	}
	return false
}

const handshakeBodySize = 48

// HandshakePacket negotiates a connection.
type HandshakePacket struct {
	ctrl
	UDTVer         uint32
	SockType       SocketType
	InitPktSeq     SeqNum
	MaxPktSize     uint32
	MaxFlowWinSize uint32
	ReqType        HandshakeReqType
	SockID         uint32
	SynCookie      uint32
	SockAddr       net.IP // address of the receiver as seen by the sender
}

// Type implements Packet.
func (p *HandshakePacket) Type() Type { return TypeHandshake }

func (p *HandshakePacket) words() (uint32, uint32) { return controlWord(TypeHandshake, 0), 0 }

func (p *HandshakePacket) writeBody(r *buffer.Rope) {
	putUint32s(r, p.UDTVer, uint32(p.SockType), uint32(p.InitPktSeq), p.MaxPktSize,
		p.MaxFlowWinSize, uint32(p.ReqType), p.SockID, p.SynCookie)
	var addr [16]byte
	if ip4 := p.SockAddr.To4(); ip4 != nil {
		copy(addr[:], ip4)
	} else {
		copy(addr[:], p.SockAddr.To16())
	}
	r.Write(addr[:]) // nolint: errcheck
}

func (p *HandshakePacket) readBody(_ uint32, body buffer.Slice) error {
	if body.Len() < handshakeBodySize {
		return ErrTruncated
	}
	var sockType, initSeq, reqType uint32
	if err := readUint32s(&body, &p.UDTVer, &sockType, &initSeq, &p.MaxPktSize,
		&p.MaxFlowWinSize, &reqType, &p.SockID, &p.SynCookie); err != nil {
		return err
	}
	p.SockType = SocketType(sockType)
	p.InitPktSeq = SeqNum(initSeq & MaxSeqNum)
	p.ReqType = HandshakeReqType(int32(reqType))

	addr := body.PopSubstring(0, 16).Bytes()
	v4 := true
	for _, b := range addr[4:] {
		if b != 0 {
			v4 = false
			break
		}
	}
	if v4 {
		p.SockAddr = net.IPv4(addr[0], addr[1], addr[2], addr[3])
	} else {
		p.SockAddr = append(net.IP(nil), addr...)
	}
	return nil
}
