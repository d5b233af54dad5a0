package packet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/udt/pkg/buffer"
)

func decode(t *testing.T, p Packet) Packet {
	out, err := Decode(buffer.NewSlice(Encode(p)))
	require.NoError(t, err)
	require.Equal(t, p.Type(), out.Type())
	return out
}

func TestSeqNum(t *testing.T) {
	cases := []struct {
		a, b SeqNum
		diff int32
	}{
		{10, 5, 5},
		{5, 10, -5},
		{0, MaxSeqNum, 1},
		{MaxSeqNum, 0, -1},
		{3, MaxSeqNum - 2, 6},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.diff, tc.a.BlindDiff(tc.b), "%d - %d", tc.a, tc.b)
		assert.Equal(t, tc.diff < 0, tc.a.Less(tc.b))
	}

	assert.Equal(t, SeqNum(0), SeqNum(MaxSeqNum).Incr())
	assert.Equal(t, SeqNum(MaxSeqNum), SeqNum(0).Decr())
	assert.Equal(t, SeqNum(4), SeqNum(MaxSeqNum-5).Add(10))
	assert.Equal(t, uint32(0), NextMsgID(MaxMsgID))
}

func TestDataPacket(t *testing.T) {
	p := &DataPacket{
		Hdr:      Header{Timestamp: 1234, DstSockID: 99},
		Seq:      MaxSeqNum,
		Boundary: MsgFirst,
		InOrder:  true,
		MsgID:    MaxMsgID,
		Data:     []byte("payload"),
	}
	enc := Encode(p)
	assert.Len(t, enc, HeaderSize+7)
	assert.Zero(t, enc[0]&0x80, "data packets have the control bit clear")

	got := decode(t, p).(*DataPacket)
	assert.Equal(t, p, got)
}

func TestHandshakePacket(t *testing.T) {
	for _, ip := range []net.IP{net.ParseIP("192.168.1.7"), net.ParseIP("2001:db8::1")} {
		p := &HandshakePacket{
			UDTVer:         UDTVersion,
			SockType:       TypeDgram,
			InitPktSeq:     12345,
			MaxPktSize:     1500,
			MaxFlowWinSize: 8192,
			ReqType:        HsRefused,
			SockID:         0xDEADBEEF,
			SynCookie:      42,
			SockAddr:       ip,
		}
		p.Hdr.DstSockID = 7

		got := decode(t, p).(*HandshakePacket)
		assert.True(t, ip.Equal(got.SockAddr))
		got.SockAddr = p.SockAddr
		assert.Equal(t, p, got)
	}

	_, err := Decode(buffer.NewSlice(Encode(&HandshakePacket{})[:HeaderSize+10]))
	assert.Equal(t, ErrTruncated, err)
}

func TestAckPacket(t *testing.T) {
	cases := map[string]*AckPacket{
		"light": {AckSeqNo: 0, PktSeqHi: 77, Light: true},
		"full":  {AckSeqNo: 3, PktSeqHi: 100, RTT: 1000, RTTVar: 500, BuffAvail: 64},
		"rates": {AckSeqNo: 4, PktSeqHi: 200, RTT: 1, RTTVar: 2, BuffAvail: 3,
			IncludeRate: true, PktRecvRate: 4, EstLinkCap: 5},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, p, decode(t, p))
		})
	}
}

func TestControlPackets(t *testing.T) {
	cases := []Packet{
		&KeepAlivePacket{},
		&ShutdownPacket{},
		&CongestionPacket{},
		&Ack2Packet{AckSeqNo: 9},
		&ErrPacket{ErrCode: 3},
		&MsgDropReqPacket{MsgID: 5, FirstSeq: 10, LastSeq: 12},
		&UserDefPacket{SubType: 0xBEEF, Data: []byte{1, 2}},
		&NakPacket{CmpLossInfo: []uint32{1, 2}},
	}
	for _, p := range cases {
		t.Run(p.Type().String(), func(t *testing.T) {
			p.Header().DstSockID = 1
			p.Header().Timestamp = 2
			assert.Equal(t, p, decode(t, p))
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(buffer.NewSlice(make([]byte, HeaderSize-1)))
	assert.Equal(t, ErrTruncated, err)

	raw := Encode(&KeepAlivePacket{})
	raw[1] = 0x42
	_, err = Decode(buffer.NewSlice(raw))
	assert.Equal(t, ErrUnknownType, err)
}

func TestNakCompression(t *testing.T) {
	seqs := []SeqNum{1, 2, 3, 7, 9, 10, MaxSeqNum - 1, MaxSeqNum, 0, 1}
	cmp := CompressLoss(seqs[:6])
	assert.Equal(t, []uint32{1 | controlBit, 3, 7, 9 | controlBit, 10}, cmp)

	nak := &NakPacket{CmpLossInfo: CompressLoss(seqs)}
	got := decode(t, nak).(*NakPacket)
	assert.Equal(t, seqs, got.Losses())
}

func TestNakRanges(t *testing.T) {
	p := &NakPacket{CmpLossInfo: []uint32{
		5,
		10 | controlBit, 12,
		20 | controlBit, 15, // ends before it starts
		MaxSeqNum | controlBit, 1, // wraps
	}}
	assert.Equal(t, []LossRange{
		{From: 5, To: 5},
		{From: 10, To: 12},
		{From: MaxSeqNum, To: 1},
	}, p.Ranges())
	assert.Equal(t, 3, p.Ranges()[2].Len())
	assert.Equal(t, []SeqNum{5, 10, 11, 12, MaxSeqNum, 0, 1}, p.Losses())
}
