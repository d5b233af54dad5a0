package udt

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/skycoin/udt/internal/testhelpers"
	"github.com/skycoin/udt/pkg/buffer"
	"github.com/skycoin/udt/pkg/udt/packet"
)

func TestGetInstance(t *testing.T) {
	addr := freeUDPAddr(t)

	m1, err := getInstance(addr, nil)
	require.NoError(t, err)
	m2, err := getInstance(addr, nil)
	require.NoError(t, err)
	assert.True(t, m1 == m2, "same address shares a multiplexer")
	assert.Equal(t, 2, m1.info().Refs)

	infos := Multiplexers()
	found := false
	for _, info := range infos {
		if info.LocalAddr == m1.laddr.String() {
			found = true
		}
	}
	assert.True(t, found)

	m2.release()
	assert.False(t, m1.isClosed())
	m1.release()
	assert.True(t, m1.isClosed())
	assert.Nil(t, lookupMultiplexer(m1.key))

	m3, err := getInstance(addr, nil)
	require.NoError(t, err)
	assert.False(t, m1 == m3, "released address binds a fresh multiplexer")
	m3.release()
}

func TestGetInstanceConcurrent(t *testing.T) {
	const n = 16
	addr := freeUDPAddr(t)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		ms    = make(chan *Multiplexer, n)
		errs  = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			m, err := getInstance(addr, nil)
			if err != nil {
				errs <- err
				return
			}
			ms <- m
		}()
	}
	close(start)
	wg.Wait()
	close(ms)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var got []*Multiplexer
	for m := range ms {
		got = append(got, m)
	}
	require.Len(t, got, n)
	for _, m := range got[1:] {
		require.True(t, m == got[0], "concurrent callers share one multiplexer")
	}
	m := got[0]
	assert.Equal(t, n, m.info().Refs)
	assert.True(t, lookupMultiplexer(m.key) == m)

	for _, m := range got[:n-1] {
		m.release()
	}
	assert.False(t, m.isClosed())
	got[n-1].release()
	assert.True(t, m.isClosed())
	assert.Nil(t, lookupMultiplexer(m.key))
}

func TestGetInstanceEphemeral(t *testing.T) {
	m1, err := getInstance(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, nil)
	require.NoError(t, err)
	m2, err := getInstance(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, m1.laddr.Port, m2.laddr.Port)
	m1.release()
	m2.release()
}

func TestMultiplexerRouting(t *testing.T) {
	rec := newRecorder()
	l, err := Listen("127.0.0.1:0", &Config{Metrics: rec})
	require.NoError(t, err)
	defer func() { require.NoError(t, l.Close()) }()

	peer, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)
	defer func() { require.NoError(t, peer.Close()) }()

	send := func(p packet.Packet) {
		_, err := peer.WriteTo(packet.Encode(p), l.Addr())
		require.NoError(t, err)
	}

	send(&packet.DataPacket{Hdr: packet.Header{DstSockID: 0xDEAD}, Seq: 1, Boundary: packet.MsgSolo, Data: []byte("x")})
	testhelpers.WaitFor(t, time.Second, func() bool { return rec.droppedFor("unknown_socket") == 1 })

	send(&packet.KeepAlivePacket{})
	testhelpers.WaitFor(t, time.Second, func() bool { return rec.droppedFor("invalid_destination") == 1 })

	_, err = peer.WriteTo([]byte{1, 2, 3}, l.Addr())
	require.NoError(t, err)
	testhelpers.WaitFor(t, time.Second, func() bool { return rec.droppedFor("malformed") == 1 })

	// A fresh request is answered with a cookie challenge.
	send(&packet.HandshakePacket{
		UDTVer:         packet.UDTVersion,
		SockType:       packet.TypeStream,
		InitPktSeq:     42,
		MaxPktSize:     1500,
		MaxFlowWinSize: 64,
		ReqType:        packet.HsRequest,
		SockID:         7,
	})
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := peer.ReadFrom(buf)
	require.NoError(t, err)
	p, err := packet.Decode(buffer.NewSlice(buf[:n]))
	require.NoError(t, err)
	hs, ok := p.(*packet.HandshakePacket)
	require.True(t, ok)
	assert.Equal(t, uint32(7), hs.Header().DstSockID)
	assert.Equal(t, packet.HsRequest, hs.ReqType)
	assert.NotZero(t, hs.SynCookie)
	assert.Equal(t, packet.SeqNum(42), hs.InitPktSeq)
}

func TestSendPacketToSocketZero(t *testing.T) {
	m, err := getInstance(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, nil)
	require.NoError(t, err)
	defer m.release()

	err = m.sendPacket(m.laddr, 0, &packet.KeepAlivePacket{})
	assert.Equal(t, ErrInvalidDestination, err)
}

func TestSecondListener(t *testing.T) {
	l, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)

	_, err = Listen(l.Addr().String(), nil)
	assert.Equal(t, ErrAcceptorRegistered, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		errCh <- err
	}()
	require.NoError(t, l.Close())
	assert.Equal(t, ErrListenerClosed, <-errCh)
	assert.Equal(t, ErrListenerClosed, l.Close())
}
