package udt

import (
	"log"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

// freeUDPAddr returns a loopback address whose port was free a moment ago.
func freeUDPAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	addr := conn.LocalAddr().(*net.UDPAddr)
	require.NoError(t, conn.Close())
	return addr
}

// recorder counts the events the tests look at.
type recorder struct {
	mu        sync.Mutex
	dropped   map[string]int
	handshake map[string]int
	retrans   int
}

func newRecorder() *recorder {
	return &recorder{dropped: make(map[string]int), handshake: make(map[string]int)}
}

func (r *recorder) MultiplexerOpened()         {}
func (r *recorder) MultiplexerClosed()         {}
func (r *recorder) SocketOpened()              {}
func (r *recorder) SocketClosed()              {}
func (r *recorder) PacketSent(string, int)     {}
func (r *recorder) PacketReceived(string, int) {}
func (r *recorder) RTT(time.Duration)          {}

func (r *recorder) PacketDropped(reason string) {
	r.mu.Lock()
	r.dropped[reason]++
	r.mu.Unlock()
}

func (r *recorder) Retransmitted(n int) {
	r.mu.Lock()
	r.retrans += n
	r.mu.Unlock()
}

func (r *recorder) Handshake(result string) {
	r.mu.Lock()
	r.handshake[result]++
	r.mu.Unlock()
}

func (r *recorder) droppedFor(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[reason]
}

func (r *recorder) handshakesFor(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handshake[result]
}

// idleConn returns a socket on a fresh multiplexer whose remote end is a
// plain UDP socket that never answers. The returned func closes both.
func idleConn(t *testing.T, mode Mode) (*Conn, func()) {
	t.Helper()
	peer, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)

	m, err := getInstance(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, nil)
	require.NoError(t, err)
	defer m.release()

	c, err := m.newSocket(peer.LocalAddr().(*net.UDPAddr), roleClient, mode, m.conf)
	require.NoError(t, err)
	c.mx.Lock()
	c.farSockID = 7
	c.mx.Unlock()

	return c, func() {
		c.abort()
		require.NoError(t, peer.Close())
	}
}
