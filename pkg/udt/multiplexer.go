package udt

import (
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skycoin/skycoin/src/cipher"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/udt/pkg/buffer"
	"github.com/skycoin/udt/pkg/metrics"
	"github.com/skycoin/udt/pkg/udt/packet"
)

const maxDatagramSize = 65536

type outPacket struct {
	dst       *net.UDPAddr
	dstSockID uint32
	p         packet.Packet
}

// Multiplexer owns one UDP socket and carries every connection bound to its
// local address. One goroutine reads and routes inbound datagrams, another
// writes outbound ones; nothing else touches the socket.
type Multiplexer struct {
	log     *logging.Logger
	conf    *Config
	metrics metrics.Recorder
	conn    *net.UDPConn
	laddr   *net.UDPAddr
	key     string
	started time.Time

	nextSockID uint32 // decremented atomically

	sockMx  sync.RWMutex
	sockets map[uint32]*Conn

	rdvMx      sync.Mutex
	rendezvous []*Conn

	accMx    sync.Mutex
	acceptor *Listener

	refMx  sync.Mutex
	refs   int
	closed bool

	outCh        chan outPacket
	doneCh       chan struct{}
	sockClosedCh chan struct{}
}

func newMultiplexer(conn *net.UDPConn, conf *Config) *Multiplexer {
	conf = conf.withDefaults()
	laddr := conn.LocalAddr().(*net.UDPAddr)
	return &Multiplexer{
		log:          conf.logger("udt_multiplexer"),
		conf:         conf,
		metrics:      conf.Metrics,
		conn:         conn,
		laddr:        laddr,
		key:          registryKey(laddr),
		started:      time.Now(),
		nextSockID:   binary.BigEndian.Uint32(cipher.RandByte(4)),
		sockets:      make(map[uint32]*Conn),
		outCh:        make(chan outPacket, outQueueSize),
		doneCh:       make(chan struct{}),
		sockClosedCh: make(chan struct{}),
	}
}

func (m *Multiplexer) start() {
	m.metrics.MultiplexerOpened()
	m.log.Infof("Multiplexer bound to %s", m.laddr)
	go m.readLoop()
	go m.writeLoop()
}

// LocalAddr returns the bound address.
func (m *Multiplexer) LocalAddr() *net.UDPAddr { return m.laddr }

func (m *Multiplexer) acquire() bool {
	m.refMx.Lock()
	defer m.refMx.Unlock()
	if m.closed {
		return false
	}
	m.refs++
	return true
}

// release drops one reference. The last release of an idle multiplexer tears it down.
func (m *Multiplexer) release() {
	m.refMx.Lock()
	m.refs--
	idle := m.refs <= 0 && !m.isLive() && !m.closed
	if idle {
		m.closed = true
	}
	m.refMx.Unlock()

	if idle {
		m.teardown()
	}
}

// isLive reports whether the multiplexer has a listener, a pending rendezvous
// or a connected socket.
func (m *Multiplexer) isLive() bool {
	m.accMx.Lock()
	listening := m.acceptor != nil
	m.accMx.Unlock()
	if listening {
		return true
	}

	m.rdvMx.Lock()
	rendezvous := len(m.rendezvous)
	m.rdvMx.Unlock()
	if rendezvous > 0 {
		return true
	}

	m.sockMx.RLock()
	defer m.sockMx.RUnlock()
	return len(m.sockets) > 0
}

func (m *Multiplexer) isClosed() bool {
	select {
	case <-m.doneCh:
		return true
	default:
		return false
	}
}

func (m *Multiplexer) teardown() {
	m.log.Infof("Closing multiplexer %s", m.laddr)
	close(m.doneCh)
	<-m.sockClosedCh
	deregister(m)
	m.metrics.MultiplexerClosed()
}

// startListen registers l as the acceptor. It fails if another acceptor is registered.
func (m *Multiplexer) startListen(l *Listener) bool {
	m.accMx.Lock()
	defer m.accMx.Unlock()
	if m.acceptor != nil && m.acceptor != l {
		return false
	}
	m.acceptor = l
	return true
}

// stopListen unregisters l. It fails if l is not the registered acceptor.
func (m *Multiplexer) stopListen(l *Listener) bool {
	m.accMx.Lock()
	defer m.accMx.Unlock()
	if m.acceptor != l {
		return false
	}
	m.acceptor = nil
	return true
}

func (m *Multiplexer) getAcceptor() *Listener {
	m.accMx.Lock()
	defer m.accMx.Unlock()
	return m.acceptor
}

// startRendezvous adds c to the rendezvous list.
func (m *Multiplexer) startRendezvous(c *Conn) bool {
	m.rdvMx.Lock()
	defer m.rdvMx.Unlock()
	for _, r := range m.rendezvous {
		if r == c || (r.sockID != c.sockID && sameAddr(r.raddr, c.raddr)) {
			return false
		}
	}
	m.rendezvous = append(m.rendezvous, c)
	return true
}

// endRendezvous removes c from the rendezvous list and reports whether it was there.
func (m *Multiplexer) endRendezvous(c *Conn) bool {
	m.rdvMx.Lock()
	defer m.rdvMx.Unlock()
	for i, r := range m.rendezvous {
		if r == c {
			m.rendezvous = append(m.rendezvous[:i], m.rendezvous[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Multiplexer) rendezvousConns() []*Conn {
	m.rdvMx.Lock()
	defer m.rdvMx.Unlock()
	return append([]*Conn(nil), m.rendezvous...)
}

// newSocket creates a connection with a fresh socket ID and puts it into the socket table.
// The connection holds a reference to the multiplexer until it finishes.
func (m *Multiplexer) newSocket(raddr *net.UDPAddr, role connRole, mode Mode, conf *Config) (*Conn, error) {
	if !m.acquire() {
		return nil, ErrClosed
	}

	m.sockMx.Lock()
	var id uint32
	for {
		id = atomic.AddUint32(&m.nextSockID, ^uint32(0))
		if _, used := m.sockets[id]; id != 0 && !used {
			break
		}
	}
	c := newConn(m, id, raddr, role, mode, conf)
	m.sockets[id] = c
	m.sockMx.Unlock()

	m.metrics.SocketOpened()
	return c, nil
}

// closeSocket removes a socket from the socket table and reports whether it was there.
func (m *Multiplexer) closeSocket(id uint32) bool {
	m.sockMx.Lock()
	_, ok := m.sockets[id]
	delete(m.sockets, id)
	m.sockMx.Unlock()

	if ok {
		m.metrics.SocketClosed()
	}
	return ok
}

func (m *Multiplexer) getSocket(id uint32) *Conn {
	m.sockMx.RLock()
	defer m.sockMx.RUnlock()
	return m.sockets[id]
}

// sendPacket queues p for transmission. It blocks while the outbound queue is full.
func (m *Multiplexer) sendPacket(dst *net.UDPAddr, dstSockID uint32, p packet.Packet) error {
	if dstSockID == 0 && p.Type() != packet.TypeHandshake {
		m.log.Errorf("Refusing to send %s to socket 0 at %s", p.Type(), dst)
		return ErrInvalidDestination
	}
	select {
	case m.outCh <- outPacket{dst: dst, dstSockID: dstSockID, p: p}:
		return nil
	case <-m.doneCh:
		return ErrClosed
	}
}

func (m *Multiplexer) timestamp() uint32 {
	return uint32(time.Since(m.started) / time.Microsecond)
}

// writeLoop owns the socket's lifetime: once the multiplexer is done it flushes
// what is queued and closes the socket.
func (m *Multiplexer) writeLoop() {
	defer func() {
		if err := m.conn.Close(); err != nil {
			m.log.WithError(err).Warn("Failed to close UDP socket")
		}
		close(m.sockClosedCh)
	}()
	for {
		select {
		case op := <-m.outCh:
			m.write(op)
		case <-m.doneCh:
			for {
				select {
				case op := <-m.outCh:
					m.write(op)
				default:
					return
				}
			}
		}
	}
}

func (m *Multiplexer) write(op outPacket) {
	h := op.p.Header()
	h.DstSockID = op.dstSockID
	h.Timestamp = m.timestamp()
	raw := packet.Encode(op.p)
	if _, err := m.conn.WriteToUDP(raw, op.dst); err != nil {
		m.log.WithError(err).Debugf("Failed to write %s to %s", op.p.Type(), op.dst)
		return
	}
	m.metrics.PacketSent(op.p.Type().String(), len(raw))
}

func (m *Multiplexer) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if m.isClosed() {
				return
			}
			m.log.WithError(err).Debug("Failed to read datagram")
			continue
		}
		p, err := packet.Decode(buffer.NewSlice(buf[:n]))
		if err != nil {
			m.log.WithError(err).Debugf("Dropping malformed datagram from %s", from)
			m.metrics.PacketDropped("malformed")
			continue
		}
		m.metrics.PacketReceived(p.Type().String(), n)
		m.route(p, from)
	}
}

// route delivers an inbound packet. Socket ID 0 is reserved for handshakes, which
// go to the pending rendezvous connections first and then to the acceptor.
func (m *Multiplexer) route(p packet.Packet, from *net.UDPAddr) {
	dst := p.Header().DstSockID
	if dst == 0 {
		hs, ok := p.(*packet.HandshakePacket)
		if !ok {
			m.log.Warnf("Dropping %s addressed to socket 0 from %s", p.Type(), from)
			m.metrics.PacketDropped("invalid_destination")
			return
		}
		for _, c := range m.rendezvousConns() {
			if c.readHandshake(hs, from) {
				return
			}
		}
		if l := m.getAcceptor(); l != nil && l.readHandshake(hs, from) {
			return
		}
		m.log.Debugf("No taker for %s handshake from %s", hs.ReqType, from)
		m.metrics.PacketDropped("unsolicited_handshake")
		return
	}

	c := m.getSocket(dst)
	if c == nil {
		m.log.Debugf("Dropping %s for unknown socket %d from %s", p.Type(), dst, from)
		m.metrics.PacketDropped("unknown_socket")
		return
	}
	c.readPacket(p, from)
}

func (m *Multiplexer) info() MultiplexerInfo {
	m.sockMx.RLock()
	sockets := len(m.sockets)
	m.sockMx.RUnlock()
	m.refMx.Lock()
	refs := m.refs
	m.refMx.Unlock()
	return MultiplexerInfo{
		LocalAddr:  m.laddr.String(),
		Sockets:    sockets,
		Listening:  m.getAcceptor() != nil,
		Rendezvous: len(m.rendezvousConns()),
		Refs:       refs,
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
