package udt

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skycoin/skycoin/src/cipher"

	"github.com/skycoin/udt/internal/ioutil"
	"github.com/skycoin/udt/pkg/buffer"
	"github.com/skycoin/udt/pkg/udt/packet"
)

// ConnState is the state of a connection.
type ConnState int

// Connection states.
const (
	StateInit ConnState = iota
	StateRendezvous
	StateConnecting
	StateConnected
	StateClosed
	StateRefused
	StateCorrupted
	StateTimeout
)

var stateNames = []string{
	StateInit:       "INIT",
	StateRendezvous: "RENDEZVOUS",
	StateConnecting: "CONNECTING",
	StateConnected:  "CONNECTED",
	StateClosed:     "CLOSED",
	StateRefused:    "REFUSED",
	StateCorrupted:  "CORRUPTED",
	StateTimeout:    "TIMEOUT",
}

func (s ConnState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("UNKNOWN:%d", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s ConnState) Terminal() bool { return s >= StateClosed }

type connRole int

const (
	roleClient connRole = iota
	roleServer
	roleRendezvous
)

func (r connRole) String() string {
	switch r {
	case roleClient:
		return "client"
	case roleServer:
		return "server"
	default:
		return "rendezvous"
	}
}

// Mode selects between byte stream and message delivery.
type Mode int

// Transfer modes.
const (
	StreamMode Mode = iota
	DatagramMode
)

func (m Mode) String() string {
	if m == DatagramMode {
		return "datagram"
	}
	return "stream"
}

func (m Mode) sockType() packet.SocketType {
	if m == DatagramMode {
		return packet.TypeDgram
	}
	return packet.TypeStream
}

func modeFromSockType(t packet.SocketType) (Mode, bool) {
	switch t {
	case packet.TypeStream:
		return StreamMode, true
	case packet.TypeDgram:
		return DatagramMode, true
	default:
		return 0, false
	}
}

type delivered struct {
	data []byte
	pkts int
}

// Stats is a snapshot of connection statistics.
type Stats struct {
	RTT          time.Duration
	RTTVar       time.Duration
	DeliveryRate uint32 // packets per second, as reported by the peer
	Bandwidth    uint32 // packets per second, as estimated by the peer
	PktSent      uint64
	PktRecv      uint64
	PktRetrans   uint64
	PktLoss      uint64
	BytesSent    uint64
	BytesRecv    uint64
}

// Conn is one reliable connection carried by a Multiplexer. It implements net.Conn.
type Conn struct {
	log    logrus.FieldLogger
	m      *Multiplexer
	conf   *Config
	sockID uint32
	raddr  *net.UDPAddr
	role   connRole
	mode   Mode

	mx          sync.Mutex // guards the handshake fields below
	state       ConnState
	connErr     error
	finished    bool
	farSockID   uint32
	initSeq     packet.SeqNum // first sequence number we send
	farInitSeq  packet.SeqNum // first sequence number the peer sends
	mtu         uint32
	peerFlowWin uint32
	cookie      uint32
	connectedCh chan struct{} // closed once the handshake has an outcome
	onFinish    func()

	rttMx  sync.RWMutex
	rtt    uint32 // microseconds
	rttVar uint32 // microseconds

	rateMx       sync.RWMutex
	deliveryRate uint32
	bandwidth    uint32

	recvCh    chan packet.Packet
	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	closed    ioutil.Latch
	doneCh    chan struct{}

	msgMx      sync.Mutex
	msgs       []delivered
	queuedPkts int
	msgNotify  chan struct{}

	readMx  sync.Mutex
	readBuf buffer.Slice // rest of a stream message a previous Read did not consume

	readDeadline  *ioutil.Deadline
	writeDeadline *ioutil.Deadline

	rdvOnce sync.Once

	pktSent, pktRecv, pktRetrans, pktLoss, bytesSent, bytesRecv uint64

	// Owned by the serve goroutine.
	cc             CongestionControl
	snd            *sender
	rcv            *receiver
	hsDeadline     time.Time
	nextHs         time.Time
	closing        bool
	lingerDeadline time.Time
}

func newConn(m *Multiplexer, id uint32, raddr *net.UDPAddr, role connRole, mode Mode, conf *Config) *Conn {
	return &Conn{
		log:           conf.logger("udt_conn").WithField("sock_id", id),
		m:             m,
		conf:          conf,
		sockID:        id,
		raddr:         raddr,
		role:          role,
		mode:          mode,
		initSeq:       randSeq(),
		mtu:           conf.MaxPacketSize,
		connectedCh:   make(chan struct{}),
		rtt:           100000,
		rttVar:        50000,
		deliveryRate:  16,
		bandwidth:     1,
		recvCh:        make(chan packet.Packet, recvQueueSize),
		sendCh:        make(chan []byte, sendQueueSize),
		closeCh:       make(chan struct{}),
		doneCh:        make(chan struct{}),
		msgNotify:     make(chan struct{}, 1),
		readDeadline:  ioutil.NewDeadline(),
		writeDeadline: ioutil.NewDeadline(),
	}
}

func randSeq() packet.SeqNum {
	return packet.SeqNum(binary.BigEndian.Uint32(cipher.RandByte(4)) & packet.MaxSeqNum)
}

// SocketID returns the local socket ID.
func (c *Conn) SocketID() uint32 { return c.sockID }

// Mode returns the transfer mode.
func (c *Conn) Mode() Mode { return c.mode }

// State returns the current state.
func (c *Conn) State() ConnState {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

// LocalAddr implements net.Conn.
func (c *Conn) LocalAddr() net.Addr { return c.m.laddr }

// RemoteAddr implements net.Conn.
func (c *Conn) RemoteAddr() net.Addr { return c.raddr }

// SetDeadline implements net.Conn.
func (c *Conn) SetDeadline(t time.Time) error {
	c.readDeadline.Set(t)
	c.writeDeadline.Set(t)
	return nil
}

// SetReadDeadline implements net.Conn.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.readDeadline.Set(t)
	return nil
}

// SetWriteDeadline implements net.Conn.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline.Set(t)
	return nil
}

// Done returns a channel that is closed once the connection has finished.
func (c *Conn) Done() <-chan struct{} { return c.doneCh }

func (c *Conn) isDone() bool {
	select {
	case <-c.doneCh:
		return true
	default:
		return false
	}
}

// Read reads data. In stream mode it returns whatever is available, up to len(p).
// In datagram mode every Read returns one whole message; a message longer than p is
// cut to len(p), the rest discarded and ErrMessageTruncated returned.
// Once the peer has closed the connection and all data has been read, Read returns io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMx.Lock()
	defer c.readMx.Unlock()

	for {
		if c.closed.Tripped() {
			return 0, ErrClosed
		}
		if c.readDeadline.Expired() {
			return 0, ErrTimeout
		}
		if c.mode == StreamMode && !c.readBuf.Empty() {
			n := copy(p, c.readBuf.Bytes())
			c.readBuf.PopSubstring(0, n)
			return n, nil
		}
		if msg, ok := c.popMessage(); ok {
			n := copy(p, msg)
			if n < len(msg) {
				if c.mode == DatagramMode {
					return n, ErrMessageTruncated
				}
				c.readBuf = buffer.NewSlice(msg[n:])
			}
			return n, nil
		}
		if c.isDone() {
			return 0, c.readErr()
		}

		select {
		case <-c.msgNotify:
		case <-c.doneCh:
		case <-c.closeCh:
		case <-c.readDeadline.Wait():
		}
	}
}

func (c *Conn) readErr() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.connErr == nil {
		return io.EOF
	}
	return c.connErr
}

func (c *Conn) writeErr() error {
	if err := c.readErr(); err != io.EOF {
		return err
	}
	return ErrClosed
}

// Write queues b for delivery. In datagram mode b is sent as one message.
func (c *Conn) Write(b []byte) (int, error) {
	if c.closed.Tripped() {
		return 0, ErrClosed
	}
	if c.isDone() {
		return 0, c.writeErr()
	}
	if c.writeDeadline.Expired() {
		return 0, ErrTimeout
	}
	if len(b) == 0 {
		return 0, nil
	}
	if c.mode == DatagramMode && len(b) > c.MaxMessageSize() {
		return 0, ErrMessageTooLarge
	}

	msg := make([]byte, len(b))
	copy(msg, b)
	select {
	case c.sendCh <- msg:
		return len(b), nil
	case <-c.closeCh:
		return 0, ErrClosed
	case <-c.doneCh:
		return 0, c.writeErr()
	case <-c.writeDeadline.Wait():
		return 0, ErrTimeout
	}
}

// MaxMessageSize is the largest datagram both receive windows can hold at once.
// It is only meaningful in datagram mode and may shrink once the peer is known.
func (c *Conn) MaxMessageSize() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	win := c.conf.MaxFlowWinSize
	if c.peerFlowWin != 0 && c.peerFlowWin < win {
		win = c.peerFlowWin
	}
	return int(win/2) * payloadSize(c.mtu)
}

func payloadSize(mtu uint32) int {
	return int(mtu) - udpOverhead - packet.HeaderSize
}

// Close flushes unacknowledged data for up to Config.LingerTime, tells the peer
// and releases the socket. It unblocks pending Read and Write calls.
func (c *Conn) Close() error {
	if !c.closed.Trip() {
		return ErrClosed
	}
	c.closeOnce.Do(func() { close(c.closeCh) })
	<-c.doneCh
	return nil
}

// abort ends the connection without lingering.
func (c *Conn) abort() {
	c.closed.Trip()
	c.mx.Lock()
	connected := c.state == StateConnected
	c.mx.Unlock()
	if connected {
		c.sendControl(&packet.ShutdownPacket{})
	}
	c.finish(StateClosed, ErrClosed)
}

// finish moves the connection into a terminal state and releases its resources.
// Only the first call has an effect.
func (c *Conn) finish(state ConnState, err error) {
	c.mx.Lock()
	if c.finished {
		c.mx.Unlock()
		return
	}
	c.finished = true
	wasConnected := c.state == StateConnected
	if !c.state.Terminal() {
		c.state = state
		c.connErr = err
	}
	state = c.state
	c.closeConnectedLocked()
	onFinish := c.onFinish
	c.mx.Unlock()

	if !wasConnected {
		c.m.metrics.Handshake(state.String())
	}
	c.log.WithError(err).Debugf("Connection to %s finished in state %s", c.raddr, state)

	c.m.closeSocket(c.sockID)
	if c.role == roleRendezvous {
		c.m.endRendezvous(c)
	}
	if onFinish != nil {
		onFinish()
	}
	close(c.doneCh)
	c.m.release()
}

func (c *Conn) closeConnectedLocked() {
	select {
	case <-c.connectedCh:
	default:
		close(c.connectedCh)
	}
}

func (c *Conn) pushMessage(data []byte, pkts int) {
	c.msgMx.Lock()
	c.msgs = append(c.msgs, delivered{data: data, pkts: pkts})
	c.queuedPkts += pkts
	c.msgMx.Unlock()

	select {
	case c.msgNotify <- struct{}{}:
	default:
	}
}

func (c *Conn) popMessage() ([]byte, bool) {
	c.msgMx.Lock()
	defer c.msgMx.Unlock()
	if len(c.msgs) == 0 {
		return nil, false
	}
	d := c.msgs[0]
	c.msgs[0] = delivered{}
	c.msgs = c.msgs[1:]
	c.queuedPkts -= d.pkts
	return d.data, true
}

func (c *Conn) queuedPackets() int {
	c.msgMx.Lock()
	defer c.msgMx.Unlock()
	return c.queuedPkts
}

// applyRTT folds a locally measured round trip sample (microseconds) into the estimate.
func (c *Conn) applyRTT(sample uint32) {
	c.rttMx.Lock()
	defer c.rttMx.Unlock()
	diff := int64(c.rtt) - int64(sample)
	if diff < 0 {
		diff = -diff
	}
	c.rttVar = uint32((3*int64(c.rttVar) + diff) >> 2)
	c.rtt = uint32((7*int64(c.rtt) + int64(sample)) >> 3)
}

// setRTT adopts the estimate reported by the peer.
func (c *Conn) setRTT(rtt, rttVar uint32) {
	if rtt == 0 {
		return
	}
	c.rttMx.Lock()
	c.rtt, c.rttVar = rtt, rttVar
	c.rttMx.Unlock()
}

func (c *Conn) getRTT() (rtt, rttVar uint32) {
	c.rttMx.RLock()
	defer c.rttMx.RUnlock()
	return c.rtt, c.rttVar
}

// applyReceiveRates folds the peer reported delivery rate and bandwidth into the estimates.
func (c *Conn) applyReceiveRates(deliveryRate, bandwidth uint32) {
	c.rateMx.Lock()
	defer c.rateMx.Unlock()
	if deliveryRate > 0 {
		c.deliveryRate = uint32((int64(c.deliveryRate)*7 + int64(deliveryRate)) >> 3)
	}
	if bandwidth > 0 {
		c.bandwidth = uint32((int64(c.bandwidth)*7 + int64(bandwidth)) >> 3)
	}
}

func (c *Conn) getReceiveRates() (deliveryRate, bandwidth uint32) {
	c.rateMx.RLock()
	defer c.rateMx.RUnlock()
	return c.deliveryRate, c.bandwidth
}

// Stats returns a snapshot of the connection statistics.
func (c *Conn) Stats() Stats {
	rtt, rttVar := c.getRTT()
	rate, bw := c.getReceiveRates()
	return Stats{
		RTT:          time.Duration(rtt) * time.Microsecond,
		RTTVar:       time.Duration(rttVar) * time.Microsecond,
		DeliveryRate: rate,
		Bandwidth:    bw,
		PktSent:      atomic.LoadUint64(&c.pktSent),
		PktRecv:      atomic.LoadUint64(&c.pktRecv),
		PktRetrans:   atomic.LoadUint64(&c.pktRetrans),
		PktLoss:      atomic.LoadUint64(&c.pktLoss),
		BytesSent:    atomic.LoadUint64(&c.bytesSent),
		BytesRecv:    atomic.LoadUint64(&c.bytesRecv),
	}
}

func (c *Conn) remote() (*net.UDPAddr, uint32) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.raddr, c.farSockID
}

func (c *Conn) sendControl(p packet.Packet) {
	raddr, far := c.remote()
	if err := c.m.sendPacket(raddr, far, p); err != nil {
		c.log.WithError(err).Debugf("Failed to send %s", p.Type())
	}
}

// readPacket is called by the multiplexer for packets addressed to this socket.
// Packets go to the connection's goroutine through a bounded queue; when it is full
// the oldest queued packet is dropped, and the protocol recovers it like a wire loss.
func (c *Conn) readPacket(p packet.Packet, from *net.UDPAddr) {
	if !sameAddr(from, c.raddr) {
		c.log.Debugf("Dropping %s from unexpected address %s", p.Type(), from)
		c.m.metrics.PacketDropped("spoofed")
		return
	}
	if hs, ok := p.(*packet.HandshakePacket); ok {
		c.readHandshake(hs, from)
		return
	}
	if c.role == roleRendezvous {
		c.rdvOnce.Do(func() { c.m.endRendezvous(c) })
	}

	select {
	case c.recvCh <- p:
		return
	default:
	}
	select {
	case <-c.recvCh:
		c.m.metrics.PacketDropped("queue_full")
	default:
	}
	select {
	case c.recvCh <- p:
	default:
		c.m.metrics.PacketDropped("queue_full")
	}
}
