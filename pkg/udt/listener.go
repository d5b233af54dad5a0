package udt

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/skycoin/skycoin/src/cipher"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/udt/pkg/udt/packet"
)

const cookieBucket = time.Minute

type acceptKey struct {
	addr   string
	sockID uint32
}

// Listener accepts incoming connections on a multiplexer. It implements net.Listener.
//
// Connection requests are answered with a cookie challenge derived from the
// requester's address, so no state is kept for a peer until it echoes the cookie back.
type Listener struct {
	log    *logging.Logger
	m      *Multiplexer
	conf   *Config
	secret []byte

	mx       sync.Mutex
	accepted map[acceptKey]*Conn

	acceptCh  chan *Conn
	doneCh    chan struct{}
	closeOnce sync.Once
}

// Listen binds laddr, or joins the multiplexer already bound to it, and starts
// accepting connections in either mode.
func Listen(laddr string, conf *Config) (*Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conf = conf.withDefaults()
	m, err := getInstance(addr, conf)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		log:      conf.logger("udt_listener"),
		m:        m,
		conf:     conf,
		secret:   cipher.RandByte(32),
		accepted: make(map[acceptKey]*Conn),
		acceptCh: make(chan *Conn, conf.AcceptQueueSize),
		doneCh:   make(chan struct{}),
	}
	if !m.startListen(l) {
		m.release()
		return nil, ErrAcceptorRegistered
	}
	l.log.Infof("Listening on %s", m.laddr)
	return l, nil
}

// Addr implements net.Listener.
func (l *Listener) Addr() net.Addr { return l.m.laddr }

// Accept implements net.Listener.
func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.AcceptContext(context.Background())
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AcceptContext waits for the next connection until ctx is done or the listener closes.
func (l *Listener) AcceptContext(ctx context.Context) (*Conn, error) {
	select {
	case c := <-l.acceptCh:
		return c, nil
	case <-l.doneCh:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting. Connections already accepted stay open; queued ones are closed.
func (l *Listener) Close() error {
	err := ErrListenerClosed
	l.closeOnce.Do(func() {
		err = nil

		// Closing under mx keeps readHandshake from queueing after the drain.
		l.mx.Lock()
		close(l.doneCh)
		var queued []*Conn
		for drained := false; !drained; {
			select {
			case c := <-l.acceptCh:
				queued = append(queued, c)
			default:
				drained = true
			}
		}
		l.mx.Unlock()

		l.m.stopListen(l)
		for _, c := range queued {
			c.abort()
		}
		l.log.Infof("Stopped listening on %s", l.m.laddr)
		l.m.release()
	})
	return err
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.doneCh:
		return true
	default:
		return false
	}
}

func (l *Listener) cookie(from *net.UDPAddr, bucket int64) uint32 {
	b := make([]byte, 0, len(l.secret)+len(from.String())+8)
	b = append(b, l.secret...)
	b = append(b, from.String()...)
	b = append(b, make([]byte, 8)...)
	binary.BigEndian.PutUint64(b[len(b)-8:], uint64(bucket))
	h := cipher.SumSHA256(b)
	v := binary.BigEndian.Uint32(h[:4])
	if v == 0 {
		v = 1
	}
	return v
}

func (l *Listener) checkCookie(cookie uint32, from *net.UDPAddr, now time.Time) bool {
	bucket := now.Unix() / int64(cookieBucket/time.Second)
	return cookie == l.cookie(from, bucket) || cookie == l.cookie(from, bucket-1)
}

func (l *Listener) forget(key acceptKey, c *Conn) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.accepted[key] == c {
		delete(l.accepted, key)
	}
}

// readHandshake processes a handshake addressed to socket 0 on the multiplexer's
// read goroutine. It reports whether the packet was a connection request.
func (l *Listener) readHandshake(p *packet.HandshakePacket, from *net.UDPAddr) bool {
	if p.ReqType != packet.HsRequest || l.isClosed() {
		return false
	}
	if p.UDTVer != packet.UDTVersion || p.MaxPktSize < minPacketSize || p.MaxFlowWinSize < minFlowWinSize || p.SockID == 0 {
		l.log.Debugf("Ignoring malformed request from %s", from)
		return true
	}
	mode, ok := modeFromSockType(p.SockType)
	if !ok {
		l.log.Debugf("Ignoring request for socket type %s from %s", p.SockType, from)
		return true
	}

	now := time.Now()
	if p.SynCookie == 0 || !l.checkCookie(p.SynCookie, from, now) {
		challenge := &packet.HandshakePacket{
			UDTVer:         packet.UDTVersion,
			SockType:       p.SockType,
			InitPktSeq:     p.InitPktSeq,
			MaxPktSize:     l.conf.MaxPacketSize,
			MaxFlowWinSize: l.conf.MaxFlowWinSize,
			ReqType:        packet.HsRequest,
			SynCookie:      l.cookie(from, now.Unix()/int64(cookieBucket/time.Second)),
			SockAddr:       from.IP,
		}
		l.send(from, p.SockID, challenge)
		return true
	}

	key := acceptKey{addr: from.String(), sockID: p.SockID}
	l.mx.Lock()
	existing := l.accepted[key]
	l.mx.Unlock()
	if existing != nil {
		existing.resendResponse()
		return true
	}

	if l.conf.CanAccept != nil {
		if err := l.conf.CanAccept(p, from); err != nil {
			l.log.WithError(err).Infof("Refusing connection from %s", from)
			l.refuse(from, p)
			return true
		}
	}

	c, err := l.m.newSocket(from, roleServer, mode, l.conf)
	if err != nil {
		l.log.WithError(err).Warnf("Failed to create socket for %s", from)
		return true
	}
	resp := c.acceptHandshake(p)
	c.onFinish = func() { l.forget(key, c) }

	l.mx.Lock()
	l.accepted[key] = c
	l.mx.Unlock()

	go c.serve()
	l.send(from, p.SockID, resp)

	if !l.enqueue(c) {
		l.log.Warnf("Listener closed or accept queue full, dropping connection from %s", from)
		c.abort()
		return true
	}
	l.m.metrics.Handshake(StateConnected.String())
	l.log.Infof("Accepted %s connection from %s (socket %d)", mode, from, c.sockID)
	return true
}

// enqueue hands c to Accept. It fails once the listener is closed or the queue is full.
func (l *Listener) enqueue(c *Conn) bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.isClosed() {
		return false
	}
	select {
	case l.acceptCh <- c:
		return true
	default:
		return false
	}
}

func (l *Listener) refuse(to *net.UDPAddr, p *packet.HandshakePacket) {
	l.send(to, p.SockID, &packet.HandshakePacket{
		UDTVer:         packet.UDTVersion,
		SockType:       p.SockType,
		InitPktSeq:     p.InitPktSeq,
		MaxPktSize:     l.conf.MaxPacketSize,
		MaxFlowWinSize: l.conf.MaxFlowWinSize,
		ReqType:        packet.HsRefused,
		SynCookie:      p.SynCookie,
		SockAddr:       to.IP,
	})
	l.m.metrics.Handshake(StateRefused.String())
}

func (l *Listener) send(to *net.UDPAddr, dstSockID uint32, p *packet.HandshakePacket) {
	if err := l.m.sendPacket(to, dstSockID, p); err != nil {
		l.log.WithError(err).Debugf("Failed to send %s to %s", p.ReqType, to)
	}
}
