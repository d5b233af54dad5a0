package udt

import (
	"net"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/udt/pkg/metrics"
	"github.com/skycoin/udt/pkg/udt/packet"
)

const (
	// udpOverhead is the IPv4 + UDP header size counted in MaxPacketSize.
	udpOverhead = 28

	minPacketSize  = udpOverhead + packet.HeaderSize + 32
	minFlowWinSize = 32

	keepAliveInterval = time.Second
	peerIdleTimeout   = 5 * time.Second
	maxExpCount       = 16
	lightAckInterval  = 64

	recvQueueSize = 1024
	sendQueueSize = 64
	outQueueSize  = 1024
)

// Config holds the tunables of a multiplexer and its connections.
type Config struct {
	MaxPacketSize     uint32        `json:"max_packet_size"`
	MaxFlowWinSize    uint32        `json:"max_flow_win_size"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	RendezvousTimeout time.Duration `json:"rendezvous_timeout"`
	HandshakeRetry    time.Duration `json:"handshake_retry"`
	LingerTime        time.Duration `json:"linger_time"`
	SynTime           time.Duration `json:"syn_time"`
	AcceptQueueSize   int           `json:"accept_queue_size"`

	// CanAccept, when set, is asked about every valid connection request a
	// listener receives. Returning an error refuses the connection.
	CanAccept func(hs *packet.HandshakePacket, from *net.UDPAddr) error `json:"-"`

	// NewCongestion creates the congestion control of every new connection.
	// NewNativeCongestion is used when nil.
	NewCongestion func() CongestionControl `json:"-"`

	Logger  *logging.Logger  `json:"-"`
	Metrics metrics.Recorder `json:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxPacketSize:     1500,
		MaxFlowWinSize:    8192,
		ConnectTimeout:    3 * time.Second,
		RendezvousTimeout: 30 * time.Second,
		HandshakeRetry:    250 * time.Millisecond,
		LingerTime:        3 * time.Second,
		SynTime:           10 * time.Millisecond,
		AcceptQueueSize:   64,
	}
}

// withDefaults returns a copy of conf with every unset field filled in.
func (conf *Config) withDefaults() *Config {
	def := DefaultConfig()
	if conf == nil {
		conf = def
	}
	c := *conf
	if c.MaxPacketSize < minPacketSize {
		c.MaxPacketSize = def.MaxPacketSize
	}
	if c.MaxFlowWinSize < minFlowWinSize {
		c.MaxFlowWinSize = def.MaxFlowWinSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.RendezvousTimeout <= 0 {
		c.RendezvousTimeout = def.RendezvousTimeout
	}
	if c.HandshakeRetry <= 0 {
		c.HandshakeRetry = def.HandshakeRetry
	}
	if c.LingerTime < 0 {
		c.LingerTime = 0
	}
	if c.SynTime <= 0 {
		c.SynTime = def.SynTime
	}
	if c.AcceptQueueSize <= 0 {
		c.AcceptQueueSize = def.AcceptQueueSize
	}
	if c.NewCongestion == nil {
		c.NewCongestion = NewNativeCongestion
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewDummy()
	}
	return &c
}

func (conf *Config) logger(module string) *logging.Logger {
	if conf.Logger != nil {
		return conf.Logger
	}
	return logging.MustGetLogger(module)
}
