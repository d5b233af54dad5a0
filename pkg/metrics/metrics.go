// Package metrics records transport level counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records transport events.
type Recorder interface {
	MultiplexerOpened()
	MultiplexerClosed()
	SocketOpened()
	SocketClosed()
	PacketSent(packetType string, size int)
	PacketReceived(packetType string, size int)
	PacketDropped(reason string)
	Retransmitted(n int)
	RTT(rtt time.Duration)
	Handshake(result string)
}

type dummy struct{}

// NewDummy constructs a recorder that discards everything.
func NewDummy() Recorder {
	return dummy{}
}

func (dummy) MultiplexerOpened()         {}
func (dummy) MultiplexerClosed()         {}
func (dummy) SocketOpened()              {}
func (dummy) SocketClosed()              {}
func (dummy) PacketSent(string, int)     {}
func (dummy) PacketReceived(string, int) {}
func (dummy) PacketDropped(string)       {}
func (dummy) Retransmitted(int)          {}
func (dummy) RTT(time.Duration)          {}
func (dummy) Handshake(string)           {}

type prom struct {
	multiplexers prometheus.Gauge
	sockets      prometheus.Gauge
	pktSent      *prometheus.CounterVec
	pktRecv      *prometheus.CounterVec
	bytesSent    prometheus.Counter
	bytesRecv    prometheus.Counter
	dropped      *prometheus.CounterVec
	retrans      prometheus.Counter
	rtt          prometheus.Summary
	handshakes   *prometheus.CounterVec
}

// NewPrometheus constructs a Prometheus backed recorder.
// Metrics are registered with the default registry, so call it once per service name.
func NewPrometheus(service string) Recorder {
	return &prom{
		multiplexers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: service + "_multiplexers",
			Help: "The number of bound multiplexers",
		}),
		sockets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: service + "_sockets",
			Help: "The number of open sockets",
		}),
		pktSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_packets_sent_total",
			Help: "The total number of datagrams sent",
		}, []string{"type"}),
		pktRecv: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_packets_received_total",
			Help: "The total number of datagrams received",
		}, []string{"type"}),
		bytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_bytes_sent_total",
			Help: "The total number of bytes written to the wire",
		}),
		bytesRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_bytes_received_total",
			Help: "The total number of bytes read from the wire",
		}),
		dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_packets_dropped_total",
			Help: "The total number of inbound datagrams dropped",
		}, []string{"reason"}),
		retrans: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_retransmissions_total",
			Help: "The total number of retransmitted data packets",
		}),
		rtt: promauto.NewSummary(prometheus.SummaryOpts{
			Name: service + "_rtt_seconds",
			Help: "Round trip time samples",
		}),
		handshakes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_handshakes_total",
			Help: "Finished handshakes by result",
		}, []string{"result"}),
	}
}

func (m *prom) MultiplexerOpened() { m.multiplexers.Inc() }
func (m *prom) MultiplexerClosed() { m.multiplexers.Dec() }
func (m *prom) SocketOpened()      { m.sockets.Inc() }
func (m *prom) SocketClosed()      { m.sockets.Dec() }

func (m *prom) PacketSent(packetType string, size int) {
	m.pktSent.WithLabelValues(packetType).Inc()
	m.bytesSent.Add(float64(size))
}

func (m *prom) PacketReceived(packetType string, size int) {
	m.pktRecv.WithLabelValues(packetType).Inc()
	m.bytesRecv.Add(float64(size))
}

func (m *prom) PacketDropped(reason string) { m.dropped.WithLabelValues(reason).Inc() }
func (m *prom) Retransmitted(n int)         { m.retrans.Add(float64(n)) }
func (m *prom) RTT(rtt time.Duration)       { m.rtt.Observe(rtt.Seconds()) }
func (m *prom) Handshake(result string)     { m.handshakes.WithLabelValues(result).Inc() }
