package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus(t *testing.T) {
	r := NewPrometheus("udt_test")
	r.MultiplexerOpened()
	r.SocketOpened()
	r.SocketOpened()
	r.SocketClosed()
	r.PacketSent("DATA", 100)
	r.PacketReceived("ACK", 32)
	r.PacketDropped("unknown_socket")
	r.Retransmitted(3)
	r.RTT(10 * time.Millisecond)
	r.Handshake("connected")

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[f.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[f.GetName()] += m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["udt_test_multiplexers"])
	assert.Equal(t, 1.0, values["udt_test_sockets"])
	assert.Equal(t, 1.0, values["udt_test_packets_sent_total"])
	assert.Equal(t, 100.0, values["udt_test_bytes_sent_total"])
	assert.Equal(t, 3.0, values["udt_test_retransmissions_total"])
}

func TestDummy(t *testing.T) {
	r := NewDummy()
	assert.NotPanics(t, func() {
		r.SocketOpened()
		r.PacketDropped("x")
		r.RTT(time.Second)
	})
}
