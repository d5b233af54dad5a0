package udt

import (
	"time"

	"github.com/skycoin/udt/pkg/udt/packet"
)

// CongestionControl decides how many unacknowledged data packets a connection
// may have in flight. Every method is called from the connection's own goroutine.
type CongestionControl interface {
	// Init is called once the connection is established.
	Init(maxWindow uint32, initSeq packet.SeqNum)
	// OnACK is called when an ACK acknowledges new packets.
	OnACK(acked int, rtt time.Duration)
	// OnNAK is called with the losses reported by the peer and the next sequence to be sent.
	OnNAK(losses []packet.SeqNum, sndCurr packet.SeqNum)
	// OnTimeout is called when the EXP timer fires with packets in flight.
	OnTimeout()
	// OnCongestionWarning is called when the peer sends a congestion warning.
	OnCongestionWarning()
	OnPktSent(p *packet.DataPacket)
	OnPktRecv(p *packet.DataPacket)
	OnCustomMsg(p *packet.UserDefPacket)
	// Window returns the current congestion window, in packets.
	Window() uint32
	Close()
}

const (
	initCongestionWindow = 16
	minCongestionWindow  = 2
)

// NativeCongestion is a window based slow start / AIMD controller.
type NativeCongestion struct {
	cwnd      float64
	ssthresh  float64
	maxWindow float64
	slowStart bool
	lastDec   packet.SeqNum
}

// NewNativeCongestion creates the default congestion control.
func NewNativeCongestion() CongestionControl {
	return &NativeCongestion{}
}

// Init implements CongestionControl.
func (cc *NativeCongestion) Init(maxWindow uint32, initSeq packet.SeqNum) {
	cc.maxWindow = float64(maxWindow)
	cc.cwnd = initCongestionWindow
	if cc.cwnd > cc.maxWindow {
		cc.cwnd = cc.maxWindow
	}
	cc.ssthresh = cc.maxWindow
	cc.slowStart = true
	cc.lastDec = initSeq.Decr()
}

// OnACK implements CongestionControl.
func (cc *NativeCongestion) OnACK(acked int, _ time.Duration) {
	if cc.slowStart {
		cc.cwnd += float64(acked)
		if cc.cwnd >= cc.ssthresh {
			cc.slowStart = false
		}
	} else {
		cc.cwnd += float64(acked) / cc.cwnd
	}
	if cc.cwnd > cc.maxWindow {
		cc.cwnd = cc.maxWindow
	}
}

// OnNAK implements CongestionControl. The window is cut at most once per
// round of transmission.
func (cc *NativeCongestion) OnNAK(losses []packet.SeqNum, sndCurr packet.SeqNum) {
	if len(losses) == 0 || !cc.lastDec.Less(losses[0]) {
		return
	}
	cc.decrease(0.5)
	cc.lastDec = sndCurr
}

// OnTimeout implements CongestionControl.
func (cc *NativeCongestion) OnTimeout() {
	cc.decrease(0.5)
}

// OnCongestionWarning implements CongestionControl.
func (cc *NativeCongestion) OnCongestionWarning() {
	cc.decrease(0.875)
}

func (cc *NativeCongestion) decrease(factor float64) {
	cc.slowStart = false
	cc.cwnd *= factor
	if cc.cwnd < minCongestionWindow {
		cc.cwnd = minCongestionWindow
	}
	cc.ssthresh = cc.cwnd
}

// OnPktSent implements CongestionControl.
func (cc *NativeCongestion) OnPktSent(*packet.DataPacket) {}

// OnPktRecv implements CongestionControl.
func (cc *NativeCongestion) OnPktRecv(*packet.DataPacket) {}

// OnCustomMsg implements CongestionControl.
func (cc *NativeCongestion) OnCustomMsg(*packet.UserDefPacket) {}

// Window implements CongestionControl.
func (cc *NativeCongestion) Window() uint32 { return uint32(cc.cwnd) }

// Close implements CongestionControl.
func (cc *NativeCongestion) Close() {}
