package udt

import (
	"net"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// The registry maps a bound local address to its multiplexer. Entries do not keep
// a multiplexer alive: holders acquire and release references, and the last release
// of an idle multiplexer tears it down and removes its entry.
var (
	registryMx    sync.Mutex
	registry      = make(map[string]*Multiplexer)
	registryGroup singleflight.Group
)

func registryKey(addr *net.UDPAddr) string {
	ip := ""
	if addr.IP != nil && !addr.IP.IsUnspecified() {
		ip = addr.IP.String()
	}
	return net.JoinHostPort(ip, strconv.Itoa(addr.Port))
}

func lookupMultiplexer(key string) *Multiplexer {
	registryMx.Lock()
	defer registryMx.Unlock()
	return registry[key]
}

// getInstance returns a referenced multiplexer bound to laddr, creating it when
// none is registered. Port 0 always binds a fresh multiplexer.
func getInstance(laddr *net.UDPAddr, conf *Config) (*Multiplexer, error) {
	if laddr == nil {
		laddr = &net.UDPAddr{}
	}
	if laddr.Port == 0 {
		m, err := bindMultiplexer(laddr, conf)
		if err != nil {
			return nil, err
		}
		if !m.acquire() {
			return nil, ErrClosed
		}
		return m, nil
	}

	key := registryKey(laddr)
	anyKey := registryKey(&net.UDPAddr{Port: laddr.Port})
	for {
		if m := lookupMultiplexer(key); m != nil && m.acquire() {
			return m, nil
		}
		v, err, _ := registryGroup.Do(key, func() (interface{}, error) {
			if m := lookupMultiplexer(key); m != nil {
				return m, nil
			}
			return bindMultiplexer(laddr, conf)
		})
		if err != nil {
			// The port may be held by a multiplexer bound to the wildcard address.
			if m := lookupMultiplexer(anyKey); m != nil && m.acquire() {
				return m, nil
			}
			return nil, err
		}
		if m := v.(*Multiplexer); m.acquire() {
			return m, nil
		}
		// Torn down between creation and acquisition; try again.
		runtime.Gosched()
	}
}

// bindMultiplexer binds a new socket and registers its multiplexer. If another
// multiplexer got registered for the same address meanwhile, the new one is
// discarded in favour of it.
func bindMultiplexer(laddr *net.UDPAddr, conf *Config) (*Multiplexer, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	m := newMultiplexer(conn, conf)
	key := m.key

	registryMx.Lock()
	if existing, ok := registry[key]; ok {
		registryMx.Unlock()
		m.log.Infof("Discarding duplicate multiplexer for %s", key)
		conn.Close() // nolint: errcheck
		return existing, nil
	}
	registry[key] = m
	registryMx.Unlock()

	m.start()
	return m, nil
}

func deregister(m *Multiplexer) {
	registryMx.Lock()
	defer registryMx.Unlock()
	if registry[m.key] == m {
		delete(registry, m.key)
	}
}

// MultiplexerInfo describes a registered multiplexer.
type MultiplexerInfo struct {
	LocalAddr  string `json:"local_addr"`
	Sockets    int    `json:"sockets"`
	Listening  bool   `json:"listening"`
	Rendezvous int    `json:"rendezvous"`
	Refs       int    `json:"refs"`
}

// Multiplexers returns a snapshot of the registered multiplexers.
func Multiplexers() []MultiplexerInfo {
	registryMx.Lock()
	ms := make([]*Multiplexer, 0, len(registry))
	for _, m := range registry {
		ms = append(ms, m)
	}
	registryMx.Unlock()

	out := make([]MultiplexerInfo, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalAddr < out[j].LocalAddr })
	return out
}
