// Package udtproxy serves a SOCKS5 proxy over multiplexed streams carried by
// a single reliable connection.
package udtproxy

import (
	"net"
	"sync"

	"github.com/armon/go-socks5"
	"github.com/google/uuid"
	"github.com/hashicorp/yamux"
	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("udtproxy")

// Server runs a SOCKS5 server over every yamux session accepted from its listener.
type Server struct {
	socks *socks5.Server

	mu       sync.Mutex
	listener net.Listener
	sessions map[uuid.UUID]*yamux.Session
}

// NewServer constructs a new Server. A non-empty passcode is required from clients
// as either user name or password.
func NewServer(passcode string) (*Server, error) {
	var credentials socks5.CredentialStore
	if passcode != "" {
		credentials = passcodeCredentials(passcode)
	}

	s, err := socks5.New(&socks5.Config{Credentials: credentials})
	if err != nil {
		return nil, errors.Wrap(err, "socks5")
	}

	return &Server{socks: s, sessions: make(map[uuid.UUID]*yamux.Session)}, nil
}

// Serve accepts connections from l and serves SOCKS5 on the streams each of them carries.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}

		session, err := yamux.Server(conn, nil)
		if err != nil {
			return errors.Wrap(err, "yamux")
		}

		id := uuid.New()
		s.mu.Lock()
		s.sessions[id] = session
		s.mu.Unlock()
		log.Infof("Session %s opened from %s", id, conn.RemoteAddr())

		go func() {
			if err := s.socks.Serve(session); err != nil {
				log.WithError(err).Debugf("Session %s ended", id)
			}
			s.mu.Lock()
			delete(s.sessions, id)
			s.mu.Unlock()
			if err := session.Close(); err != nil {
				log.WithError(err).Warnf("Failed to close session %s", id)
			}
		}()
	}
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting and closes every open session.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if err := session.Close(); err != nil {
			log.WithError(err).Warnf("Failed to close session %s", id)
		}
		delete(s.sessions, id)
	}
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

type passcodeCredentials string

func (s passcodeCredentials) Valid(user, password string) bool {
	return user == string(s) || password == string(s)
}
