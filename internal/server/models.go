package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session binds one live connection to one display name.
type Session struct {
	id       string
	conn     net.Conn
	username string
	joinTime time.Time

	// send is written only by the registry and closed by it on unregister.
	send      chan []byte
	closeOnce sync.Once
}

// SessionInfo is a read-only view of a registered session.
type SessionInfo struct {
	ID         string
	Username   string
	RemoteAddr string
	JoinTime   time.Time
}

func newSession(conn net.Conn, queueSize int) *Session {
	return &Session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, queueSize),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Username returns the name supplied in the connect frame.
func (s *Session) Username() string {
	return s.username
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:         s.id,
		Username:   s.username,
		RemoteAddr: s.conn.RemoteAddr().String(),
		JoinTime:   s.joinTime,
	}
}

// close is safe to call from the writer, the handler and the registry.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// writeLoop drains the send queue into the socket in order. A failed write
// closes the socket; the handler notices on its next read and unregisters.
func (s *Session) writeLoop(log *zap.Logger) {
	failed := false
	for frame := range s.send {
		if failed {
			continue
		}
		if _, err := s.conn.Write(frame); err != nil {
			log.Debug("write failed, closing connection", zap.Error(err))
			failed = true
			s.close()
		}
	}
}
