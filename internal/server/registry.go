package server

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"cowtalk/internal/protocol"
)

// ErrRegistryClosed is returned once the registry's Run loop has exited.
var ErrRegistryClosed = errors.New("server: registry closed")

type registration struct {
	session  *Session
	username string
	done     chan struct{}
}

type unregistration struct {
	session *Session
	done    chan bool
}

// entry is one row of the session table.
type entry struct {
	session  *Session
	username string
}

type broadcastRequest struct {
	frame   []byte
	exclude *Session
	reply   chan int
}

// Registry owns the session table. Every read and write of the table happens
// on the Run goroutine; callers talk to it over channels.
type Registry struct {
	sessions map[*Session]string

	register   chan registration
	unregister chan unregistration
	broadcast  chan broadcastRequest
	snapshot   chan chan []entry

	done chan struct{}
	log  *zap.Logger
}

// NewRegistry returns a registry; call Run to start serving requests.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sessions:   make(map[*Session]string),
		register:   make(chan registration),
		unregister: make(chan unregistration),
		broadcast:  make(chan broadcastRequest),
		snapshot:   make(chan chan []entry),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves requests until ctx is cancelled, then closes every remaining
// session so its handler unblocks.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case req := <-r.register:
			r.handleRegister(req)

		case req := <-r.unregister:
			req.done <- r.handleUnregister(req.session)

		case req := <-r.broadcast:
			req.reply <- r.handleBroadcast(req.frame, req.exclude)

		case reply := <-r.snapshot:
			entries := make([]entry, 0, len(r.sessions))
			for session, username := range r.sessions {
				entries = append(entries, entry{session: session, username: username})
			}
			reply <- entries

		case <-ctx.Done():
			for session := range r.sessions {
				r.handleUnregister(session)
				session.close()
			}
			return
		}
	}
}

func (r *Registry) handleRegister(req registration) {
	if _, exists := r.sessions[req.session]; !exists {
		r.log.Debug("session registered",
			zap.String("session_id", req.session.id),
			zap.String("username", req.username),
			zap.Int("total", len(r.sessions)+1))
	}
	r.sessions[req.session] = req.username
	close(req.done)
}

func (r *Registry) handleUnregister(session *Session) bool {
	if _, exists := r.sessions[session]; !exists {
		return false
	}
	delete(r.sessions, session)
	close(session.send)
	r.log.Debug("session unregistered",
		zap.String("session_id", session.id),
		zap.Int("total", len(r.sessions)))
	return true
}

func (r *Registry) handleBroadcast(frame []byte, exclude *Session) int {
	delivered := 0
	for session, username := range r.sessions {
		if session == exclude {
			continue
		}
		select {
		case session.send <- frame:
			delivered++
		default:
			// The peer is not draining; drop this frame for it only.
			r.log.Warn("send queue full, dropping frame",
				zap.String("session_id", session.id),
				zap.String("username", username))
		}
	}
	return delivered
}

// Register adds session under username, overwriting an existing entry.
func (r *Registry) Register(session *Session, username string) error {
	req := registration{session: session, username: username, done: make(chan struct{})}
	select {
	case r.register <- req:
	case <-r.done:
		return ErrRegistryClosed
	}
	<-req.done
	return nil
}

// Unregister removes session and closes its send queue. It reports whether
// the session was present; removing an absent session is a no-op.
func (r *Registry) Unregister(session *Session) bool {
	req := unregistration{session: session, done: make(chan bool, 1)}
	select {
	case r.unregister <- req:
	case <-r.done:
		return false
	}
	return <-req.done
}

// Broadcast encodes env once and queues it for every registered session
// except exclude. It returns the number of sessions the frame was queued to.
func (r *Registry) Broadcast(env protocol.Envelope, exclude *Session) (int, error) {
	frame, err := protocol.Encode(env)
	if err != nil {
		return 0, err
	}

	req := broadcastRequest{frame: frame, exclude: exclude, reply: make(chan int, 1)}
	select {
	case r.broadcast <- req:
	case <-r.done:
		return 0, ErrRegistryClosed
	}
	return <-req.reply, nil
}

// Sessions returns a snapshot of registered sessions ordered by join time,
// named as they were registered.
func (r *Registry) Sessions() []SessionInfo {
	live := r.live()
	infos := make([]SessionInfo, 0, len(live))
	for _, e := range live {
		info := e.session.info()
		info.Username = e.username
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].JoinTime.Before(infos[j].JoinTime)
	})
	return infos
}

// Usernames returns the registered names in join order.
func (r *Registry) Usernames() []string {
	infos := r.Sessions()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Username
	}
	return names
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.live())
}

func (r *Registry) live() []entry {
	reply := make(chan []entry, 1)
	select {
	case r.snapshot <- reply:
	case <-r.done:
		return nil
	}
	return <-reply
}
