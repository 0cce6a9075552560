package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"cowtalk/internal/config"
	"cowtalk/internal/protocol"
)

// unknownUsername names a departing connection that never sent a name.
const unknownUsername = "Someone"

// ErrNotConnect aborts a connection whose first frame is not a connect frame.
var ErrNotConnect = errors.New("server: first frame is not connect")

// Server relays frames between connected chat clients.
type Server struct {
	cfg      config.ServerConfig
	registry *Registry
	activity *activityLog
	log      *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	port     string

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServer builds a server and starts its registry.
func NewServer(cfg config.ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(log.Named("registry")),
		activity: newActivityLog(cfg.ActivitySize),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.registry.Run(ctx)
	}()
	return s
}

// Registry exposes the session table.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Activity returns the most recent activity lines, oldest first.
func (s *Server) Activity() []string {
	return s.activity.snapshot()
}

func (s *Server) logActivity(message string, fields ...zap.Field) {
	s.activity.add(time.Now(), message)
	s.log.Info(message, fields...)
}

// Start listens on port across all interfaces and serves until Close.
func (s *Server) Start(port string) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, port))
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Close. One goroutine handles
// each connection; accept errors are logged and never stop the loop.
func (s *Server) Serve(listener net.Listener) error {
	defer listener.Close()

	// Close cancels before taking mu, so either it sees this listener or
	// Serve sees the cancellation.
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	s.listener = listener
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = fmt.Sprint(addr.Port)
	}
	s.logActivity("Server started on " + listener.Addr().String())
	s.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			s.log.Warn("failed to accept connection", zap.Error(err))
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if !s.track() {
			conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// track adds a handler to the wait group unless Close has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the listening port once serving.
func (s *Server) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Close stops accepting, disconnects every session and waits for handlers.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Announce broadcasts an operator notice to every session.
func (s *Server) Announce(text string) (int, error) {
	n, err := s.registry.Broadcast(protocol.SystemNotice(text), nil)
	if err != nil {
		return 0, err
	}
	s.logActivity("Announcement: "+text, zap.Int("recipients", n))
	return n, nil
}

// Kick closes every session named username. Their handlers clean up.
func (s *Server) Kick(username string) int {
	kicked := 0
	for _, e := range s.registry.live() {
		if e.username == username {
			e.session.close()
			kicked++
		}
	}
	if kicked > 0 {
		s.logActivity("Kicked: "+username, zap.Int("sessions", kicked))
	}
	return kicked
}

func (s *Server) handleConnection(conn net.Conn) {
	session := newSession(conn, s.cfg.SendQueueSize)
	log := s.log.With(
		zap.String("session_id", session.id),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("connection handler panicked", zap.Any("panic", r))
		}
		session.close()
	}()
	stop := context.AfterFunc(s.ctx, session.close)
	defer stop()

	reader := protocol.NewReader(conn)
	reader.MaxFrameSize = s.cfg.MaxFrameSize
	reader.OnInvalid = func(err error) {
		log.Debug("dropped invalid frame", zap.Error(err))
	}

	hello, err := s.awaitConnect(conn, reader)
	if err != nil {
		log.Debug("connection aborted before connect", zap.Error(err))
		return
	}

	session.username = hello.Username
	session.joinTime = time.Now()
	log = log.With(zap.String("username", session.username))

	if err := s.activate(session, log); err != nil {
		log.Debug("registry unavailable", zap.Error(err))
		return
	}
	defer s.deactivate(session)

	s.relay(session, reader, log)
}

// awaitConnect blocks for the first envelope, which must be a connect frame.
func (s *Server) awaitConnect(conn net.Conn, reader *protocol.Reader) (protocol.Envelope, error) {
	if s.cfg.ConnectTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ConnectTimeout)); err != nil {
			return protocol.Envelope{}, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}

	// Unlike the relay loop, a bad first frame ends the connection.
	env, err := reader.NextFrame()
	var frameErr *protocol.FrameError
	if errors.As(err, &frameErr) {
		return protocol.Envelope{}, fmt.Errorf("%w: %v", ErrNotConnect, err)
	}
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("read connect frame: %w", err)
	}
	if env.Type != protocol.TypeConnect {
		return protocol.Envelope{}, fmt.Errorf("%w: got %s", ErrNotConnect, env.Type)
	}
	return env, nil
}

func (s *Server) activate(session *Session, log *zap.Logger) error {
	go session.writeLoop(log)

	if err := s.registry.Register(session, session.username); err != nil {
		// The writer exits once its queue closes.
		close(session.send)
		return err
	}
	s.logActivity(fmt.Sprintf("User joined: %s", session.username),
		zap.String("session_id", session.id),
		zap.String("remote_addr", session.conn.RemoteAddr().String()))

	// The joiner does not need its own join notice.
	if _, err := s.registry.Broadcast(protocol.SystemNotice(joinNotice(session.username)), session); err != nil {
		log.Debug("join notice not sent", zap.Error(err))
	}
	return nil
}

func (s *Server) deactivate(session *Session) {
	s.registry.Unregister(session)
	s.logActivity(fmt.Sprintf("User left: %s", session.username),
		zap.String("session_id", session.id))

	if _, err := s.registry.Broadcast(protocol.SystemNotice(leaveNotice(session.username)), session); err != nil {
		s.log.Debug("leave notice not sent", zap.String("session_id", session.id), zap.Error(err))
	}
}

func (s *Server) relay(session *Session, reader *protocol.Reader, log *zap.Logger) {
	for {
		env, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}

		switch env.Type {
		case protocol.TypeMessage:
			log.Info("message relayed", zap.Int("content_bytes", len(env.Content)))
			s.activity.add(time.Now(), fmt.Sprintf("Message from %s", session.username))
			if _, err := s.registry.Broadcast(env, session); err != nil {
				return
			}
		case protocol.TypeTypingStatus:
			if _, err := s.registry.Broadcast(env, session); err != nil {
				return
			}
		default:
			// A repeated connect frame changes nothing.
		}
	}
}
