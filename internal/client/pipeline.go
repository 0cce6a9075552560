// Package client turns user input into encrypted frames and inbound frames
// into displayable envelopes.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"cowtalk/internal/cipher"
	"cowtalk/internal/protocol"
)

const (
	disconnectedNotice = "Disconnected from server"

	// DefaultTypingInterval is the minimum gap between transmitted typing updates.
	DefaultTypingInterval = time.Second
)

// Display receives envelopes ready to be shown. Content is plaintext.
type Display interface {
	PushMessage(env protocol.Envelope)
}

// Options configures a Pipeline.
type Options struct {
	Username       string
	Cipher         *cipher.Context
	Display        Display
	TypingInterval time.Duration
	Logger         *zap.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Pipeline is the client half of the protocol for one connection.
type Pipeline struct {
	username       string
	cipher         *cipher.Context
	display        Display
	typingInterval time.Duration
	now            func() time.Time
	log            *zap.Logger

	// mu serializes writes to conn and guards the typing state.
	mu           sync.Mutex
	conn         io.Writer
	typing       bool
	typingSentAt time.Time
}

// New builds a pipeline that writes frames to conn.
func New(conn io.Writer, opts Options) *Pipeline {
	p := &Pipeline{
		username:       opts.Username,
		cipher:         opts.Cipher,
		display:        opts.Display,
		typingInterval: opts.TypingInterval,
		now:            opts.Now,
		log:            opts.Logger,
		conn:           conn,
	}
	if p.typingInterval <= 0 {
		p.typingInterval = DefaultTypingInterval
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// Username returns the local display name.
func (p *Pipeline) Username() string {
	return p.username
}

// Connect announces the local username to the server.
func (p *Pipeline) Connect() error {
	if err := p.write(protocol.Connect(p.username)); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	return nil
}

// SendMessage shows text locally, then encrypts and transmits it. The local
// echo happens even when encryption or the write fails.
func (p *Pipeline) SendMessage(text string) error {
	p.display.PushMessage(protocol.Message(p.username, text))

	token, err := p.cipher.Encrypt(text)
	if err != nil {
		return err
	}
	if err := p.write(protocol.Message(p.username, token)); err != nil {
		p.log.Warn("message not sent", zap.Error(err))
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SetTyping reports the local typing state. A change to true is sent only
// when typingInterval has passed since the last transmitted update; a change
// to false is sent at once. Unchanged states are never re-sent.
func (p *Pipeline) SetTyping(typing bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if typing == p.typing {
		return nil
	}
	now := p.now()
	if typing && !p.typingSentAt.IsZero() && now.Sub(p.typingSentAt) < p.typingInterval {
		return nil
	}

	if err := p.writeLocked(protocol.TypingStatus(p.username, typing)); err != nil {
		return fmt.Errorf("send typing status: %w", err)
	}
	p.typing = typing
	p.typingSentAt = now
	return nil
}

// Receive reads frames from r until it ends, handing each displayable
// envelope to the display. It finishes with a System notice saying why.
func (p *Pipeline) Receive(r io.Reader) error {
	reader := protocol.NewReader(r)
	reader.OnInvalid = func(err error) {
		p.log.Debug("dropped invalid frame", zap.Error(err))
	}

	for {
		env, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				p.display.PushMessage(protocol.SystemNotice(disconnectedNotice))
				return nil
			}
			p.display.PushMessage(protocol.SystemNotice("Error receiving message: " + err.Error()))
			return fmt.Errorf("receive: %w", err)
		}

		if out, ok := p.inbound(env); ok {
			p.display.PushMessage(out)
		}
	}
}

// inbound filters and decrypts one received envelope.
func (p *Pipeline) inbound(env protocol.Envelope) (protocol.Envelope, bool) {
	if env.Username == p.username {
		return env, false
	}

	switch env.Type {
	case protocol.TypeMessage:
		if !env.IsSystem() {
			env.Content = p.cipher.DecryptOrPlaceholder(env.Content)
		}
		return env, true
	case protocol.TypeTypingStatus:
		return env, true
	default:
		return env, false
	}
}

func (p *Pipeline) write(env protocol.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(env)
}

func (p *Pipeline) writeLocked(env protocol.Envelope) error {
	return protocol.WriteEnvelope(p.conn, env)
}
