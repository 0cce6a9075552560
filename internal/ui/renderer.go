// Package ui draws the chat client: a bounded scrollback, who is typing, and
// a single-line editor with a submission throttle.
package ui

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cowtalk/internal/protocol"
)

const (
	Prompt    = "Message: "
	separator = "-"

	timestampLayout = "15:04:05"
	typingSuffix    = " is typing..."

	DefaultHistorySize   = 100
	DefaultTypingTimeout = 3 * time.Second
	DefaultSendInterval  = 500 * time.Millisecond
	DefaultRedrawTick    = 250 * time.Millisecond

	inboundQueueSize = 256
)

// ErrQuit is returned by PollInput when the user asks to leave.
var ErrQuit = errors.New("ui: quit")

// Entry is one message in the scrollback.
type Entry struct {
	Timestamp time.Time
	Sender    string
	Content   string
	Lines     []string
}

// Options configures a Renderer. Zero values take the defaults.
type Options struct {
	HistorySize   int
	TypingTimeout time.Duration
	SendInterval  time.Duration
	RedrawTick    time.Duration
	Decorator     Decorator
	Logger        *zap.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Renderer owns the scrollback, the typing set and the input line. PushMessage
// may be called from any goroutine; PollInput from one goroutine only.
type Renderer struct {
	screen    Screen
	decorator Decorator
	now       func() time.Time
	log       *zap.Logger

	historySize   int
	typingTimeout time.Duration
	redrawTick    time.Duration

	inbound chan protocol.Envelope
	done    chan struct{}
	stop    sync.Once

	// mu guards everything below and serializes drawing.
	mu      sync.Mutex
	history []Entry
	typing  map[string]time.Time
	input   []rune
	cursor  int
	limiter *rate.Limiter

	rows    []Line
	width   int
	dirty   bool
	resized bool
}

// NewRenderer returns a renderer drawing on screen. Call Run to start
// consuming pushed messages.
func NewRenderer(screen Screen, opts Options) *Renderer {
	r := &Renderer{
		screen:        screen,
		decorator:     opts.Decorator,
		now:           opts.Now,
		log:           opts.Logger,
		historySize:   opts.HistorySize,
		typingTimeout: opts.TypingTimeout,
		redrawTick:    opts.RedrawTick,
		inbound:       make(chan protocol.Envelope, inboundQueueSize),
		done:          make(chan struct{}),
		typing:        make(map[string]time.Time),
		dirty:         true,
	}
	if r.decorator == nil {
		r.decorator = PlainDecorator{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.historySize <= 0 {
		r.historySize = DefaultHistorySize
	}
	if r.typingTimeout <= 0 {
		r.typingTimeout = DefaultTypingTimeout
	}
	if r.redrawTick <= 0 {
		r.redrawTick = DefaultRedrawTick
	}
	sendInterval := opts.SendInterval
	if sendInterval <= 0 {
		sendInterval = DefaultSendInterval
	}
	r.limiter = rate.NewLimiter(rate.Every(sendInterval), 1)
	return r
}

// PushMessage queues env for display. It never blocks once Run has returned.
func (r *Renderer) PushMessage(env protocol.Envelope) {
	select {
	case r.inbound <- env:
	case <-r.done:
	}
}

// Run applies queued envelopes and redraws until ctx is cancelled. The tick
// keeps typing indicators expiring while nothing arrives.
func (r *Renderer) Run(ctx context.Context) error {
	defer r.stop.Do(func() { close(r.done) })

	ticker := time.NewTicker(r.redrawTick)
	defer ticker.Stop()

	if err := r.Redraw(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-r.inbound:
			r.apply(env)
		case <-ticker.C:
		}
		if err := r.Redraw(); err != nil {
			r.log.Warn("redraw failed", zap.Error(err))
		}
	}
}

// apply folds one envelope into the renderer state.
func (r *Renderer) apply(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeTypingStatus:
		r.mu.Lock()
		defer r.mu.Unlock()
		if env.IsTyping {
			r.typing[env.Username] = r.now()
		} else {
			delete(r.typing, env.Username)
		}
		r.dirty = true

	case protocol.TypeMessage:
		// The decorator may run an external program; keep it outside the lock.
		at := r.now()
		lines := r.decorator.Decorate(env.Username + ": " + env.Content)
		if len(lines) == 0 {
			lines = []string{""}
		}
		lines[0] = "[" + at.Format(timestampLayout) + "] " + lines[0]

		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.typing, env.Username)
		r.history = append(r.history, Entry{
			Timestamp: at,
			Sender:    env.Username,
			Content:   env.Content,
			Lines:     lines,
		})
		if over := len(r.history) - r.historySize; over > 0 {
			r.history = append(r.history[:0], r.history[over:]...)
		}
		r.dirty = true
	}
}

// History returns a copy of the scrollback, oldest first.
func (r *Renderer) History() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.history...)
}

// Typing returns the users currently shown as typing, most recent first.
func (r *Renderer) Typing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typingOrder()
}

// Redraw sweeps expired typing entries and repaints if anything changed.
func (r *Renderer) Redraw() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redrawLocked()
}

func (r *Renderer) redrawLocked() error {
	r.sweepTyping()

	width, height := r.screen.Size()
	if width != r.width || height != len(r.rows) {
		r.width = width
		r.rows = make([]Line, max(height, 0))
		r.resized = true
	}
	if !r.dirty && !r.resized {
		return nil
	}

	frame := r.compose(width, height)
	if r.resized {
		r.screen.Clear()
	}
	for row, line := range frame {
		if r.resized || line != r.rows[row] {
			r.screen.SetLine(row, line)
			r.rows[row] = line
		}
	}
	if height > 0 {
		col := runewidth.StringWidth(Prompt + string(r.input[:r.cursor]))
		r.screen.SetCursor(min(col, max(width-1, 0)), height-1)
	}

	r.dirty = false
	r.resized = false
	return r.screen.Flush()
}

func (r *Renderer) sweepTyping() {
	now := r.now()
	for user, at := range r.typing {
		if now.Sub(at) >= r.typingTimeout {
			delete(r.typing, user)
			r.dirty = true
		}
	}
}

func (r *Renderer) typingOrder() []string {
	users := make([]string, 0, len(r.typing))
	for user := range r.typing {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		ti, tj := r.typing[users[i]], r.typing[users[j]]
		if ti.Equal(tj) {
			return users[i] < users[j]
		}
		return ti.After(tj)
	})
	return users
}

// compose lays out a full frame bottom up: input, separator, typing lines,
// then history entries newest first until the next one no longer fits.
func (r *Renderer) compose(width, height int) []Line {
	frame := make([]Line, max(height, 0))
	if height <= 0 {
		return frame
	}
	fit := func(s string) string {
		return runewidth.Truncate(s, width, "")
	}

	row := height - 1
	frame[row] = Line{Text: fit(Prompt + string(r.input))}
	row--
	if row < 0 {
		return frame
	}
	frame[row] = Line{Text: strings.Repeat(separator, max(width, 0))}
	row--

	for _, user := range r.typingOrder() {
		if row < 0 {
			return frame
		}
		frame[row] = Line{Text: fit(user + typingSuffix)}
		row--
	}

	// Entries are drawn whole; only the newest may be cut when it alone is
	// taller than the space left.
	for i := len(r.history) - 1; i >= 0 && row >= 0; i-- {
		entry := r.history[i]
		if len(entry.Lines) > row+1 && i != len(r.history)-1 {
			break
		}
		for j := len(entry.Lines) - 1; j >= 0 && row >= 0; j-- {
			frame[row] = entryLine(entry, j, fit)
			row--
		}
	}
	return frame
}

// entryLine colors the timestamp and, when the decorator left it intact,
// the sender of an entry's first line.
func entryLine(entry Entry, index int, fit func(string) string) Line {
	line := Line{Text: fit(entry.Lines[index])}
	if index != 0 {
		return line
	}
	stamp := len("[" + timestampLayout + "] ")
	line.Stamp = min(stamp, len(line.Text))
	if strings.HasPrefix(line.Text[line.Stamp:], entry.Sender+":") {
		line.Sender = len(entry.Sender)
	}
	return line
}
