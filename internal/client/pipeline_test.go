package client

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowtalk/internal/cipher"
	"cowtalk/internal/protocol"
)

type recordingDisplay struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (d *recordingDisplay) PushMessage(env protocol.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envs = append(d.envs, env)
}

func (d *recordingDisplay) all() []protocol.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Envelope(nil), d.envs...)
}

// orderedWriter records the display length at the moment of each write.
type orderedWriter struct {
	display      *recordingDisplay
	buf          bytes.Buffer
	shownAtWrite []int
	err          error
}

func (w *orderedWriter) Write(p []byte) (int, error) {
	w.shownAtWrite = append(w.shownAtWrite, len(w.display.all()))
	if w.err != nil {
		return 0, w.err
	}
	return w.buf.Write(p)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// sharedCiphers caches derived keys; PBKDF2 at 100000 rounds is slow.
var (
	cipherOnce sync.Once
	secretCtx  *cipher.Context
	otherCtx   *cipher.Context
)

func ciphers() (*cipher.Context, *cipher.Context) {
	cipherOnce.Do(func() {
		secretCtx = cipher.New("secret")
		otherCtx = cipher.New("other")
	})
	return secretCtx, otherCtx
}

func newTestPipeline(t *testing.T, username string, w io.Writer, display Display, clock *fakeClock) *Pipeline {
	t.Helper()
	secret, _ := ciphers()
	opts := Options{
		Username:       username,
		Cipher:         secret,
		Display:        display,
		TypingInterval: time.Second,
	}
	if clock != nil {
		opts.Now = clock.now
	}
	return New(w, opts)
}

func decodeAll(t *testing.T, raw []byte) []protocol.Envelope {
	t.Helper()
	envs, rest, errs := protocol.Decode(raw)
	require.Empty(t, errs)
	require.Empty(t, rest)
	return envs
}

func TestConnectSendsUsername(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPipeline(t, "alice", &buf, &recordingDisplay{}, nil)

	require.NoError(t, p.Connect())
	assert.Equal(t, `{"type":"connect","username":"alice"}`+"\n", buf.String())
}

func TestSendMessageEchoesBeforeWriting(t *testing.T) {
	display := &recordingDisplay{}
	w := &orderedWriter{display: display}
	p := newTestPipeline(t, "alice", w, display, nil)

	require.NoError(t, p.SendMessage("hi"))

	require.Equal(t, []int{1}, w.shownAtWrite, "local echo must precede the write")
	assert.Equal(t, []protocol.Envelope{protocol.Message("alice", "hi")}, display.all())

	sent := decodeAll(t, w.buf.Bytes())
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeMessage, sent[0].Type)
	assert.NotEqual(t, "hi", sent[0].Content, "content must be encrypted")

	secret, _ := ciphers()
	plain, ok := secret.Decrypt(sent[0].Content)
	require.True(t, ok)
	assert.Equal(t, "hi", plain)
}

func TestSendMessageEchoesOnWriteFailure(t *testing.T) {
	display := &recordingDisplay{}
	w := &orderedWriter{display: display, err: errors.New("broken pipe")}
	p := newTestPipeline(t, "alice", w, display, nil)

	err := p.SendMessage("lost")
	require.Error(t, err)
	assert.Equal(t, []protocol.Envelope{protocol.Message("alice", "lost")}, display.all())
}

func TestSetTypingDebounce(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	p := newTestPipeline(t, "alice", &buf, &recordingDisplay{}, clock)

	sent := func() []protocol.Envelope {
		envs := decodeAll(t, buf.Bytes())
		buf.Reset()
		return envs
	}

	require.NoError(t, p.SetTyping(true))
	assert.Equal(t, []protocol.Envelope{protocol.TypingStatus("alice", true)}, sent())

	// Unchanged state is never re-sent.
	require.NoError(t, p.SetTyping(true))
	assert.Empty(t, sent())

	// false goes out at once, whatever the interval.
	clock.advance(100 * time.Millisecond)
	require.NoError(t, p.SetTyping(false))
	assert.Equal(t, []protocol.Envelope{protocol.TypingStatus("alice", false)}, sent())

	// true within the interval is suppressed.
	clock.advance(100 * time.Millisecond)
	require.NoError(t, p.SetTyping(true))
	assert.Empty(t, sent())

	clock.advance(time.Second)
	require.NoError(t, p.SetTyping(true))
	assert.Equal(t, []protocol.Envelope{protocol.TypingStatus("alice", true)}, sent())

	require.NoError(t, p.SetTyping(false))
	require.NoError(t, p.SetTyping(false))
	assert.Equal(t, []protocol.Envelope{protocol.TypingStatus("alice", false)}, sent())
}

func frames(t *testing.T, envs ...protocol.Envelope) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, env := range envs {
		require.NoError(t, protocol.WriteEnvelope(&buf, env))
	}
	return &buf
}

func TestReceiveFiltersAndDecrypts(t *testing.T) {
	secret, _ := ciphers()
	token, err := secret.Encrypt("hello bob")
	require.NoError(t, err)

	display := &recordingDisplay{}
	p := newTestPipeline(t, "bob", io.Discard, display, nil)

	in := frames(t,
		protocol.SystemNotice("📢 alice has joined the chat."),
		protocol.Message("bob", "own echo"),
		protocol.TypingStatus("bob", true),
		protocol.TypingStatus("alice", true),
		protocol.Message("alice", token),
		protocol.Message("alice", "not-a-token"),
	)
	in.WriteString("garbage line\n")
	require.NoError(t, p.Receive(in))

	assert.Equal(t, []protocol.Envelope{
		protocol.SystemNotice("📢 alice has joined the chat."),
		protocol.TypingStatus("alice", true),
		protocol.Message("alice", "hello bob"),
		protocol.Message("alice", cipher.Undecryptable),
		protocol.SystemNotice(disconnectedNotice),
	}, display.all())
}

func TestSharedPasswordScenario(t *testing.T) {
	secret, other := ciphers()

	var wire bytes.Buffer
	a := New(&wire, Options{Username: "A", Cipher: secret, Display: &recordingDisplay{}})
	require.NoError(t, a.SendMessage("hi"))
	raw := wire.Bytes()

	bDisplay := &recordingDisplay{}
	b := New(io.Discard, Options{Username: "B", Cipher: secret, Display: bDisplay})
	require.NoError(t, b.Receive(bytes.NewReader(raw)))

	cDisplay := &recordingDisplay{}
	c := New(io.Discard, Options{Username: "C", Cipher: other, Display: cDisplay})
	require.NoError(t, c.Receive(bytes.NewReader(raw)))

	require.NotEmpty(t, bDisplay.all())
	require.NotEmpty(t, cDisplay.all())
	assert.Equal(t, protocol.Message("A", "hi"), bDisplay.all()[0])
	assert.Equal(t, protocol.Message("A", cipher.Undecryptable), cDisplay.all()[0])
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestReceiveErrorNotice(t *testing.T) {
	display := &recordingDisplay{}
	p := newTestPipeline(t, "bob", io.Discard, display, nil)

	err := p.Receive(failingReader{})
	require.Error(t, err)

	envs := display.all()
	require.Len(t, envs, 1)
	assert.True(t, envs[0].IsSystem())
	assert.True(t, strings.HasPrefix(envs[0].Content, "Error receiving message: "))
	assert.Contains(t, envs[0].Content, "connection reset by peer")
}
