package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeText(s *fakeScreen, text string) {
	for _, ch := range text {
		s.events <- Event{Kind: EventKey, Key: KeyRune, Rune: ch}
	}
}

func press(s *fakeScreen, keys ...Key) {
	for _, key := range keys {
		s.events <- Event{Kind: EventKey, Key: key}
	}
}

// pollAll drains queued events and returns every submitted line.
func pollAll(t *testing.T, r *Renderer, s *fakeScreen) []string {
	t.Helper()
	var lines []string
	for len(s.events) > 0 {
		line, ok, err := r.PollInput()
		require.NoError(t, err)
		if ok {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestEditingKeys(t *testing.T) {
	screen := newFakeScreen(40, 4)
	r := newTestRenderer(screen, newFakeClock())

	typeText(screen, "helo")
	press(screen, KeyLeft)
	typeText(screen, "l")
	press(screen, KeyHome)
	typeText(screen, ">")
	press(screen, KeyEnd, KeyBackspace, KeyHome, KeyDelete)
	assert.Empty(t, pollAll(t, r, screen))

	assert.Equal(t, "hell", r.Input())
	assert.Equal(t, "Message: hell", screen.text()[3])
	assert.Equal(t, len(Prompt), screen.cursorCol)
}

func TestCursorStaysInBounds(t *testing.T) {
	screen := newFakeScreen(40, 4)
	r := newTestRenderer(screen, newFakeClock())

	press(screen, KeyLeft, KeyBackspace, KeyDelete)
	typeText(screen, "ab")
	press(screen, KeyRight, KeyRight)
	typeText(screen, "c")
	assert.Empty(t, pollAll(t, r, screen))

	assert.Equal(t, "abc", r.Input())
	assert.Equal(t, len(Prompt)+3, screen.cursorCol)
}

func TestIsTyping(t *testing.T) {
	screen := newFakeScreen(40, 4)
	r := newTestRenderer(screen, newFakeClock())
	assert.False(t, r.IsTyping())

	typeText(screen, "   ")
	pollAll(t, r, screen)
	assert.False(t, r.IsTyping(), "whitespace is not typing")

	typeText(screen, "x")
	pollAll(t, r, screen)
	assert.True(t, r.IsTyping())
}

func TestBlankSubmissionClears(t *testing.T) {
	clock := newFakeClock()
	screen := newFakeScreen(40, 4)
	r := newTestRenderer(screen, clock)

	typeText(screen, "  ")
	press(screen, KeyEnter)
	assert.Empty(t, pollAll(t, r, screen))
	assert.Equal(t, "", r.Input())

	// The blank line did not spend the throttle.
	typeText(screen, "hi")
	press(screen, KeyEnter)
	assert.Equal(t, []string{"hi"}, pollAll(t, r, screen))
}

func TestSubmissionThrottle(t *testing.T) {
	clock := newFakeClock()
	screen := newFakeScreen(40, 4)
	r := newTestRenderer(screen, clock)

	typeText(screen, "first")
	press(screen, KeyEnter)
	assert.Equal(t, []string{"first"}, pollAll(t, r, screen))
	assert.Equal(t, "", r.Input())

	clock.advance(100 * time.Millisecond)
	typeText(screen, "second")
	press(screen, KeyEnter)
	assert.Empty(t, pollAll(t, r, screen), "too soon")
	assert.Equal(t, "second", r.Input(), "rejected line stays in the input")

	clock.advance(DefaultSendInterval)
	press(screen, KeyEnter)
	assert.Equal(t, []string{"second"}, pollAll(t, r, screen))
	assert.Equal(t, "", r.Input())
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []Key{KeyInterrupt, KeyEscape} {
		screen := newFakeScreen(40, 4)
		r := newTestRenderer(screen, newFakeClock())
		press(screen, key)

		_, ok, err := r.PollInput()
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrQuit)
	}
}

func TestResizeEventRepaints(t *testing.T) {
	screen := newFakeScreen(40, 4)
	r := newTestRenderer(screen, newFakeClock())
	require.NoError(t, r.Redraw())
	screen.resetCounters()

	screen.events <- Event{Kind: EventResize, Width: 40, Height: 4}
	pollAll(t, r, screen)
	assert.Equal(t, 1, screen.clears)
	assert.Equal(t, 4, screen.totalWrites())
}
