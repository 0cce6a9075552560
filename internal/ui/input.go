package ui

import (
	"fmt"
	"strings"
	"unicode"
)

// PollInput waits for one terminal event and applies it to the input line.
// It returns the submitted line with ok set when Enter accepts one. A line
// submitted sooner than the send interval allows stays in the input.
func (r *Renderer) PollInput() (line string, ok bool, err error) {
	ev := r.screen.PollEvent()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case EventError:
		return "", false, fmt.Errorf("poll terminal: %w", ev.Err)
	case EventResize:
		r.resized = true
	case EventKey:
		switch ev.Key {
		case KeyInterrupt, KeyEscape:
			return "", false, ErrQuit
		case KeyEnter:
			line, ok = r.submit()
		default:
			r.edit(ev)
		}
	}

	if err := r.redrawLocked(); err != nil {
		return line, ok, err
	}
	return line, ok, nil
}

// submit applies the Enter key. Blank lines are cleared without touching
// the throttle.
func (r *Renderer) submit() (string, bool) {
	text := string(r.input)
	if strings.TrimSpace(text) == "" {
		r.clearInput()
		return "", false
	}
	if !r.limiter.AllowN(r.now(), 1) {
		return "", false
	}
	r.clearInput()
	return text, true
}

func (r *Renderer) clearInput() {
	r.input = r.input[:0]
	r.cursor = 0
	r.dirty = true
}

func (r *Renderer) edit(ev Event) {
	switch ev.Key {
	case KeyRune:
		if !unicode.IsPrint(ev.Rune) {
			return
		}
		r.input = append(r.input, 0)
		copy(r.input[r.cursor+1:], r.input[r.cursor:])
		r.input[r.cursor] = ev.Rune
		r.cursor++
	case KeyBackspace:
		if r.cursor == 0 {
			return
		}
		r.input = append(r.input[:r.cursor-1], r.input[r.cursor:]...)
		r.cursor--
	case KeyDelete:
		if r.cursor >= len(r.input) {
			return
		}
		r.input = append(r.input[:r.cursor], r.input[r.cursor+1:]...)
	case KeyLeft:
		r.cursor = max(0, r.cursor-1)
	case KeyRight:
		r.cursor = min(len(r.input), r.cursor+1)
	case KeyHome:
		r.cursor = 0
	case KeyEnd:
		r.cursor = len(r.input)
	default:
		return
	}
	r.dirty = true
}

// Input returns the current input line.
func (r *Renderer) Input() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.input)
}

// IsTyping reports whether the input line holds anything but whitespace.
func (r *Renderer) IsTyping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.TrimSpace(string(r.input)) != ""
}
