package ui

import (
	"fmt"

	"github.com/mattn/go-runewidth"
	"github.com/nsf/termbox-go"
)

const (
	timestampColor = termbox.ColorCyan
	senderColor    = termbox.ColorGreen
)

type termboxScreen struct{}

// NewTermboxScreen takes over the terminal. Call Close to restore it.
func NewTermboxScreen() (Screen, error) {
	if err := termbox.Init(); err != nil {
		return nil, fmt.Errorf("init terminal: %w", err)
	}
	termbox.SetInputMode(termbox.InputEsc)
	return termboxScreen{}, nil
}

func (termboxScreen) Size() (int, int) {
	return termbox.Size()
}

func (termboxScreen) SetLine(row int, line Line) {
	width, _ := termbox.Size()
	x := 0
	for i, ch := range line.Text {
		w := runewidth.RuneWidth(ch)
		if x+w > width {
			break
		}
		fg := termbox.ColorDefault
		switch {
		case i < line.Stamp:
			fg = timestampColor
		case i < line.Stamp+line.Sender:
			fg = senderColor
		}
		termbox.SetCell(x, row, ch, fg, termbox.ColorDefault)
		x += w
	}
	for ; x < width; x++ {
		termbox.SetCell(x, row, ' ', termbox.ColorDefault, termbox.ColorDefault)
	}
}

func (termboxScreen) SetCursor(col, row int) {
	termbox.SetCursor(col, row)
}

func (termboxScreen) Clear() {
	termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)
}

func (termboxScreen) Flush() error {
	return termbox.Flush()
}

func (termboxScreen) PollEvent() Event {
	ev := termbox.PollEvent()
	switch ev.Type {
	case termbox.EventResize:
		return Event{Kind: EventResize, Width: ev.Width, Height: ev.Height}
	case termbox.EventError:
		return Event{Kind: EventError, Err: ev.Err}
	case termbox.EventKey:
		return translateKey(ev)
	default:
		return Event{Kind: EventKey, Key: KeyOther}
	}
}

func (termboxScreen) Close() {
	termbox.Close()
}

func translateKey(ev termbox.Event) Event {
	if ev.Ch != 0 {
		return Event{Kind: EventKey, Key: KeyRune, Rune: ev.Ch}
	}

	key := KeyOther
	switch ev.Key {
	case termbox.KeySpace:
		return Event{Kind: EventKey, Key: KeyRune, Rune: ' '}
	case termbox.KeyEnter:
		key = KeyEnter
	case termbox.KeyBackspace, termbox.KeyBackspace2:
		key = KeyBackspace
	case termbox.KeyDelete:
		key = KeyDelete
	case termbox.KeyArrowLeft:
		key = KeyLeft
	case termbox.KeyArrowRight:
		key = KeyRight
	case termbox.KeyHome, termbox.KeyCtrlA:
		key = KeyHome
	case termbox.KeyEnd, termbox.KeyCtrlE:
		key = KeyEnd
	case termbox.KeyCtrlC:
		key = KeyInterrupt
	case termbox.KeyEsc:
		key = KeyEscape
	}
	return Event{Kind: EventKey, Key: key}
}
