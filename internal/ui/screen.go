package ui

// Key identifies an editing key delivered by a Screen.
type Key int

const (
	KeyRune Key = iota
	KeyEnter
	KeyBackspace
	KeyDelete
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyInterrupt // Ctrl-C
	KeyEscape
	KeyOther
)

// EventKind tells key presses from resizes.
type EventKind int

const (
	EventKey EventKind = iota
	EventResize
	EventError
)

// Event is one terminal input event.
type Event struct {
	Kind EventKind
	Key  Key
	Rune rune

	Width, Height int // EventResize
	Err           error
}

// Line is one screen row. The first Stamp bytes of Text are drawn in the
// timestamp color and the following Sender bytes in the sender color.
type Line struct {
	Text   string
	Stamp  int
	Sender int
}

// Screen is the terminal the Renderer draws on.
type Screen interface {
	Size() (width, height int)
	SetLine(row int, line Line)
	SetCursor(col, row int)
	Clear()
	Flush() error
	// PollEvent blocks until the next event.
	PollEvent() Event
	Close()
}
