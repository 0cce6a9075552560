package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// Delimiter terminates every frame on the wire.
	Delimiter = '\n'
	// DefaultMaxFrameSize bounds a buffered, still unterminated frame.
	DefaultMaxFrameSize = 64 * 1024

	readChunkSize = 4096
)

// ErrFrameTooLarge indicates an unterminated frame outgrew the reader's limit.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds max size")

// FrameError describes one dropped frame.
type FrameError struct {
	Frame []byte
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("drop frame (%d bytes): %v", len(e.Frame), e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Encode serializes one envelope followed by the delimiter. JSON string
// escaping keeps raw newlines out of the payload.
func Encode(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append(payload, Delimiter), nil
}

// Decode parses every complete frame in buf. Frames that fail to parse are
// reported in errs and skipped. rest holds the trailing unterminated bytes
// and should be prepended to the next read.
func Decode(buf []byte) (envs []Envelope, rest []byte, errs []error) {
	for {
		idx := bytes.IndexByte(buf, Delimiter)
		if idx < 0 {
			return envs, buf, errs
		}
		segment := buf[:idx]
		buf = buf[idx+1:]

		env, ok, err := decodeSegment(segment)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			envs = append(envs, env)
		}
	}
}

func decodeSegment(segment []byte) (Envelope, bool, error) {
	trimmed := bytes.TrimSpace(segment)
	if len(trimmed) == 0 {
		return Envelope{}, false, nil
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		frame := make([]byte, len(trimmed))
		copy(frame, trimmed)
		return Envelope{}, false, &FrameError{Frame: frame, Err: err}
	}
	return env, true, nil
}

// Reader decodes envelopes from a byte stream read in arbitrary chunks.
type Reader struct {
	r       io.Reader
	buf     []byte
	pending []pendingFrame

	// discarding is set after an oversize frame until its delimiter arrives.
	discarding bool

	// MaxFrameSize caps the unterminated remainder. Zero means DefaultMaxFrameSize.
	MaxFrameSize int
	// OnInvalid receives frames dropped by Next. It may be nil.
	OnInvalid func(err error)
}

// pendingFrame is one decoded envelope or the reason it was dropped.
type pendingFrame struct {
	env Envelope
	err error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next decoded envelope. It returns the underlying read
// error (io.EOF on a clean close) once the stream ends; bad frames never end it.
func (r *Reader) Next() (Envelope, error) {
	for {
		env, err := r.NextFrame()
		var frameErr *FrameError
		if errors.As(err, &frameErr) {
			r.report(err)
			continue
		}
		return env, err
	}
}

// NextFrame is Next without skipping: a frame that fails to decode comes back
// in stream order as a *FrameError, and the reader stays usable after it.
func (r *Reader) NextFrame() (Envelope, error) {
	chunk := make([]byte, readChunkSize)
	for len(r.pending) == 0 {
		n, err := r.r.Read(chunk)
		if n > 0 {
			r.feed(chunk[:n])
		}
		if len(r.pending) > 0 {
			break
		}
		if err != nil {
			return Envelope{}, err
		}
	}

	next := r.pending[0]
	r.pending = r.pending[1:]
	return next.env, next.err
}

// Buffered reports how many decoded frames are waiting to be returned.
func (r *Reader) Buffered() int {
	return len(r.pending)
}

func (r *Reader) feed(p []byte) {
	if r.discarding {
		idx := bytes.IndexByte(p, Delimiter)
		if idx < 0 {
			return
		}
		r.discarding = false
		p = p[idx+1:]
	}

	r.buf = append(r.buf, p...)
	rest := r.buf
	for {
		idx := bytes.IndexByte(rest, Delimiter)
		if idx < 0 {
			break
		}
		env, ok, err := decodeSegment(rest[:idx])
		rest = rest[idx+1:]
		switch {
		case err != nil:
			r.pending = append(r.pending, pendingFrame{err: err})
		case ok:
			r.pending = append(r.pending, pendingFrame{env: env})
		}
	}

	if len(rest) > r.maxFrameSize() {
		head := make([]byte, min(len(rest), 64))
		copy(head, rest)
		r.pending = append(r.pending, pendingFrame{err: &FrameError{Frame: head, Err: ErrFrameTooLarge}})
		r.discarding = true
		rest = nil
	}
	// Compact so the backing array does not grow with the stream.
	r.buf = append(r.buf[:0], rest...)
}

func (r *Reader) maxFrameSize() int {
	if r.MaxFrameSize > 0 {
		return r.MaxFrameSize
	}
	return DefaultMaxFrameSize
}

func (r *Reader) report(err error) {
	if r.OnInvalid != nil {
		r.OnInvalid(err)
	}
}

// WriteEnvelope encodes env and writes it as a single frame.
func WriteEnvelope(w io.Writer, env Envelope) error {
	frame, err := Encode(env)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
