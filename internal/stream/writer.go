package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Writer emits frames to an underlying writer in call order, flushing after
// each one so the client sees content as soon as it exists.
type Writer struct {
	w            io.Writer
	rc           *http.ResponseController
	flusher      http.Flusher
	frameTimeout time.Duration
}

type WriterOption func(*Writer)

// WithFrameTimeout sets a write deadline before each frame when the
// underlying writer is an http.ResponseWriter.
func WithFrameTimeout(d time.Duration) WriterOption {
	return func(w *Writer) { w.frameTimeout = d }
}

func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	sw := &Writer{w: w}
	if rw, ok := w.(http.ResponseWriter); ok {
		sw.rc = http.NewResponseController(rw)
	} else if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

func (w *Writer) Write(ev Event) error {
	frame, err := Encode(ev)
	if err != nil {
		return err
	}
	return w.writeFrame(frame)
}

// Done writes the terminal frame. Nothing should be written after it.
func (w *Writer) Done() error {
	return w.writeFrame(EncodeDone())
}

func (w *Writer) writeFrame(frame []byte) error {
	if w.rc != nil && w.frameTimeout > 0 {
		// Not every ResponseWriter supports deadlines; that is fine.
		_ = w.rc.SetWriteDeadline(time.Now().Add(w.frameTimeout))
	}

	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	switch {
	case w.rc != nil:
		if err := w.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("flush frame: %w", err)
		}
	case w.flusher != nil:
		w.flusher.Flush()
	}
	return nil
}
