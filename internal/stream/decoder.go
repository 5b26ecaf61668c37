package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrStreamTruncated is returned by Decode when the reader ends before the
// terminal frame.
var ErrStreamTruncated = errors.New("stream ended before terminal frame")

var frameSeparator = []byte("\n\n")

// Decoder turns an arbitrarily chunked byte stream back into events. It holds
// partial frames until their separator arrives and skips frames it cannot
// parse.
type Decoder struct {
	buf     []byte
	done    bool
	skipped int
	logger  *slog.Logger
}

func NewDecoder() *Decoder {
	return &Decoder{logger: slog.Default()}
}

// Feed appends p and returns every event completed by it, in order. Input
// after the terminal frame is ignored.
func (d *Decoder) Feed(p []byte) []Event {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var events []Event
	for !d.done {
		idx := bytes.Index(d.buf, frameSeparator)
		if idx < 0 {
			break
		}
		frame := d.buf[:idx]
		d.buf = d.buf[idx+len(frameSeparator):]

		if ev, ok := d.parseFrame(frame); ok {
			events = append(events, ev)
		}
	}

	if d.done || len(d.buf) == 0 {
		d.buf = nil
	} else {
		d.buf = append([]byte(nil), d.buf...)
	}
	return events
}

// Done reports whether the terminal frame has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Pending is the number of buffered bytes not yet forming a complete frame.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Skipped counts malformed frames dropped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func (d *Decoder) parseFrame(frame []byte) (Event, bool) {
	var data [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case len(line) == 0, line[0] == ':':
			// blank or keepalive comment
		case bytes.HasPrefix(line, []byte("data:")):
			value := bytes.TrimPrefix(line, []byte("data:"))
			data = append(data, bytes.TrimPrefix(value, []byte(" ")))
		}
	}
	if len(data) == 0 {
		return Event{}, false
	}

	payload := bytes.Join(data, []byte("\n"))
	if string(bytes.TrimSpace(payload)) == DoneSentinel {
		d.done = true
		return Event{}, false
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.skipped++
		d.logger.Warn("Skipping malformed stream frame", "error", err, "bytes", len(payload))
		return Event{}, false
	}
	if ev.Type == "" {
		d.skipped++
		d.logger.Warn("Skipping stream frame without type", "bytes", len(payload))
		return Event{}, false
	}

	return ev, true
}

// Decode reads r until the terminal frame, calling fn for every event. It
// returns ErrStreamTruncated if r ends first, or the first error from fn.
func Decode(r io.Reader, fn func(Event) error) error {
	dec := NewDecoder()
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if ferr := fn(ev); ferr != nil {
					return ferr
				}
			}
			if dec.Done() {
				return nil
			}
		}
		if err == io.EOF {
			return ErrStreamTruncated
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
	}
}
