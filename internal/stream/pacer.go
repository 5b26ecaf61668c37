package stream

import (
	"context"
	"time"
	"unicode"
	"unicode/utf8"
)

// Pacer splits content into word-sized fragments and spaces them out in time,
// proportional to fragment length. A zero per-character delay disables it.
type Pacer struct {
	perChar time.Duration
	maxStep time.Duration
}

const defaultMaxStep = 250 * time.Millisecond

func NewPacer(perChar time.Duration) *Pacer {
	return &Pacer{perChar: perChar, maxStep: defaultMaxStep}
}

func (p *Pacer) Enabled() bool {
	return p != nil && p.perChar > 0
}

// Fragments splits text into words, each keeping its trailing whitespace, so
// concatenating the fragments yields text unchanged.
func Fragments(text string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			out = append(out, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// Emit calls fn with each fragment of text in order, sleeping between
// fragments. It stops early when ctx is done.
func (p *Pacer) Emit(ctx context.Context, text string, fn func(fragment string) error) error {
	if !p.Enabled() {
		return fn(text)
	}

	fragments := Fragments(text)
	for i, fragment := range fragments {
		if err := fn(fragment); err != nil {
			return err
		}
		if i == len(fragments)-1 {
			break
		}

		delay := time.Duration(utf8.RuneCountInString(fragment)) * p.perChar
		if delay > p.maxStep {
			delay = p.maxStep
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
