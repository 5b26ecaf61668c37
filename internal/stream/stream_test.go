package stream

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chorusErrors "github.com/harunnryd/chorus/internal/errors"
	"github.com/harunnryd/chorus/internal/model/contract"
	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []Event {
	return []Event{
		Metadata(map[string]any{"sessionId": "s-1", "speaker": "assistant"}),
		Content("Hello there. ", "assistant"),
		SpeakerChange("taylor", "user asked for blunt feedback"),
		Content("Your plan has gaps: ünïcödé, and \"quotes\"\nnewlines.", "taylor"),
		Complete(Completion{
			Usage:         &contract.Usage{InputTokens: 120, OutputTokens: 48},
			LimitStatus:   &quota.Status{CurrentCount: 3, MessageLimit: 10, Remaining: 7},
			ToolsExecuted: []tool.Summary{{Name: "switch_speaker", Success: true}},
			Rounds:        1,
			Speaker:       "taylor",
		}),
	}
}

func encodeAll(t *testing.T, events []Event) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, ev := range events {
		frame, err := Encode(ev)
		require.NoError(t, err)
		buf.Write(frame)
	}
	buf.Write(EncodeDone())
	return buf.Bytes()
}

func TestEncode_FrameShape(t *testing.T) {
	frame, err := EncodeContent("hi", "assistant")
	require.NoError(t, err)
	assert.Equal(t, `data: {"type":"content","content":"hi","speaker":"assistant"}`+"\n\n", string(frame))
	assert.Equal(t, "data: [DONE]\n\n", string(EncodeDone()))

	_, err = Encode(Event{})
	assert.Error(t, err)
}

func TestRoundTrip_WholeStream(t *testing.T) {
	events := sampleEvents()
	dec := NewDecoder()

	got := dec.Feed(encodeAll(t, events))
	assert.Equal(t, events, got)
	assert.True(t, dec.Done())
	assert.Zero(t, dec.Pending())
}

func TestRoundTrip_StructuredMetadata(t *testing.T) {
	ev := Metadata(map[string]any{
		"sessionId": "s-1",
		"turn":      3,
		"tags":      []string{"beta"},
		"client":    map[string]any{"name": "web"},
	})
	dec := NewDecoder()
	got := dec.Feed(encodeAll(t, []Event{ev}))

	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{
		"sessionId": "s-1",
		"turn":      float64(3),
		"tags":      []any{"beta"},
		"client":    map[string]any{"name": "web"},
	}, got[0].Metadata)
}

func TestRoundTrip_ByteAtATime(t *testing.T) {
	events := sampleEvents()
	wire := encodeAll(t, events)

	dec := NewDecoder()
	var got []Event
	for i := range wire {
		got = append(got, dec.Feed(wire[i:i+1])...)
	}
	assert.Equal(t, events, got)
	assert.True(t, dec.Done())
}

func TestRoundTrip_RandomSplits(t *testing.T) {
	events := sampleEvents()
	wire := encodeAll(t, events)
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		dec := NewDecoder()
		var got []Event
		for rest := wire; len(rest) > 0; {
			n := 1 + rng.Intn(len(rest))
			got = append(got, dec.Feed(rest[:n])...)
			rest = rest[n:]
		}
		require.Equal(t, events, got, "trial %d", trial)
		require.True(t, dec.Done())
	}
}

func TestDecoder_SkipsMalformedFrame(t *testing.T) {
	first, _ := EncodeContent("one", "assistant")
	second, _ := EncodeContent("two", "assistant")

	var wire []byte
	wire = append(wire, first...)
	wire = append(wire, "data: {not json\n\n"...)
	wire = append(wire, "data: {\"content\":\"typeless\"}\n\n"...)
	wire = append(wire, second...)

	dec := NewDecoder()
	got := dec.Feed(wire)

	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "two", got[1].Content)
	assert.Equal(t, 2, dec.Skipped())
	assert.False(t, dec.Done())
}

func TestDecoder_IgnoresCommentsAndTrailingInput(t *testing.T) {
	content, _ := EncodeContent("x", "")

	var wire []byte
	wire = append(wire, ": keepalive\n\n"...)
	wire = append(wire, content...)
	wire = append(wire, EncodeDone()...)
	wire = append(wire, content...)

	dec := NewDecoder()
	got := dec.Feed(wire)
	require.Len(t, got, 1)
	assert.True(t, dec.Done())
	assert.Nil(t, dec.Feed(content))
}

func TestDecoder_CRLF(t *testing.T) {
	dec := NewDecoder()
	got := dec.Feed([]byte("data: {\"type\":\"content\",\"content\":\"x\"}\r\n\n"))
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].Content)
}

func TestDecode_Reader(t *testing.T) {
	events := sampleEvents()

	var got []Event
	err := Decode(bytes.NewReader(encodeAll(t, events)), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestDecode_Truncated(t *testing.T) {
	frame, _ := EncodeContent("partial", "")
	err := Decode(bytes.NewReader(frame), func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrStreamTruncated)
}

func TestDecode_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := Decode(bytes.NewReader(encodeAll(t, sampleEvents())), func(Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestErrorEvent_CarriesRetryHint(t *testing.T) {
	ev := ErrorEvent(chorusErrors.PermissionDenied("401 unauthorized"))
	require.NotNil(t, ev.Retryable)
	assert.False(t, *ev.Retryable)
	assert.NotEmpty(t, ev.Suggestion)

	ev = ErrorEvent(chorusErrors.Transient("rate limited"))
	assert.True(t, *ev.Retryable)
}

func TestWriter_FlushesInOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec, WithFrameTimeout(time.Second))

	for _, ev := range sampleEvents() {
		require.NoError(t, w.Write(ev))
	}
	require.NoError(t, w.Done())
	assert.True(t, rec.Flushed)

	var got []Event
	require.NoError(t, Decode(rec.Body, func(ev Event) error {
		got = append(got, ev)
		return nil
	}))
	assert.Equal(t, sampleEvents(), got)
}

func TestFragments(t *testing.T) {
	text := "Hello  brave\nnew world "
	fragments := Fragments(text)
	assert.Equal(t, []string{"Hello  ", "brave\n", "new ", "world "}, fragments)
	assert.Equal(t, text, strings.Join(fragments, ""))
	assert.Nil(t, Fragments(""))
}

func TestPacer_Emit(t *testing.T) {
	var got []string
	collect := func(s string) error {
		got = append(got, s)
		return nil
	}

	require.NoError(t, NewPacer(0).Emit(context.Background(), "a b c", collect))
	assert.Equal(t, []string{"a b c"}, got)

	got = nil
	require.NoError(t, NewPacer(time.Microsecond).Emit(context.Background(), "a b c", collect))
	assert.Equal(t, []string{"a ", "b ", "c"}, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got = nil
	err := NewPacer(time.Second).Emit(ctx, "a b c", collect)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a "}, got)
}
