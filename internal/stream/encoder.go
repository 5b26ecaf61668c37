package stream

import (
	"encoding/json"
	"fmt"

	chorusErrors "github.com/harunnryd/chorus/internal/errors"
)

const (
	framePrefix = "data: "
	frameSuffix = "\n\n"
)

// Encode renders ev as a single self-contained frame: "data: <json>\n\n".
func Encode(ev Event) ([]byte, error) {
	if ev.Type == "" {
		return nil, fmt.Errorf("encode frame: event type is empty")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", ev.Type, err)
	}
	frame := make([]byte, 0, len(framePrefix)+len(payload)+len(frameSuffix))
	frame = append(frame, framePrefix...)
	frame = append(frame, payload...)
	frame = append(frame, frameSuffix...)
	return frame, nil
}

func EncodeMetadata(meta map[string]any) ([]byte, error) {
	return Encode(Metadata(meta))
}

func EncodeContent(content, speaker string) ([]byte, error) {
	return Encode(Content(content, speaker))
}

func EncodeSpeakerChange(speaker, reason string) ([]byte, error) {
	return Encode(SpeakerChange(speaker, reason))
}

func EncodeComplete(c Completion) ([]byte, error) {
	return Encode(Complete(c))
}

// EncodeError renders err with its retry hint and user-facing suggestion.
func EncodeError(err error) ([]byte, error) {
	return Encode(ErrorEvent(err))
}

func ErrorEvent(err error) Event {
	desc := chorusErrors.Describe(err)
	return Error(desc.Message, desc.Retryable, desc.Suggestion)
}

// EncodeDone returns the terminal frame.
func EncodeDone() []byte {
	return []byte(framePrefix + DoneSentinel + frameSuffix)
}
