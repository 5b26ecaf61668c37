package speaker

import (
	"github.com/harunnryd/chorus/internal/tool"
)

// Segment is a run of assistant text attributed to one speaker.
type Segment struct {
	Speaker       Speaker `json:"speaker"`
	Content       string  `json:"content"`
	HandoffReason string  `json:"handoffReason,omitempty"`
	Round         int     `json:"round"`
}

// Handoff describes a speaker change produced by a round of tool results.
type Handoff struct {
	From   Speaker
	To     Speaker
	Reason string
}

// Tracker folds switch_speaker outcomes into the active speaker.
type Tracker struct{}

func NewTracker() *Tracker {
	return &Tracker{}
}

// ApplyResults returns the speaker active after results and the handoff
// reason. The last successful switch_speaker in call order wins; failed
// switches are ignored. switched is false when the speaker ends up unchanged.
func (t *Tracker) ApplyResults(results []tool.Result, current Speaker) (next Speaker, reason string, switched bool) {
	next = current

	for _, r := range results {
		if !r.Success {
			continue
		}
		outcome, ok := r.Data.(tool.SwitchSpeakerOutcome)
		if !ok {
			continue
		}
		target := Normalize(outcome.NewSpeaker)
		if target == "" {
			continue
		}
		next = target
		reason = outcome.Reason
	}

	if next == current {
		return current, "", false
	}
	return next, reason, true
}
