package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/harunnryd/chorus/internal/speaker"
	"github.com/harunnryd/chorus/internal/stream"

	"charm.land/lipgloss/v2"
)

// renderer prints stream events as a transcript, one coloured label per speaker turn.
type renderer struct {
	out     io.Writer
	catalog *speaker.Catalog

	labels   map[speaker.Speaker]lipgloss.Style
	fallback lipgloss.Style
	dim      lipgloss.Style
	warn     lipgloss.Style
	fail     lipgloss.Style

	current  speaker.Speaker
	labelled bool
}

func newRenderer(out io.Writer, catalog *speaker.Catalog) *renderer {
	r := &renderer{
		out:      out,
		catalog:  catalog,
		labels:   make(map[speaker.Speaker]lipgloss.Style),
		fallback: lipgloss.NewStyle().Bold(true),
		dim:      lipgloss.NewStyle().Faint(true),
		warn:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		fail:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		current:  catalog.Default(),
	}
	for _, p := range catalog.Personas() {
		style := lipgloss.NewStyle().Bold(true)
		if p.Color != "" {
			style = style.Foreground(lipgloss.Color(p.Color))
		}
		r.labels[p.ID] = style
	}
	return r
}

// Begin resets per-response state. active is the speaker the session resumes with.
func (r *renderer) Begin(active string) {
	r.labelled = false
	if active != "" {
		r.current = speaker.Normalize(active)
	}
}

func (r *renderer) Event(ev stream.Event) {
	switch ev.Type {
	case stream.TypeMetadata:
		if s, _ := ev.Metadata["speaker"].(string); s != "" {
			r.current = speaker.Normalize(s)
		}

	case stream.TypeContent:
		content := ev.Content
		if !r.labelled {
			fmt.Fprint(r.out, r.label(r.current)+" ")
			r.labelled = true
			content = strings.TrimLeft(content, "\n")
		}
		fmt.Fprint(r.out, content)

	case stream.TypeSpeakerChange:
		if r.labelled {
			fmt.Fprintln(r.out)
		}
		next := speaker.Normalize(ev.Speaker)
		note := fmt.Sprintf("%s hands over to %s", r.name(r.current), r.name(next))
		if ev.HandoffReason != "" {
			note += ": " + ev.HandoffReason
		}
		fmt.Fprintln(r.out, r.dim.Render(note))
		r.current = next
		r.labelled = false

	case stream.TypeComplete:
		if r.labelled {
			fmt.Fprintln(r.out)
		}
		r.footer(ev)

	case stream.TypeError:
		if r.labelled {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintln(r.out, r.fail.Render("error: "+ev.Error))
		if ev.Suggestion != "" {
			fmt.Fprintln(r.out, r.dim.Render(ev.Suggestion))
		}
		if ev.Retryable != nil && *ev.Retryable {
			fmt.Fprintln(r.out, r.dim.Render("You can send the message again."))
		}
	}
}

func (r *renderer) footer(ev stream.Event) {
	var parts []string
	if ev.Usage != nil {
		parts = append(parts, fmt.Sprintf("%d tokens", ev.Usage.Total()))
	}
	if len(ev.ToolsExecuted) > 0 {
		names := make([]string, len(ev.ToolsExecuted))
		for i, t := range ev.ToolsExecuted {
			names[i] = t.Name
		}
		parts = append(parts, "tools: "+strings.Join(names, ", "))
	}
	if s := ev.LimitStatus; s != nil && !s.Unlimited {
		parts = append(parts, fmt.Sprintf("%d of %d messages left", s.Remaining, s.MessageLimit))
	}
	if len(parts) > 0 {
		fmt.Fprintln(r.out, r.dim.Render("["+strings.Join(parts, " · ")+"]"))
	}

	if s := ev.LimitStatus; s != nil && s.WarningThreshold {
		fmt.Fprintln(r.out, r.warn.Render(fmt.Sprintf("Only %d messages left in this session.", s.Remaining)))
	}
}

// LimitReached prints the refusal shown when the service answers 429.
func (r *renderer) LimitReached(err *apiError) {
	fmt.Fprintln(r.out, r.warn.Render("Message limit reached for this session."))
	if err.LimitStatus != nil {
		fmt.Fprintln(r.out, r.dim.Render(fmt.Sprintf("%d of %d messages used. Start a new session with /session new.",
			err.LimitStatus.CurrentCount, err.LimitStatus.MessageLimit)))
	}
}

func (r *renderer) Notice(msg string) {
	fmt.Fprintln(r.out, r.dim.Render(msg))
}

func (r *renderer) Failure(msg string) {
	fmt.Fprintln(r.out, r.fail.Render(msg))
}

func (r *renderer) label(id speaker.Speaker) string {
	style, ok := r.labels[id]
	if !ok {
		style = r.fallback
	}
	return style.Render(r.name(id) + ":")
}

func (r *renderer) name(id speaker.Speaker) string {
	if p, ok := r.catalog.Get(id); ok && p.DisplayName != "" {
		return p.DisplayName
	}
	if id == "" {
		return "Assistant"
	}
	return string(id)
}
