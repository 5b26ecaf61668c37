package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/store"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"gopkg.in/yaml.v3"
)

type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputYAML  outputFormat = "yaml"
)

type reportFormatter interface {
	FormatSessions([]store.SessionMeta) (string, error)
	FormatLimit(sessionID string, status quota.Status) (string, error)
}

func parseOutputFormat(s string) (outputFormat, error) {
	format := outputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case outputTable, outputJSON, outputYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (supported: table, json, yaml)", s)
	}
}

func newReportFormatter(format outputFormat) (reportFormatter, error) {
	switch format {
	case outputTable:
		return newTableFormatter(), nil
	case outputJSON:
		return jsonFormatter{}, nil
	case outputYAML:
		return yamlFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, json, yaml)", format)
	}
}

type tableFormatter struct {
	headerStyle  lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
	warnStyle    lipgloss.Style
}

func newTableFormatter() *tableFormatter {
	purple := lipgloss.Color("99")

	return &tableFormatter{
		headerStyle:  lipgloss.NewStyle().Foreground(purple).Bold(true).Align(lipgloss.Center).Padding(0, 1),
		oddRowStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1),
		borderStyle:  lipgloss.NewStyle().Foreground(purple),
		warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}

func (f *tableFormatter) FormatSessions(sessions []store.SessionMeta) (string, error) {
	if len(sessions) == 0 {
		return "No sessions found", nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers("Session", "Principal", "Speaker", "Turns", "Updated")

	for _, s := range sessions {
		t.Row(
			truncateString(s.ID, 32),
			truncateString(s.Principal, 28),
			s.Speaker,
			strconv.Itoa(s.Turns),
			s.UpdatedAt.Local().Format(time.DateTime),
		)
	}

	return t.String(), nil
}

func (f *tableFormatter) FormatLimit(sessionID string, status quota.Status) (string, error) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.headerStyle
			}
			return f.oddRowStyle
		})

	t.Row("Session", sessionID)
	if status.Unlimited {
		t.Row("Allowance", "unlimited")
		return t.String(), nil
	}
	t.Row("Used", strconv.FormatInt(status.CurrentCount, 10))
	t.Row("Limit", strconv.FormatInt(status.MessageLimit, 10))
	t.Row("Remaining", strconv.FormatInt(status.Remaining, 10))

	out := t.String()
	switch {
	case status.LimitReached:
		out += "\n" + f.warnStyle.Render("Message limit reached.")
	case status.WarningThreshold:
		out += "\n" + f.warnStyle.Render(fmt.Sprintf("Only %d messages left.", status.Remaining))
	}
	return out, nil
}

type jsonFormatter struct{}

func (jsonFormatter) FormatSessions(sessions []store.SessionMeta) (string, error) {
	return marshalIndent(sessions)
}

func (jsonFormatter) FormatLimit(sessionID string, status quota.Status) (string, error) {
	return marshalIndent(struct {
		SessionID string `json:"sessionId"`
		quota.Status
	}{sessionID, status})
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type yamlFormatter struct{}

type sessionYAML struct {
	ID        string    `yaml:"id"`
	Principal string    `yaml:"principal,omitempty"`
	Speaker   string    `yaml:"speaker"`
	Turns     int       `yaml:"turns"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

func (yamlFormatter) FormatSessions(sessions []store.SessionMeta) (string, error) {
	out := make([]sessionYAML, len(sessions))
	for i, s := range sessions {
		out[i] = sessionYAML(s)
	}
	return marshalYAML(out)
}

func (yamlFormatter) FormatLimit(sessionID string, status quota.Status) (string, error) {
	return marshalYAML(map[string]any{
		"session_id":        sessionID,
		"current_count":     status.CurrentCount,
		"message_limit":     status.MessageLimit,
		"remaining":         status.Remaining,
		"limit_reached":     status.LimitReached,
		"warning_threshold": status.WarningThreshold,
		"unlimited":         status.Unlimited,
	})
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
