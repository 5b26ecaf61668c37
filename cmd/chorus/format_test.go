package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/store"
)

func TestParseOutputFormat(t *testing.T) {
	for _, in := range []string{"table", "JSON", " yaml "} {
		if _, err := parseOutputFormat(in); err != nil {
			t.Errorf("parseOutputFormat(%q): %v", in, err)
		}
	}
	if _, err := parseOutputFormat("xml"); err == nil {
		t.Error("parseOutputFormat(xml) should fail")
	}
}

func TestTableFormatter_Limit(t *testing.T) {
	f := newTableFormatter()

	out, err := f.FormatLimit("s-1", quota.Compute(18, 20, 3))
	if err != nil {
		t.Fatalf("FormatLimit: %v", err)
	}
	for _, want := range []string{"s-1", "Remaining", "Only 2 messages left."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = f.FormatLimit("s-1", quota.Compute(21, 20, 3))
	if err != nil {
		t.Fatalf("FormatLimit: %v", err)
	}
	if !strings.Contains(out, "Message limit reached.") {
		t.Errorf("output missing limit notice:\n%s", out)
	}

	out, err = f.FormatLimit("s-admin", quota.Status{Remaining: -1, Unlimited: true})
	if err != nil {
		t.Fatalf("FormatLimit: %v", err)
	}
	if !strings.Contains(out, "unlimited") || strings.Contains(out, "Remaining") {
		t.Errorf("unlimited output:\n%s", out)
	}
}

func TestTableFormatter_Sessions(t *testing.T) {
	f := newTableFormatter()

	out, err := f.FormatSessions(nil)
	if err != nil || out != "No sessions found" {
		t.Errorf("FormatSessions(nil) = %q, %v", out, err)
	}

	out, err = f.FormatSessions([]store.SessionMeta{{ID: "s-1", Principal: "user@example.com", Speaker: "taylor", Turns: 7, UpdatedAt: time.Now()}})
	if err != nil {
		t.Fatalf("FormatSessions: %v", err)
	}
	for _, want := range []string{"Session", "s-1", "user@example.com", "taylor", "7"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestJSONFormatter_Limit(t *testing.T) {
	out, err := jsonFormatter{}.FormatLimit("s-1", quota.Compute(2, 5, 1))
	if err != nil {
		t.Fatalf("FormatLimit: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if got["sessionId"] != "s-1" || got["remaining"] != float64(3) || got["limitReached"] != false {
		t.Errorf("json = %v", got)
	}
}

func TestYAMLFormatter_Sessions(t *testing.T) {
	out, err := yamlFormatter{}.FormatSessions([]store.SessionMeta{{ID: "s-1", Speaker: "morgan", Turns: 1}})
	if err != nil {
		t.Fatalf("FormatSessions: %v", err)
	}
	for _, want := range []string{"id: s-1", "speaker: morgan", "turns: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
