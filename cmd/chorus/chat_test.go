package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/harunnryd/chorus/internal/api"
	"github.com/harunnryd/chorus/internal/model/contract"
	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/speaker"
	"github.com/harunnryd/chorus/internal/stream"
	"github.com/harunnryd/chorus/internal/tool"
)

func TestParseSlash(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slashCommand
		ok    bool
	}{
		{name: "plain message", input: "hello there", ok: false},
		{name: "bare command", input: "/limit", want: slashCommand{name: "limit", args: []string{}}, ok: true},
		{name: "uppercase", input: "/EXIT", want: slashCommand{name: "exit", args: []string{}}, ok: true},
		{name: "quoted argument", input: `/session "team review"`, want: slashCommand{name: "session", args: []string{"team review"}}, ok: true},
		{name: "unbalanced quote falls back to fields", input: `/session "open`, want: slashCommand{name: "session", args: []string{`"open`}}, ok: true},
		{name: "slash only", input: "/", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseSlash(tt.input)
			if ok != tt.ok {
				t.Fatalf("parseSlash(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.name != tt.want.name || !reflect.DeepEqual(got.args, tt.want.args) {
				t.Errorf("parseSlash(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

// fakeChatServer answers every chat with a handoff from the assistant to taylor.
type fakeChatServer struct {
	mu       sync.Mutex
	requests []api.ChatRequest
	limited  bool
}

func (f *fakeChatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	limited := f.limited
	f.mu.Unlock()

	if limited {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":        "MESSAGE_LIMIT_REACHED",
			"limitStatus": quota.Status{CurrentCount: 3, MessageLimit: 2, LimitReached: true},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	sw := stream.NewWriter(w)
	_ = sw.Write(stream.Metadata(map[string]any{"sessionId": req.Session.ID}))
	_ = sw.Write(stream.Content("Let me bring in Taylor.", "assistant"))
	_ = sw.Write(stream.SpeakerChange("taylor", "needs critique"))
	_ = sw.Write(stream.Content("Your plan has gaps.", "taylor"))
	_ = sw.Write(stream.Complete(stream.Completion{
		Usage:         &contract.Usage{InputTokens: 30, OutputTokens: 12},
		LimitStatus:   &quota.Status{CurrentCount: 18, MessageLimit: 20, Remaining: 2, WarningThreshold: true},
		ToolsExecuted: []tool.Summary{{Name: "switch_speaker", Success: true}},
		Rounds:        2,
		Speaker:       "taylor",
	}))
	_ = sw.Done()
}

func newTestREPL(t *testing.T, h http.Handler) (*chatREPL, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	catalog, err := speaker.LoadCatalog("", speaker.Default)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	var out bytes.Buffer
	repl := newChatREPL(newAPIClient(srv.URL), newRenderer(&out, catalog), catalog)
	repl.sessionID = "s-cli"
	repl.principal = "user@example.com"
	return repl, &out
}

func TestChatREPL_RendersHandoffAndCarriesSpeaker(t *testing.T) {
	fake := &fakeChatServer{}
	repl, out := newTestREPL(t, fake)

	input := strings.Join([]string{
		"review my plan",
		"/speaker morgan",
		"/tools off",
		"and now?",
		"/exit",
		"never sent",
	}, "\n")
	if err := repl.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(fake.requests))
	}

	first, second := fake.requests[0], fake.requests[1]
	if first.Session.ID != "s-cli" || first.Session.Principal != "user@example.com" {
		t.Errorf("first session = %+v", first.Session)
	}
	if first.UseTools != nil {
		t.Errorf("first request should leave tool use to the server default")
	}
	if first.History != nil {
		t.Errorf("client must let the server replay stored history")
	}
	if second.Session.Speaker != "morgan" {
		t.Errorf("second speaker = %q, want morgan", second.Session.Speaker)
	}
	if second.UseTools == nil || *second.UseTools {
		t.Errorf("second request should disable tools")
	}

	text := out.String()
	for _, want := range []string{
		"Assistant:",
		"Let me bring in Taylor.",
		"Assistant hands over to Taylor: needs critique",
		"Taylor:",
		"Your plan has gaps.",
		"42 tokens",
		"tools: switch_speaker",
		"2 of 20 messages left",
		"Only 2 messages left",
		"Next message goes to Morgan",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestChatREPL_RemembersSpeakerFromCompletion(t *testing.T) {
	fake := &fakeChatServer{}
	repl, _ := newTestREPL(t, fake)

	if err := repl.Run(context.Background(), strings.NewReader("one\ntwo\n")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if repl.speaker != "taylor" {
		t.Errorf("speaker = %q, want taylor", repl.speaker)
	}
	if got := fake.requests[1].Session.Speaker; got != "taylor" {
		t.Errorf("second request speaker = %q, want taylor", got)
	}
}

func TestChatREPL_LimitReached(t *testing.T) {
	fake := &fakeChatServer{limited: true}
	repl, out := newTestREPL(t, fake)

	if err := repl.Run(context.Background(), strings.NewReader("hello\n")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Message limit reached") {
		t.Errorf("output missing limit notice:\n%s", text)
	}
	if !strings.Contains(text, "3 of 2 messages used") {
		t.Errorf("output missing usage line:\n%s", text)
	}
}

func TestChatREPL_SessionAndUnknownCommands(t *testing.T) {
	repl, out := newTestREPL(t, http.NotFoundHandler())
	repl.speaker = "taylor"

	input := "/session \"team review\"\n/speaker nobody\n/bogus\n/session new\n"
	if err := repl.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.HasPrefix(repl.sessionID, "cli-") {
		t.Errorf("session id = %q, want a fresh cli- id", repl.sessionID)
	}
	if repl.speaker != "" {
		t.Errorf("switching sessions should clear the speaker, got %q", repl.speaker)
	}

	text := out.String()
	for _, want := range []string{"Switched to session team review", `unknown persona "nobody"`, "unknown command /bogus"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRenderer_ErrorFrame(t *testing.T) {
	catalog, err := speaker.LoadCatalog("", speaker.Default)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	var out bytes.Buffer
	r := newRenderer(&out, catalog)
	r.Begin("")

	r.Event(stream.Content("Partial", "assistant"))
	r.Event(stream.Error("model call failed: overloaded", true, "The assistant is busy. Wait a moment and try again."))

	text := out.String()
	for _, want := range []string{"Partial", "error: model call failed: overloaded", "The assistant is busy", "send the message again"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}
