package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	toolcore "github.com/harunnryd/chorus/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type speakers []string

func (s speakers) Has(id string) bool {
	for _, known := range s {
		if known == id {
			return true
		}
	}
	return false
}

func (s speakers) IDs() []string { return s }

type memoryBookmarks struct {
	saved    map[string][]toolcore.Bookmark
	queries  []string
	failWith error
}

func (m *memoryBookmarks) SaveBookmark(ctx context.Context, sessionID string, b toolcore.Bookmark) error {
	if m.failWith != nil {
		return m.failWith
	}
	if m.saved == nil {
		m.saved = map[string][]toolcore.Bookmark{}
	}
	m.saved[sessionID] = append(m.saved[sessionID], b)
	return nil
}

func (m *memoryBookmarks) SearchBookmarks(ctx context.Context, sessionID, query string, limit int) ([]toolcore.BookmarkMatch, error) {
	m.queries = append(m.queries, query)
	var out []toolcore.BookmarkMatch
	for _, b := range m.saved[sessionID] {
		if strings.Contains(strings.ToLower(b.Title), strings.ToLower(query)) {
			out = append(out, toolcore.BookmarkMatch{Bookmark: b, Similarity: 1})
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memoryDocs struct {
	docs map[string]toolcore.DocumentOutcome
}

func (m *memoryDocs) SaveDocument(ctx context.Context, sessionID string, doc toolcore.DocumentOutcome) error {
	if m.docs == nil {
		m.docs = map[string]toolcore.DocumentOutcome{}
	}
	m.docs[sessionID] = doc
	return nil
}

func TestSwitchSpeakerTool(t *testing.T) {
	tool := &SwitchSpeakerTool{speakers: speakers{"assistant", "taylor", "morgan"}}

	payload, err := tool.Execute(context.Background(), json.RawMessage(`{"speaker":" Taylor ","reason":"user asked for blunt feedback"}`))
	require.NoError(t, err)
	assert.Equal(t, toolcore.SwitchSpeakerOutcome{NewSpeaker: "taylor", Reason: "user asked for blunt feedback"}, payload)

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"speaker":"nobody"}`))
	assert.Error(t, err)

	assert.Contains(t, tool.Description(), "morgan")
}

func TestRecommendActionTool_DefaultsPriority(t *testing.T) {
	tool := &RecommendActionTool{}

	payload, err := tool.Execute(context.Background(), json.RawMessage(`{"action":"Book a checkup","rationale":"overdue"}`))
	require.NoError(t, err)
	rec := payload.(toolcore.RecommendationOutcome)
	assert.Equal(t, toolcore.PriorityMedium, rec.Priority)
	assert.Equal(t, "Book a checkup", rec.Action)

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"action":"  "}`))
	assert.Error(t, err)
}

func TestGenerateDocumentTool_MarkdownAndSink(t *testing.T) {
	sink := &memoryDocs{}
	tool := &GenerateDocumentTool{sink: sink}

	ctx := toolcore.WithInvocation(context.Background(), toolcore.Invocation{SessionID: "s-1"})
	payload, err := tool.Execute(ctx, json.RawMessage(`{"title":"Weekly plan","sections":[{"heading":"Monday","body":"Run 5k"},{"body":"Rest otherwise"}]}`))
	require.NoError(t, err)

	doc := payload.(toolcore.DocumentOutcome)
	assert.Equal(t, "markdown", doc.Format)
	assert.True(t, strings.HasPrefix(doc.Body, "# Weekly plan\n"))
	assert.Contains(t, doc.Body, "## Monday\n\nRun 5k\n")
	assert.NotEmpty(t, doc.DocumentID)
	assert.Positive(t, doc.WordCount)
	assert.Equal(t, doc, sink.docs["s-1"])
}

func TestGenerateDocumentTool_TextFormat(t *testing.T) {
	tool := &GenerateDocumentTool{}

	payload, err := tool.Execute(context.Background(), json.RawMessage(`{"title":"Plan","format":"text","sections":[{"body":"x"}]}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload.(toolcore.DocumentOutcome).Body, "Plan\n====\n"))

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"title":"Plan","sections":[]}`))
	assert.Error(t, err)
}

func TestBookmarkTools_SaveThenSearch(t *testing.T) {
	index := &memoryBookmarks{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	save := &SaveBookmarkTool{index: index, now: func() time.Time { return fixed }}
	search := &SearchBookmarksTool{index: index, defaultLimit: 5}

	ctx := toolcore.WithInvocation(context.Background(), toolcore.Invocation{SessionID: "s-1"})
	payload, err := save.Execute(ctx, json.RawMessage(`{"title":"Go memory model","url":"https://go.dev/ref/mem","note":"read twice"}`))
	require.NoError(t, err)
	saved := payload.(toolcore.BookmarkSavedOutcome)
	assert.Equal(t, fixed, saved.Bookmark.SavedAt)
	assert.NotEmpty(t, saved.Bookmark.ID)

	payload, err = search.Execute(ctx, json.RawMessage(`{"query":"memory"}`))
	require.NoError(t, err)
	found := payload.(toolcore.BookmarkSearchOutcome)
	require.Len(t, found.Matches, 1)
	assert.Equal(t, "https://go.dev/ref/mem", found.Matches[0].URL)

	payload, err = search.Execute(toolcore.WithInvocation(context.Background(), toolcore.Invocation{SessionID: "other"}), json.RawMessage(`{"query":"memory"}`))
	require.NoError(t, err)
	assert.Empty(t, payload.(toolcore.BookmarkSearchOutcome).Matches)
}

func TestSaveBookmarkTool_RejectsBadInput(t *testing.T) {
	index := &memoryBookmarks{}
	save := &SaveBookmarkTool{index: index}

	_, err := save.Execute(context.Background(), json.RawMessage(`{"title":"x","url":"not a url"}`))
	assert.Error(t, err)

	index.failWith = errors.New("disk full")
	_, err = save.Execute(context.Background(), json.RawMessage(`{"title":"x","url":"https://example.com"}`))
	assert.ErrorContains(t, err, "disk full")
}
