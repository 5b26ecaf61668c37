package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	toolcore "github.com/harunnryd/chorus/internal/tool"

	"github.com/oklog/ulid/v2"
)

func init() {
	toolcore.RegisterBuiltin(toolcore.NameSearchBookmarks, func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		if options.Bookmarks == nil {
			return nil, fmt.Errorf("bookmark index is required")
		}
		return &SearchBookmarksTool{index: options.Bookmarks, defaultLimit: options.BookmarkLimit}, nil
	})
	toolcore.RegisterBuiltin(toolcore.NameSaveBookmark, func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		if options.Bookmarks == nil {
			return nil, fmt.Errorf("bookmark index is required")
		}
		return &SaveBookmarkTool{index: options.Bookmarks, now: options.Now}, nil
	})
}

const maxBookmarkResults = 20

// SearchBookmarksTool finds the session's saved bookmarks closest in meaning to a query.
type SearchBookmarksTool struct {
	index        toolcore.BookmarkIndex
	defaultLimit int
}

func (t *SearchBookmarksTool) Name() string {
	return toolcore.NameSearchBookmarks
}

func (t *SearchBookmarksTool) Description() string {
	return "Search the links the user saved earlier in this session by meaning, not exact words."
}

func (t *SearchBookmarksTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":      "string",
				"minLength": 1,
			},
			"limit": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": maxBookmarkResults,
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchBookmarksTool) Execute(ctx context.Context, input json.RawMessage) (toolcore.Payload, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	limit := args.Limit
	if limit <= 0 {
		limit = t.defaultLimit
	}
	query := strings.TrimSpace(args.Query)

	matches, err := t.index.SearchBookmarks(ctx, toolcore.InvocationFrom(ctx).SessionID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search bookmarks: %w", err)
	}
	if matches == nil {
		matches = []toolcore.BookmarkMatch{}
	}

	return toolcore.BookmarkSearchOutcome{Query: query, Matches: matches}, nil
}

// SaveBookmarkTool stores a link for later semantic search.
type SaveBookmarkTool struct {
	index toolcore.BookmarkIndex
	now   func() time.Time
}

func (t *SaveBookmarkTool) Name() string {
	return toolcore.NameSaveBookmark
}

func (t *SaveBookmarkTool) Description() string {
	return "Save a link with a title and an optional note so it can be found later."
}

func (t *SaveBookmarkTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":      "string",
				"minLength": 1,
			},
			"url": map[string]interface{}{
				"type":      "string",
				"minLength": 1,
			},
			"note": map[string]interface{}{
				"type": "string",
			},
		},
		"required": []string{"title", "url"},
	}
}

func (t *SaveBookmarkTool) Execute(ctx context.Context, input json.RawMessage) (toolcore.Payload, error) {
	var args struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Note  string `json:"note"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	u, err := url.Parse(strings.TrimSpace(args.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url must be an absolute http(s) link")
	}

	now := time.Now
	if t.now != nil {
		now = t.now
	}

	b := toolcore.Bookmark{
		ID:      ulid.Make().String(),
		Title:   strings.TrimSpace(args.Title),
		URL:     u.String(),
		Note:    strings.TrimSpace(args.Note),
		SavedAt: now().UTC(),
	}
	if err := t.index.SaveBookmark(ctx, toolcore.InvocationFrom(ctx).SessionID, b); err != nil {
		return nil, fmt.Errorf("save bookmark: %w", err)
	}

	return toolcore.BookmarkSavedOutcome{Bookmark: b}, nil
}
