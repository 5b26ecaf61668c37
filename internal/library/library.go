// Package library backs the bookmark and document tools with the workspace
// store: bookmarks are embedded and kept in the vector collection, documents
// are written under the session's documents directory.
package library

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/chorus/internal/store"
	"github.com/harunnryd/chorus/internal/tool"
)

// VectorStore is the subset of store.Worker used for bookmarks.
type VectorStore interface {
	UpsertVector(ctx context.Context, collection, id string, vector []float32, metadata map[string]string, content string) error
	SearchVectors(ctx context.Context, collection string, vector []float32, limit int, where map[string]string) ([]store.VectorResult, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	metaSessionID = "session_id"
	metaTitle     = "title"
	metaURL       = "url"
	metaNote      = "note"
	metaSavedAt   = "saved_at"
)

// Bookmarks is a tool.BookmarkIndex scoped per session.
type Bookmarks struct {
	vectors    VectorStore
	embedder   Embedder
	collection string
}

var _ tool.BookmarkIndex = (*Bookmarks)(nil)

func NewBookmarks(vectors VectorStore, embedder Embedder, collection string) *Bookmarks {
	return &Bookmarks{vectors: vectors, embedder: embedder, collection: collection}
}

func (b *Bookmarks) SaveBookmark(ctx context.Context, sessionID string, bm tool.Bookmark) error {
	vector, err := b.embedder.Embed(ctx, bookmarkText(bm))
	if err != nil {
		return fmt.Errorf("embed bookmark: %w", err)
	}

	metadata := map[string]string{
		metaSessionID: sessionID,
		metaTitle:     bm.Title,
		metaURL:       bm.URL,
	}
	if !bm.SavedAt.IsZero() {
		metadata[metaSavedAt] = strconv.FormatInt(bm.SavedAt.UTC().UnixMilli(), 10)
	}
	if bm.Note != "" {
		metadata[metaNote] = bm.Note
	}
	if err := b.vectors.UpsertVector(ctx, b.collection, bm.ID, vector, metadata, bookmarkText(bm)); err != nil {
		return fmt.Errorf("store bookmark: %w", err)
	}
	return nil
}

func (b *Bookmarks) SearchBookmarks(ctx context.Context, sessionID, query string, limit int) ([]tool.BookmarkMatch, error) {
	vector, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := b.vectors.SearchVectors(ctx, b.collection, vector, limit, map[string]string{metaSessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("search bookmarks: %w", err)
	}

	matches := make([]tool.BookmarkMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, tool.BookmarkMatch{
			Bookmark:   bookmarkFromMetadata(r.ID, r.Metadata),
			Similarity: r.Score,
		})
	}
	return matches, nil
}

func bookmarkText(bm tool.Bookmark) string {
	parts := []string{bm.Title, bm.URL}
	if bm.Note != "" {
		parts = append(parts, bm.Note)
	}
	return strings.Join(parts, "\n")
}

func bookmarkFromMetadata(id string, meta map[string]string) tool.Bookmark {
	bm := tool.Bookmark{
		ID:    id,
		Title: meta[metaTitle],
		URL:   meta[metaURL],
		Note:  meta[metaNote],
	}
	if ms, err := strconv.ParseInt(meta[metaSavedAt], 10, 64); err == nil {
		bm.SavedAt = time.UnixMilli(ms).UTC()
	}
	return bm
}

// DocumentWriter is the subset of store.Worker used for documents.
type DocumentWriter interface {
	WriteDocument(ctx context.Context, sessionID, name string, data []byte) (string, error)
}

// Documents is a tool.DocumentSink that keeps each generated document as a
// file named after its id.
type Documents struct {
	writer DocumentWriter
}

var _ tool.DocumentSink = (*Documents)(nil)

func NewDocuments(writer DocumentWriter) *Documents {
	return &Documents{writer: writer}
}

func (d *Documents) SaveDocument(ctx context.Context, sessionID string, doc tool.DocumentOutcome) error {
	ext := ".txt"
	if doc.Format == "markdown" {
		ext = ".md"
	}
	if _, err := d.writer.WriteDocument(ctx, sessionID, doc.DocumentID+ext, []byte(doc.Body)); err != nil {
		return fmt.Errorf("save document %s: %w", doc.DocumentID, err)
	}
	return nil
}
