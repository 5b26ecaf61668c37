package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SpeakerDirectory answers whether a persona id exists.
type SpeakerDirectory interface {
	Has(id string) bool
	IDs() []string
}

// BookmarkIndex stores bookmarks and finds them by meaning.
type BookmarkIndex interface {
	SaveBookmark(ctx context.Context, sessionID string, b Bookmark) error
	SearchBookmarks(ctx context.Context, sessionID, query string, limit int) ([]BookmarkMatch, error)
}

// DocumentSink keeps generated documents. It is optional.
type DocumentSink interface {
	SaveDocument(ctx context.Context, sessionID string, doc DocumentOutcome) error
}

// BuiltinOptions carries runtime dependencies needed by built-in tool factories.
type BuiltinOptions struct {
	Speakers      SpeakerDirectory
	Bookmarks     BookmarkIndex
	Documents     DocumentSink
	BookmarkLimit int
	Now           func() time.Time
}

const DefaultBookmarkLimit = 5

type BuiltinFactory func(options BuiltinOptions) (Tool, error)

var builtinCatalog = struct {
	mu        sync.RWMutex
	factories map[string]BuiltinFactory
}{
	factories: map[string]BuiltinFactory{},
}

// RegisterBuiltin registers a built-in tool factory under a tool name.
// Intended to be called in init() from built-in tool files.
func RegisterBuiltin(name string, factory BuiltinFactory) {
	normalized := NormalizeToolName(name)
	if normalized == "" {
		panic("tool: built-in name cannot be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("tool: built-in factory cannot be nil (%s)", normalized))
	}

	builtinCatalog.mu.Lock()
	defer builtinCatalog.mu.Unlock()

	if _, exists := builtinCatalog.factories[normalized]; exists {
		panic(fmt.Sprintf("tool: built-in already registered: %s", normalized))
	}
	builtinCatalog.factories[normalized] = factory
}

// BuiltinNames returns all registered built-in names in deterministic order.
func BuiltinNames() []string {
	builtinCatalog.mu.RLock()
	defer builtinCatalog.mu.RUnlock()

	names := make([]string, 0, len(builtinCatalog.factories))
	for name := range builtinCatalog.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsBuiltinName(name string) bool {
	normalized := NormalizeToolName(name)
	if normalized == "" {
		return false
	}

	builtinCatalog.mu.RLock()
	defer builtinCatalog.mu.RUnlock()
	_, ok := builtinCatalog.factories[normalized]
	return ok
}

// InstantiateBuiltins constructs the named built-ins, or all of them when
// enabled is empty. Naming an unregistered built-in is an error.
func InstantiateBuiltins(options BuiltinOptions, enabled ...string) ([]Tool, error) {
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.BookmarkLimit <= 0 {
		options.BookmarkLimit = DefaultBookmarkLimit
	}

	names := enabled
	if len(names) == 0 {
		names = BuiltinNames()
	}

	builtinCatalog.mu.RLock()
	factories := make(map[string]BuiltinFactory, len(builtinCatalog.factories))
	for name, factory := range builtinCatalog.factories {
		factories[name] = factory
	}
	builtinCatalog.mu.RUnlock()

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		toolFactory, ok := factories[NormalizeToolName(name)]
		if !ok {
			return nil, fmt.Errorf("unknown built-in tool %q", name)
		}

		t, err := toolFactory(options)
		if err != nil {
			return nil, fmt.Errorf("instantiate built-in %q: %w", name, err)
		}
		tools = append(tools, t)
	}

	return tools, nil
}
