package tool

import "time"

// Tool names with a payload variant of their own.
const (
	NameSwitchSpeaker    = "switch_speaker"
	NameRecommendAction  = "recommend_action"
	NameGenerateDocument = "generate_document"
	NameSearchBookmarks  = "search_bookmarks"
	NameSaveBookmark     = "save_bookmark"
)

// Payload is the data half of a successful Result. Each tool has exactly one
// variant, so consumers switch on the concrete type instead of poking at maps.
type Payload interface {
	ToolName() string
}

type SwitchSpeakerOutcome struct {
	NewSpeaker string `json:"newSpeaker"`
	Reason     string `json:"reason"`
}

func (SwitchSpeakerOutcome) ToolName() string { return NameSwitchSpeaker }

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type RecommendationOutcome struct {
	Action    string   `json:"action"`
	Rationale string   `json:"rationale"`
	Priority  Priority `json:"priority"`
}

func (RecommendationOutcome) ToolName() string { return NameRecommendAction }

type DocumentOutcome struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Format     string `json:"format"`
	Body       string `json:"body"`
	WordCount  int    `json:"wordCount"`
}

func (DocumentOutcome) ToolName() string { return NameGenerateDocument }

type Bookmark struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Note    string    `json:"note,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

type BookmarkMatch struct {
	Bookmark
	Similarity float32 `json:"similarity"`
}

type BookmarkSearchOutcome struct {
	Query   string          `json:"query"`
	Matches []BookmarkMatch `json:"matches"`
}

func (BookmarkSearchOutcome) ToolName() string { return NameSearchBookmarks }

type BookmarkSavedOutcome struct {
	Bookmark Bookmark `json:"bookmark"`
}

func (BookmarkSavedOutcome) ToolName() string { return NameSaveBookmark }
