package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	toolcore "github.com/harunnryd/chorus/internal/tool"

	"github.com/oklog/ulid/v2"
)

func init() {
	toolcore.RegisterBuiltin(toolcore.NameGenerateDocument, func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &GenerateDocumentTool{sink: options.Documents}, nil
	})
}

// GenerateDocumentTool assembles a titled document from model-supplied sections.
type GenerateDocumentTool struct {
	sink toolcore.DocumentSink
}

type documentSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

func (t *GenerateDocumentTool) Name() string {
	return toolcore.NameGenerateDocument
}

func (t *GenerateDocumentTool) Description() string {
	return "Produce a structured document (plan, summary, checklist) the user can keep. Supply a title and ordered sections."
}

func (t *GenerateDocumentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":      "string",
				"minLength": 1,
			},
			"format": map[string]interface{}{
				"type": "string",
				"enum": []string{"markdown", "text"},
			},
			"sections": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"heading": map[string]interface{}{"type": "string"},
						"body":    map[string]interface{}{"type": "string"},
					},
					"required": []string{"body"},
				},
			},
		},
		"required": []string{"title", "sections"},
	}
}

func (t *GenerateDocumentTool) Execute(ctx context.Context, input json.RawMessage) (toolcore.Payload, error) {
	var args struct {
		Title    string            `json:"title"`
		Format   string            `json:"format"`
		Sections []documentSection `json:"sections"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if len(args.Sections) == 0 {
		return nil, fmt.Errorf("document needs at least one section")
	}

	format := strings.ToLower(strings.TrimSpace(args.Format))
	if format == "" {
		format = "markdown"
	}

	body := renderDocument(strings.TrimSpace(args.Title), format, args.Sections)
	doc := toolcore.DocumentOutcome{
		DocumentID: ulid.Make().String(),
		Title:      strings.TrimSpace(args.Title),
		Format:     format,
		Body:       body,
		WordCount:  len(strings.Fields(body)),
	}

	if t.sink != nil {
		if err := t.sink.SaveDocument(ctx, toolcore.InvocationFrom(ctx).SessionID, doc); err != nil {
			return nil, fmt.Errorf("save document: %w", err)
		}
	}

	return doc, nil
}

func renderDocument(title, format string, sections []documentSection) string {
	var b strings.Builder
	markdown := format == "markdown"

	if markdown {
		b.WriteString("# ")
	}
	b.WriteString(title)
	b.WriteString("\n")
	if !markdown {
		b.WriteString(strings.Repeat("=", len(title)))
		b.WriteString("\n")
	}

	for _, s := range sections {
		b.WriteString("\n")
		if heading := strings.TrimSpace(s.Heading); heading != "" {
			if markdown {
				b.WriteString("## ")
			}
			b.WriteString(heading)
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(s.Body))
		b.WriteString("\n")
	}

	return b.String()
}
