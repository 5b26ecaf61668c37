package speaker

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Speaker identifies a persona.
type Speaker string

// Default is the persona that opens every conversation unless configured otherwise.
const Default Speaker = "assistant"

type Persona struct {
	ID          Speaker `yaml:"id" json:"id"`
	DisplayName string  `yaml:"display_name" json:"displayName"`
	Color       string  `yaml:"color,omitempty" json:"color,omitempty"`
	Prompt      string  `yaml:"prompt" json:"-"`
}

// Catalog is the fixed set of personas available to a deployment.
type Catalog struct {
	defaultID Speaker
	personas  map[Speaker]Persona
	order     []Speaker
}

type catalogFile struct {
	Default  string    `yaml:"default"`
	Personas []Persona `yaml:"personas"`
}

// DefaultPersonas ships with the binary and is used when no catalog file is configured.
var DefaultPersonas = []Persona{
	{
		ID:          Default,
		DisplayName: "Assistant",
		Color:       "#7D56F4",
		Prompt:      "Speak as the general assistant: warm, clear and concise.",
	},
	{
		ID:          "taylor",
		DisplayName: "Taylor",
		Color:       "#F25D94",
		Prompt:      "Speak as Taylor: direct, blunt and practical. Give honest critique without padding.",
	},
	{
		ID:          "morgan",
		DisplayName: "Morgan",
		Color:       "#04B575",
		Prompt:      "Speak as Morgan: patient and encouraging. Break plans into small steps.",
	},
}

func NewCatalog(defaultID Speaker, personas []Persona) (*Catalog, error) {
	c := &Catalog{personas: make(map[Speaker]Persona, len(personas))}
	for _, p := range personas {
		p.ID = Normalize(string(p.ID))
		if p.ID == "" {
			return nil, fmt.Errorf("persona with empty id")
		}
		if _, dup := c.personas[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona %q", p.ID)
		}
		if p.DisplayName == "" {
			p.DisplayName = string(p.ID)
		}
		c.personas[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("catalog has no personas")
	}

	defaultID = Normalize(string(defaultID))
	if defaultID == "" {
		defaultID = c.order[0]
	}
	if _, ok := c.personas[defaultID]; !ok {
		return nil, fmt.Errorf("default persona %q is not in the catalog", defaultID)
	}
	c.defaultID = defaultID
	return c, nil
}

// LoadCatalog reads a YAML catalog from path. An empty path yields the built-in personas.
func LoadCatalog(path string, defaultID Speaker) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return NewCatalog(defaultID, DefaultPersonas)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona catalog: %w", err)
	}
	return ParseCatalog(data, defaultID)
}

func ParseCatalog(data []byte, defaultID Speaker) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse persona catalog: %w", err)
	}
	if defaultID == "" {
		defaultID = Speaker(file.Default)
	}
	return NewCatalog(defaultID, file.Personas)
}

func Normalize(id string) Speaker {
	return Speaker(strings.ToLower(strings.TrimSpace(id)))
}

func (c *Catalog) Default() Speaker {
	return c.defaultID
}

func (c *Catalog) Get(id Speaker) (Persona, bool) {
	p, ok := c.personas[Normalize(string(id))]
	return p, ok
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.personas[Normalize(id)]
	return ok
}

// IDs returns persona ids in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	for i, id := range c.order {
		out[i] = string(id)
	}
	return out
}

func (c *Catalog) Personas() []Persona {
	out := make([]Persona, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.personas[id])
	}
	return out
}

// SystemPrompt appends the active persona's instructions and the roster to base.
func (c *Catalog) SystemPrompt(base string, active Speaker) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))

	if p, ok := c.Get(active); ok && p.Prompt != "" {
		b.WriteString("\n\n")
		b.WriteString(p.Prompt)
	}

	others := make([]string, 0, len(c.order))
	for _, id := range c.order {
		if id != Normalize(string(active)) {
			others = append(others, string(id))
		}
	}
	sort.Strings(others)
	if len(others) > 0 {
		b.WriteString("\n\nOther personas you can hand off to with switch_speaker: ")
		b.WriteString(strings.Join(others, ", "))
		b.WriteString(".")
	}

	return b.String()
}
