// Package catalog holds the static electronic component catalog and the candidate
// phrase table derived from it for zero-shot classification.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed components.toml
var builtinCatalog []byte

// Category is the coarse functional group of a component.
type Category string

// Supported categories.
const (
	CategoryPassive Category = "passive"
	CategoryActive  Category = "active"
	CategoryInput   Category = "input"
	CategoryOutput  Category = "output"
)

var (
	// ErrEmptyCatalog indicates a catalog without components.
	ErrEmptyCatalog = errors.New("catalog has no components")
	// ErrInvalidComponent indicates a component entry that fails validation.
	ErrInvalidComponent = errors.New("invalid component")
	// ErrDuplicateComponent indicates two entries sharing an identifier.
	ErrDuplicateComponent = errors.New("duplicate component id")
	// ErrUnknownCategory indicates a category outside the fixed enumeration.
	ErrUnknownCategory = errors.New("unknown category")
)

// Categories returns every valid category in display order.
func Categories() []Category {
	return []Category{CategoryPassive, CategoryActive, CategoryInput, CategoryOutput}
}

// ParseCategory validates a user supplied category name.
func ParseCategory(name string) (Category, error) {
	candidate := Category(strings.ToLower(strings.TrimSpace(name)))
	for _, category := range Categories() {
		if candidate == category {
			return category, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// Spec is a single label/value line on a component's data card.
type Spec struct {
	Label string `json:"label" toml:"label"`
	Value string `json:"value" toml:"value"`
}

// Component is an immutable catalog entry.
type Component struct {
	ID               string   `json:"id"               toml:"id"`
	Name             string   `json:"name"             toml:"name"`
	Category         Category `json:"category"         toml:"category"`
	ClassifierLabel  string   `json:"classifierLabel"  toml:"classifier_label"`
	Aliases          []string `json:"aliases"          toml:"aliases"`
	Description      string   `json:"description"      toml:"description"`
	VoiceDescription string   `json:"voiceDescription" toml:"voice_description"`
	CircuitExample   string   `json:"circuitExample"   toml:"circuit_example"`
	Specs            []Spec   `json:"specs"            toml:"specs"`
}

type catalogFile struct {
	Components []Component `toml:"components"`
}

// Catalog is the ordered, read-only set of known components.
type Catalog struct {
	components []Component
	byID       map[string]int
	labels     *Labels
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Load(builtinCatalog)
}

// LoadFile reads a TOML catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	return Load(data)
}

// Load parses a TOML catalog.
func Load(data []byte) (*Catalog, error) {
	var file catalogFile

	err := toml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	return New(file.Components)
}

// New validates the given components and builds the catalog with its label table.
func New(components []Component) (*Catalog, error) {
	if len(components) == 0 {
		return nil, ErrEmptyCatalog
	}

	byID := make(map[string]int, len(components))
	owned := make([]Component, 0, len(components))

	for index, component := range components {
		validationErr := validateComponent(component)
		if validationErr != nil {
			return nil, fmt.Errorf("component #%d: %w", index+1, validationErr)
		}

		if _, exists := byID[component.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateComponent, component.ID)
		}

		component.Aliases = append([]string(nil), component.Aliases...)
		component.Specs = append([]Spec(nil), component.Specs...)
		byID[component.ID] = len(owned)
		owned = append(owned, component)
	}

	return &Catalog{
		components: owned,
		byID:       byID,
		labels:     BuildLabels(owned),
	}, nil
}

func validateComponent(component Component) error {
	if strings.TrimSpace(component.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidComponent)
	}

	if strings.TrimSpace(component.Name) == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidComponent, component.ID)
	}

	if strings.TrimSpace(component.ClassifierLabel) == "" {
		return fmt.Errorf("%w: %s has no classifier label", ErrInvalidComponent, component.ID)
	}

	_, categoryErr := ParseCategory(string(component.Category))
	if categoryErr != nil {
		return fmt.Errorf("component %s: %w", component.ID, categoryErr)
	}

	return nil
}

// Len returns the number of components.
func (c *Catalog) Len() int {
	return len(c.components)
}

// All returns every component in catalog order.
func (c *Catalog) All() []Component {
	return append([]Component(nil), c.components...)
}

// ByID looks up a component by identifier.
func (c *Catalog) ByID(id string) (Component, bool) {
	index, ok := c.byID[id]
	if !ok {
		return Component{}, false
	}

	return c.components[index], true
}

// ByCategory returns the components of one category in catalog order.
func (c *Catalog) ByCategory(category Category) []Component {
	var matches []Component

	for _, component := range c.components {
		if component.Category == category {
			matches = append(matches, component)
		}
	}

	return matches
}

// IDs returns every component identifier in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.components))
	for index, component := range c.components {
		ids[index] = component.ID
	}

	return ids
}

// Labels returns the candidate phrase table built for this catalog.
func (c *Catalog) Labels() *Labels {
	return c.labels
}
