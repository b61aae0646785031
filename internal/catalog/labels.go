package catalog

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

const (
	defaultPhrasePrefix = "a photo of "
	vowels              = "aeiou"
)

var parentheticalPattern = regexp.MustCompile(`\s*\([^)]*\)`)

// Labels is the ordered candidate phrase list and the case-insensitive
// phrase -> component lookup built from a catalog. It is immutable.
type Labels struct {
	phrases      []string
	owners       map[string]string
	componentIDs []string
}

// BuildLabels expands every component into its candidate phrases: the classifier
// label, a generated "a photo of a/an <name>" phrase and the curated aliases.
// A phrase already claimed by an earlier component (compared case-insensitively)
// is skipped, so the first writer wins.
func BuildLabels(components []Component) *Labels {
	labels := &Labels{
		owners: make(map[string]string),
	}

	for _, component := range components {
		labels.componentIDs = append(labels.componentIDs, component.ID)

		labels.add(component.ID, component.ClassifierLabel)
		labels.add(component.ID, DefaultPhrase(component.Name))

		for _, alias := range component.Aliases {
			labels.add(component.ID, alias)
		}
	}

	return labels
}

// DefaultPhrase builds "a photo of a <name>" or "a photo of an <name>" from a
// display name, dropping any parenthetical and lowercasing it.
func DefaultPhrase(name string) string {
	stripped := strings.ToLower(strings.TrimSpace(parentheticalPattern.ReplaceAllString(name, "")))
	if stripped == "" {
		return ""
	}

	article := "a "
	if strings.ContainsRune(vowels, rune(stripped[0])) {
		article = "an "
	}

	return defaultPhrasePrefix + article + stripped
}

func (l *Labels) add(componentID, phrase string) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return
	}

	key := l.key(phrase)
	if _, taken := l.owners[key]; taken {
		return
	}

	l.owners[key] = componentID
	l.phrases = append(l.phrases, phrase)
}

// key folds case for comparison. A Caser is stateful, so each call gets its own.
func (l *Labels) key(phrase string) string {
	return cases.Fold().String(strings.TrimSpace(phrase))
}

// Phrases returns a copy of the candidate phrases in construction order.
func (l *Labels) Phrases() []string {
	return append([]string(nil), l.phrases...)
}

// Len returns the number of unique candidate phrases.
func (l *Labels) Len() int {
	return len(l.phrases)
}

// Resolve maps a classifier label back to its component, ignoring case and
// surrounding whitespace.
func (l *Labels) Resolve(label string) (string, bool) {
	componentID, ok := l.owners[l.key(label)]

	return componentID, ok
}

// ComponentIDs returns the component identifiers in catalog order.
func (l *Labels) ComponentIDs() []string {
	return append([]string(nil), l.componentIDs...)
}
