// Package text prepares narration text for speech synthesis: sentence segmentation
// and optional normalisation of symbols, abbreviations and numbers.
package text

import (
	"regexp"
	"strings"
)

// sentencePattern matches one sentence: non-terminal characters, one or more
// terminal marks, then optional whitespace.
var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+\s*`)

// Segment splits text into speakable sentence units in order. Each unit is trimmed
// and non-empty. Text after the last terminal mark becomes a final unit, and text
// without any terminal mark is returned whole. Punctuation no sentence covers is kept:
// a leading run joins the first unit and a run between sentences joins the one before
// it, so the units hold every non-space character of the input in order.
// Whitespace-only input yields nil.
func Segment(text string) []string {
	matches := sentencePattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}

		return []string{trimmed}
	}

	sentences := make([]string, 0, len(matches)+1)
	unitStart := 0

	for index, match := range matches {
		if index > 0 {
			previousEnd := matches[index-1][1]
			if strings.TrimSpace(text[previousEnd:match[0]]) != "" {
				sentences[len(sentences)-1] = strings.TrimSpace(text[unitStart:match[0]])
			}

			unitStart = match[0]
		}

		sentences = append(sentences, strings.TrimSpace(text[unitStart:match[1]]))
	}

	remainder := strings.TrimSpace(text[matches[len(matches)-1][1]:])
	if remainder != "" {
		sentences = append(sentences, remainder)
	}

	return sentences
}
