package text

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Punctuation and symbol constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

var (
	groupedNumberPattern = regexp.MustCompile(`(\d),(\d{3})\b`)
	numberPattern        = regexp.MustCompile(`\d+(?:\.\d+)?`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
)

// Normalizer rewrites text so a speech model can pronounce it and so that
// abbreviations and decimal points do not end sentences early.
type Normalizer struct {
	symbolReplacer       *strings.Replacer
	abbreviationReplacer *strings.Replacer
}

// NewNormalizer creates a Normalizer with its replacement tables compiled.
func NewNormalizer() *Normalizer {
	symbols := []string{
		emDash, ", ",
		enDash, "-",
		figureDash, "-",
		ellipsisChar, ellipsis,
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
		"°C", " degrees Celsius",
		"°F", " degrees Fahrenheit",
		"°", " degrees",
		"\u03a9", " ohms",
		"\u03bc", "micro",
		"±", "plus or minus ",
		"%", " percent",
		"→", " to ",
	}

	abbreviations := []string{
		"e.g.", "for example",
		"i.e.", "that is",
		"vs.", "versus",
		"approx.", "approximately",
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Inc.", "Incorporated",
	}

	return &Normalizer{
		symbolReplacer:       strings.NewReplacer(symbols...),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
	}
}

// Normalize applies Unicode compatibility normalisation, spells out symbols,
// abbreviations and numbers, and collapses whitespace.
func (n *Normalizer) Normalize(input string) string {
	if input == "" {
		return input
	}

	normalized := norm.NFKC.String(input)
	normalized = n.symbolReplacer.Replace(normalized)
	normalized = n.abbreviationReplacer.Replace(normalized)
	normalized = groupedNumberPattern.ReplaceAllString(normalized, "$1$2")
	normalized = numberPattern.ReplaceAllStringFunc(normalized, numberToWords)
	normalized = whitespacePattern.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}

// numberToWords spells out an integer or a decimal such as "2.5".
func numberToWords(number string) string {
	integerPart, fractionPart, hasFraction := strings.Cut(number, ".")

	value, err := strconv.Atoi(integerPart)
	if err != nil {
		return number
	}

	words := IntegerToWords(value)
	if !hasFraction {
		return words
	}

	digits := make([]string, 0, len(fractionPart))
	for _, digit := range fractionPart {
		digits = append(digits, onesWords[digit-'0'])
	}

	return words + " point " + strings.Join(digits, " ")
}
