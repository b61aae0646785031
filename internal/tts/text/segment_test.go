package text_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/component-narrator/internal/tts/text"
)

func TestSegment(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "two sentences",
			input:    "A resistor limits current. It has two legs!",
			expected: []string{"A resistor limits current.", "It has two legs!"},
		},
		{
			name:     "trailing fragment without terminal mark",
			input:    "Hello there. How are you",
			expected: []string{"Hello there.", "How are you"},
		},
		{
			name:     "no punctuation",
			input:    "no punctuation here",
			expected: []string{"no punctuation here"},
		},
		{
			name:     "repeated terminal marks stay with their sentence",
			input:    "Wait... Really?! Yes.",
			expected: []string{"Wait...", "Really?!", "Yes."},
		},
		{
			name:     "surrounding whitespace is trimmed",
			input:    "  First one.\n\n  Second one?  ",
			expected: []string{"First one.", "Second one?"},
		},
		{
			name:     "leading punctuation joins the first sentence",
			input:    "... and then it blinked.",
			expected: []string{"... and then it blinked."},
		},
		{
			name:     "leading ellipsis without space",
			input:    "...and then it glows.",
			expected: []string{"...and then it glows."},
		},
		{
			name:     "stray punctuation joins the sentence before it",
			input:    "Wait! ?! Really.",
			expected: []string{"Wait! ?!", "Really."},
		},
		{
			name:     "punctuation only",
			input:    "?!",
			expected: []string{"?!"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, text.Segment(tc.input))
		})
	}
}

func TestSegment_BlankInput(t *testing.T) {
	t.Parallel()

	assert.Empty(t, text.Segment(""))
	assert.Empty(t, text.Segment(" \t\n "))
}

func TestSegment_RemainderFollowsLastMatch(t *testing.T) {
	t.Parallel()

	// Whitespace between sentences is trimmed away, so a remainder computed from
	// the joined length of the units would start too early.
	input := "One.     Two.        three"

	units := text.Segment(input)

	require.Len(t, units, 3)
	assert.Equal(t, "three", units[2])
}

func TestSegment_UnitsAreNonEmptyAndOrdered(t *testing.T) {
	t.Parallel()

	input := "The LED glows. It needs a resistor! Does polarity matter? Yes. Always"

	units := text.Segment(input)

	require.NotEmpty(t, units)

	position := 0

	for _, unit := range units {
		require.NotEmpty(t, unit)
		require.Equal(t, unit, strings.TrimSpace(unit))

		index := strings.Index(input[position:], unit)
		require.GreaterOrEqual(t, index, 0, "unit %q out of order", unit)

		position += index + len(unit)
	}
}

func TestSegment_KeepsEveryNonSpaceCharacter(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"...and then it glows.",
		"Wait! ?! Really.",
		"One. !! Two? ... Three",
		"  ?? Hello.   . World!  ",
	}

	stripSpace := func(value string) string {
		return strings.Join(strings.Fields(value), "")
	}

	for _, input := range inputs {
		assert.Equal(t, stripSpace(input), stripSpace(strings.Join(text.Segment(input), " ")), input)
	}
}
