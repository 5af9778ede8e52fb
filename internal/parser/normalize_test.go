package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_QAPairs(t *testing.T) {
	in := `["What is TAIR?", "A resource."]
["How do I log in?",   "Use the login page."]`

	got := Normalize(FormatQAPairs, in)

	assert.Equal(t, "Q: What is TAIR?\nA: A resource.\n\nQ: How do I log in?\nA: Use the login page.", got)
}

func TestNormalize_ReplacesCurlyQuotes(t *testing.T) {
	got := Normalize(FormatPlain, "“Hello” it’s ‘fine’")
	assert.Equal(t, `"Hello" it's 'fine'`, got)
}

func TestNormalize_QAPairsAfterQuoteReplacement(t *testing.T) {
	got := Normalize(FormatQAPairs, "[“What is TAIR?”, “A resource.”]")
	assert.Equal(t, "Q: What is TAIR?\nA: A resource.", got)
}

func TestNormalize_NumberedAnswer(t *testing.T) {
	in := `["How do I subscribe?", "1. Visit the site. 2. Pay the fee. 3.   Log in."]`

	got := Normalize(FormatNumberedAnswer, in)

	want := "Q: How do I subscribe?\n\nRelevant Information:\n1. Visit the site." +
		"\n\nQ: How do I subscribe?\n\nRelevant Information:\n2. Pay the fee." +
		"\n\nQ: How do I subscribe?\n\nRelevant Information:\n3.   Log in."
	assert.Equal(t, want, got)
}

func TestNormalize_MalformedFallsBackToText(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		in     string
	}{
		{name: "qa pairs without pairs", format: FormatQAPairs, in: "just some prose"},
		{name: "numbered answer without pair", format: FormatNumberedAnswer, in: "no brackets here"},
		{name: "numbered answer without items", format: FormatNumberedAnswer, in: `["Q?", "an answer with no numbering"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.in, Normalize(tt.format, tt.in))
		})
	}
}

func TestClassifier_Defaults(t *testing.T) {
	c := DefaultClassifier()

	assert.Equal(t, FormatQAPairs, c.Classify("FAQ.txt"))
	assert.Equal(t, FormatNumberedAnswer, c.Classify("Knowledege Base QnA.txt"))
	assert.Equal(t, FormatList, c.Classify("docs/subscriber-list.txt"))
	assert.Equal(t, FormatList, c.Classify("china_subscribers.txt"))
	assert.Equal(t, FormatPlain, c.Classify("about.txt"))
}

func TestClassifier_Overrides(t *testing.T) {
	c, err := NewClassifier(map[string]string{
		"members.txt": "list",
		"FAQ.txt":     "plain",
	})
	require.NoError(t, err)

	assert.Equal(t, FormatList, c.Classify("members.txt"))
	assert.Equal(t, FormatPlain, c.Classify("FAQ.txt"))
	assert.Equal(t, FormatList, c.Classify("subscriber-list.txt"))
}

func TestClassifier_UnknownFormat(t *testing.T) {
	_, err := NewClassifier(map[string]string{"x.txt": "csv"})
	assert.Error(t, err)
}

func TestFormat_Strategy(t *testing.T) {
	assert.Equal(t, StrategyLines, FormatList.Strategy())
	assert.Equal(t, StrategyPairs, FormatQAPairs.Strategy())
	assert.Equal(t, StrategyParagraphs, FormatNumberedAnswer.Strategy())
	assert.Equal(t, StrategyParagraphs, FormatPlain.Strategy())
	assert.Equal(t, "numbered_answer", FormatNumberedAnswer.String())
}
