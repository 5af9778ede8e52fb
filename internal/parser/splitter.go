package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"rag-assistant/internal/models"
)

// Strategy is how normalized text is cut into chunks.
type Strategy int

const (
	StrategyParagraphs Strategy = iota
	StrategyPairs
	StrategyLines
)

func (f Format) Strategy() Strategy {
	switch f {
	case FormatList:
		return StrategyLines
	case FormatQAPairs:
		return StrategyPairs
	default:
		return StrategyParagraphs
	}
}

var (
	paragraphRe = regexp.MustCompile(models.ParagraphSeparator)
	sentenceRe  = regexp.MustCompile(models.SentenceRegex)
)

// EstimateTokens approximates a token count as ceil(chars / 4).
func EstimateTokens(s string) int {
	return tokensFor(utf8.RuneCountInString(s))
}

func tokensFor(chars int) int {
	return (chars + 3) / 4
}

// Chunker normalizes and splits documents.
type Chunker struct {
	classifier *Classifier
	maxTokens  int
}

func NewChunker(classifier *Classifier, maxTokens int) *Chunker {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	if maxTokens <= 0 {
		maxTokens = models.DefaultMaxTokens
	}
	return &Chunker{classifier: classifier, maxTokens: maxTokens}
}

// Chunks returns the ordered chunks of one document.
func (c *Chunker) Chunks(filename, content string) []string {
	format := c.classifier.Classify(filename)
	return Split(format.Strategy(), Normalize(format, content), c.maxTokens)
}

// Split cuts already normalized text into chunks of at most maxTokens
// estimated tokens. Units too large on their own are cut into fixed
// character windows instead.
func Split(strategy Strategy, text string, maxTokens int) []string {
	if text == "" {
		return nil
	}
	switch strategy {
	case StrategyLines:
		return splitUnits(strings.Split(text, "\n"), "\n", maxTokens)
	case StrategyPairs:
		return splitUnits(strings.Split(text, "\n\n"), "\n\n", maxTokens)
	default:
		return splitParagraphs(text, maxTokens)
	}
}

func splitUnits(units []string, sep string, maxTokens int) []string {
	var chunks []string
	acc := accumulator{sep: sep, maxTokens: maxTokens}
	for _, unit := range units {
		if EstimateTokens(unit) > maxTokens {
			chunks = acc.flush(chunks)
			chunks = append(chunks, forceSplit(unit)...)
			continue
		}
		chunks = acc.add(chunks, unit)
	}
	return acc.flush(chunks)
}

func splitParagraphs(text string, maxTokens int) []string {
	var chunks []string
	paragraphs := accumulator{sep: "\n\n", maxTokens: maxTokens}
	for _, p := range paragraphRe.Split(text, -1) {
		if EstimateTokens(p) <= maxTokens {
			chunks = paragraphs.add(chunks, p)
			continue
		}

		chunks = paragraphs.flush(chunks)
		sentences := accumulator{sep: " ", maxTokens: maxTokens}
		for _, s := range sentenceRe.FindAllString(p, -1) {
			if EstimateTokens(s) > maxTokens {
				chunks = sentences.flush(chunks)
				chunks = append(chunks, forceSplit(s)...)
				continue
			}
			chunks = sentences.add(chunks, s)
		}
		chunks = sentences.flush(chunks)
	}
	return paragraphs.flush(chunks)
}

// forceSplit cuts s into windows of models.ForcedSplitChars characters.
func forceSplit(s string) []string {
	var out []string
	runes := []rune(s)
	for start := 0; start < len(runes); start += models.ForcedSplitChars {
		end := min(start+models.ForcedSplitChars, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

// accumulator joins units while the joined text stays within maxTokens.
type accumulator struct {
	sep       string
	maxTokens int
	parts     []string
	chars     int
}

func (a *accumulator) add(out []string, part string) []string {
	n := utf8.RuneCountInString(part)
	if len(a.parts) > 0 && tokensFor(a.chars+utf8.RuneCountInString(a.sep)+n) > a.maxTokens {
		out = a.flush(out)
	}
	if len(a.parts) > 0 {
		a.chars += utf8.RuneCountInString(a.sep)
	}
	a.parts = append(a.parts, part)
	a.chars += n
	return out
}

func (a *accumulator) flush(out []string) []string {
	if len(a.parts) == 0 {
		return out
	}
	if chunk := strings.Join(a.parts, a.sep); strings.TrimSpace(chunk) != "" {
		out = append(out, chunk)
	}
	a.parts = nil
	a.chars = 0
	return out
}
