package parser

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"rag-assistant/internal/models"
)

// Format tags the structure of a source document. The set is closed; new
// filenames are mapped onto an existing format through a Classifier.
type Format int

const (
	FormatPlain Format = iota
	FormatQAPairs
	FormatNumberedAnswer
	FormatList
)

var formatNames = map[Format]string{
	FormatPlain:          "plain",
	FormatQAPairs:        "qa_pairs",
	FormatNumberedAnswer: "numbered_answer",
	FormatList:           "list",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat maps a config tag like "qa_pairs" onto a Format.
func ParseFormat(name string) (Format, error) {
	for f, n := range formatNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return f, nil
		}
	}
	return FormatPlain, fmt.Errorf("unknown document format %q", name)
}

var defaultFormats = map[string]Format{
	"FAQ.txt":                 FormatQAPairs,
	"Knowledege Base QnA.txt": FormatNumberedAnswer,
	"china_subscribers.txt":   FormatList,
	"subscriber-list.txt":     FormatList,
}

// Classifier selects the Format of a document from its file name.
type Classifier struct {
	byName map[string]Format
}

func DefaultClassifier() *Classifier {
	c, _ := NewClassifier(nil)
	return c
}

// NewClassifier starts from the built-in file names and layers overrides
// (file name -> format tag) on top.
func NewClassifier(overrides map[string]string) (*Classifier, error) {
	byName := make(map[string]Format, len(defaultFormats)+len(overrides))
	for name, f := range defaultFormats {
		byName[name] = f
	}
	for name, tag := range overrides {
		f, err := ParseFormat(tag)
		if err != nil {
			return nil, err
		}
		byName[name] = f
	}
	return &Classifier{byName: byName}, nil
}

func (c *Classifier) Classify(filename string) Format {
	if f, ok := c.byName[filepath.Base(filename)]; ok {
		return f
	}
	return FormatPlain
}

var (
	qaPairRe     = regexp.MustCompile(models.QAPairRegex)
	numberedRe   = regexp.MustCompile(models.NumberedItemRegex)
	quoteReplace = strings.NewReplacer("‘", "'", "’", "'", "“", `"`, "”", `"`)
)

// Normalize canonicalizes quotes and rewrites structured Q&A sources into
// blank-line separated blocks. Malformed structured content is returned as
// plain text.
func Normalize(format Format, content string) string {
	content = quoteReplace.Replace(content)
	switch format {
	case FormatQAPairs:
		return normalizeQAPairs(content)
	case FormatNumberedAnswer:
		return normalizeNumberedAnswer(content)
	default:
		return content
	}
}

func normalizeQAPairs(content string) string {
	pairs := qaPairRe.FindAllStringSubmatch(content, -1)
	if len(pairs) == 0 {
		return content
	}
	blocks := make([]string, len(pairs))
	for i, m := range pairs {
		blocks[i] = fmt.Sprintf("Q: %s\nA: %s", m[1], m[2])
	}
	return strings.Join(blocks, "\n\n")
}

// every numbered item keeps the question so it is still answerable once chunked on its own
func normalizeNumberedAnswer(content string) string {
	m := qaPairRe.FindStringSubmatch(content)
	if m == nil {
		return content
	}
	question, answer := m[1], m[2]

	markers := numberedRe.FindAllStringIndex(answer, -1)
	var blocks []string
	for i, loc := range markers {
		end := len(answer)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		body := strings.TrimSpace(answer[loc[1]:end])
		if body == "" {
			continue
		}
		item := strings.TrimSpace(answer[loc[0]:loc[1]] + body)
		blocks = append(blocks, fmt.Sprintf("Q: %s\n\nRelevant Information:\n%s", question, item))
	}
	if len(blocks) == 0 {
		return content
	}
	return strings.Join(blocks, "\n\n")
}
