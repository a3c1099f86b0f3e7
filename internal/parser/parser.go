package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/vocabio/internal/domain"
)

const separator = "---"

type field int

const (
	seeking field = iota
	readingWord
	readingPronunciation
	readingDefinition
	readingExample
	readingTags
)

var prefixes = []struct {
	prefix string
	field  field
}{
	{"W:", readingWord},
	{"P:", readingPronunciation},
	{"D:", readingDefinition},
	{"E:", readingExample},
	{"T:", readingTags},
}

// ParseFile reads a deck from the given path and extracts all vocabulary entries.
func ParseFile(path string) ([]domain.Vocabulary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads a deck from an io.Reader and extracts all vocabulary entries.
//
// An entry starts at a "W:" line. "D:" starts a new definition, "E:" sets the
// example of the latest definition, "P:" is the pronunciation and "T:" a
// comma-separated tag list. Unprefixed lines continue the previous field.
// Markdown headings set the topic of the entries below them, and "---" ends
// the current entry. Entries without a word are dropped.
func Parse(r io.Reader) ([]domain.Vocabulary, error) {
	scanner := bufio.NewScanner(r)
	var entries []domain.Vocabulary
	var current domain.Vocabulary
	var block []string
	currentState := seeking
	topic := ""

	flushBlock := func() {
		content := strings.TrimSpace(strings.Join(block, "\n"))
		switch currentState {
		case readingWord:
			current.Word = content
		case readingPronunciation:
			current.Pronunciation = content
		case readingDefinition:
			if content != "" {
				current.Definitions = append(current.Definitions, domain.Definition{Definition: content})
			}
		case readingExample:
			if n := len(current.Definitions); n > 0 {
				current.Definitions[n-1].Example = content
			} else if content != "" {
				current.Definitions = append(current.Definitions, domain.Definition{Example: content})
			}
		case readingTags:
			current.Tags = splitTags(content)
		}
		block = nil
		currentState = seeking
	}

	finishEntry := func() {
		flushBlock()
		if current.Word != "" {
			current.Topic = topic
			entries = append(entries, current)
		}
		current = domain.Vocabulary{}
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(line) == separator {
			finishEntry()
			continue
		}

		if strings.HasPrefix(line, "#") {
			finishEntry()
			topic = strings.TrimSpace(strings.TrimLeft(line, "#"))
			continue
		}

		if f, content, ok := matchPrefix(line); ok {
			flushBlock()
			if f == readingWord && current.Word != "" { // A new word always starts a new entry
				finishEntry()
			}
			currentState = f
			block = append(block, content)
		} else if currentState != seeking {
			block = append(block, line)
		}
	}

	finishEntry() // Finish the very last entry in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func matchPrefix(line string) (field, string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(line, p.prefix) {
			return p.field, line[len(p.prefix):], true
		}
	}
	return seeking, "", false
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
