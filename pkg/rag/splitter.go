package rag

import (
	"strings"
	"unicode/utf8"
)

// Splitter cuts a document into chunks small enough to embed.
type Splitter interface {
	SplitText(text string) []string
}

// RecursiveCharacterSplitter splits on the first separator that occurs in the
// text and recurses with the next ones on pieces that are still too large,
// so paragraphs stay together before sentences, and sentences before words.
// Sizes are in runes.
type RecursiveCharacterSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewSplitter picks the splitter for the configured strategy.
func NewSplitter(cfg Config) Splitter {
	size := cfg.ChunkSize
	if size <= 0 {
		size = 500
	}
	overlap := max(cfg.ChunkOverlap, 0)

	if len(cfg.CustomSeparators) > 0 {
		return &RecursiveCharacterSplitter{ChunkSize: size, ChunkOverlap: overlap, Separators: cfg.CustomSeparators}
	}

	switch cfg.ChunkingStrategy {
	case "code":
		return NewCodeSplitter(size, overlap)
	case "markdown", "md":
		return &RecursiveCharacterSplitter{
			ChunkSize:    size,
			ChunkOverlap: overlap,
			Separators:   []string{"\n## ", "\n### ", "\n\n", "\n", " ", ""},
		}
	case "fixed":
		return &RecursiveCharacterSplitter{ChunkSize: size, ChunkOverlap: overlap, Separators: []string{""}}
	default:
		return NewRecursiveSplitter(size, overlap)
	}
}

// NewRecursiveSplitter creates a splitter with separators suited to prose.
func NewRecursiveSplitter(chunkSize, chunkOverlap int) *RecursiveCharacterSplitter {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &RecursiveCharacterSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   []string{"\n\n", "\n", " ", ""},
	}
}

// NewCodeSplitter prefers cutting before top-level declarations.
func NewCodeSplitter(chunkSize, chunkOverlap int) *RecursiveCharacterSplitter {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &RecursiveCharacterSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   []string{"\nfunc ", "\ntype ", "\nclass ", "\ndef ", "\n\n", "\n", " ", ""},
	}
}

func (s *RecursiveCharacterSplitter) SplitText(text string) []string {
	var chunks []string
	for _, c := range s.recursiveSplit(text, s.Separators) {
		if strings.TrimSpace(c) != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func (s *RecursiveCharacterSplitter) recursiveSplit(text string, separators []string) []string {
	if len(separators) == 0 {
		return []string{text}
	}

	separator := separators[0]
	next := separators[1:]

	parts := strings.Split(text, separator)
	if len(parts) == 1 && separator != "" {
		return s.recursiveSplit(text, next)
	}

	var good []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) < s.ChunkSize || len(next) == 0 {
			good = append(good, part)
			continue
		}
		good = append(good, s.recursiveSplit(part, next)...)
	}

	return s.mergeSplits(good, separator)
}

// mergeSplits joins consecutive pieces with separator up to ChunkSize. When a
// chunk is closed, its tail of at most ChunkOverlap runes opens the next one.
func (s *RecursiveCharacterSplitter) mergeSplits(splits []string, separator string) []string {
	var merged []string
	var current []string
	currentLen := 0
	sepLen := utf8.RuneCountInString(separator)

	for _, split := range splits {
		splitLen := utf8.RuneCountInString(split)

		if currentLen+splitLen+len(current)*sepLen > s.ChunkSize && len(current) > 0 {
			merged = append(merged, strings.Join(current, separator))

			if s.ChunkOverlap > 0 {
				current = s.keepOverlap(current, separator)
				currentLen = joinedLen(current, sepLen) - max(len(current)-1, 0)*sepLen
			} else {
				current = nil
				currentLen = 0
			}
		}

		current = append(current, split)
		currentLen += splitLen
	}

	if len(current) > 0 {
		merged = append(merged, strings.Join(current, separator))
	}
	return merged
}

// keepOverlap drops pieces from the head until the joined rest fits in ChunkOverlap.
func (s *RecursiveCharacterSplitter) keepOverlap(parts []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)
	total := joinedLen(parts, sepLen)

	for len(parts) > 0 && total > s.ChunkOverlap {
		total -= utf8.RuneCountInString(parts[0])
		parts = parts[1:]
		if len(parts) > 0 {
			total -= sepLen
		}
	}
	return append([]string(nil), parts...)
}

func joinedLen(parts []string, sepLen int) int {
	n := 0
	for _, p := range parts {
		n += utf8.RuneCountInString(p)
	}
	if len(parts) > 1 {
		n += (len(parts) - 1) * sepLen
	}
	return n
}

// locate finds the byte offset of every chunk in text, searching forward from
// the previous match. Chunks that were rejoined with a different separator than
// the source used get -1.
func locate(text string, chunks []string) []int {
	offsets := make([]int, len(chunks))
	from := 0
	for i, c := range chunks {
		idx := strings.Index(text[from:], c)
		if idx < 0 {
			offsets[i] = -1
			continue
		}
		offsets[i] = from + idx
		from = offsets[i] + 1
		if from > len(text) {
			from = len(text)
		}
	}
	return offsets
}
