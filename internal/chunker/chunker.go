package chunker

import (
	"strings"

	"docqa/internal/domain"
)

// Defaults for the two splitting modes.
const (
	DefaultWordChunkSize = 500
	DefaultCharChunkSize = 1000
	DefaultCharOverlap   = 150
)

// SplitWords splits text on whitespace and groups every chunkSize words,
// joined by single spaces.
func SplitWords(text string, chunkSize int) []string {
	if chunkSize < 1 {
		chunkSize = 1
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(words)+chunkSize-1)/chunkSize)
	for i := 0; i < len(words); i += chunkSize {
		end := i + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// SplitChars slides a window of chunkSize runes over text, advancing by
// chunkSize-overlap runes (at least one) per step. Words may be cut.
func SplitChars(text string, chunkSize, overlap int) []string {
	if text == "" {
		return nil
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	step := chunkSize - overlap
	if step < 1 {
		step = 1
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// WordChunker groups whitespace-separated words. Used by the embedding pipeline.
type WordChunker struct {
	chunkSize int
}

func NewWordChunker(chunkSize int) *WordChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultWordChunkSize
	}
	return &WordChunker{chunkSize: chunkSize}
}

func (c *WordChunker) Name() string { return "word" }

func (c *WordChunker) Split(text string) []string { return SplitWords(text, c.chunkSize) }

// CharChunker cuts fixed character windows with overlap.
type CharChunker struct {
	chunkSize int
	overlap   int
}

func NewCharChunker(chunkSize, overlap int) *CharChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultCharChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	return &CharChunker{chunkSize: chunkSize, overlap: overlap}
}

func (c *CharChunker) Name() string { return "char" }

func (c *CharChunker) Split(text string) []string { return SplitChars(text, c.chunkSize, c.overlap) }

var (
	_ domain.Chunker = (*WordChunker)(nil)
	_ domain.Chunker = (*CharChunker)(nil)
)
