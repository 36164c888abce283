// Package extractive answers from the retrieved passages without a language
// model, by picking the sentences that best match the question.
package extractive

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"docqa/internal/domain"
)

// queryWeight is how much a question term counts relative to the most
// frequent passage term.
const queryWeight = 2.0

// Synthesizer ranks sentences by question-term overlap and word frequency
// (stopwords filtered) and returns the best ones in their original order.
type Synthesizer struct {
	maxSentences  int
	tokenPattern  *regexp.Regexp
	sentencePatrn *regexp.Regexp
	stopwords     map[string]struct{}
}

// NewSynthesizer creates an extractive synthesizer returning at most
// maxSentences sentences (3 when <= 0).
func NewSynthesizer(maxSentences int) *Synthesizer {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Synthesizer{
		maxSentences:  maxSentences,
		tokenPattern:  regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		sentencePatrn: regexp.MustCompile(`(?m)[^.!?\n]+(?:[.!?]+|$)`),
		stopwords:     defaultStopwords(),
	}
}

// Answer never fails; empty passages yield an empty answer.
func (s *Synthesizer) Answer(_ context.Context, query, passages string) string {
	sentences := s.Sentences(passages)
	if len(sentences) == 0 {
		return ""
	}
	selected := s.rank(query, sentences)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " ")
}

// Sentences splits text into trimmed, non-empty sentences.
func (s *Synthesizer) Sentences(text string) []string {
	raw := s.sentencePatrn.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, sent := range raw {
		if t := strings.TrimSpace(sent); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// BestSentence returns the index of the sentence that best answers query,
// or -1 if there are none.
func (s *Synthesizer) BestSentence(query string, sentences []string) int {
	if len(sentences) == 0 {
		return -1
	}
	return s.score(query, sentences)[0].idx
}

type scored struct {
	idx   int
	score float64
}

// rank returns the indexes of the top sentences in original order.
func (s *Synthesizer) rank(query string, sentences []string) []int {
	scores := s.score(query, sentences)
	n := s.maxSentences
	if n > len(scores) {
		n = len(scores)
	}
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	return selected
}

// score orders sentences best first; ties keep the earlier sentence.
func (s *Synthesizer) score(query string, sentences []string) []scored {
	// Compute word frequencies
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			freq[tok]++
		}
	}
	// Normalize frequencies
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	queryTerms := map[string]struct{}{}
	for _, tok := range s.tokens(query) {
		queryTerms[tok] = struct{}{}
	}

	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		sscore := 0.0
		for _, tok := range toks {
			sscore += freq[tok]
			if _, ok := queryTerms[tok]; ok {
				sscore += queryWeight
			}
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			sscore /= math.Sqrt(l)
		}
		scores[i] = scored{i, sscore}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	return scores
}

func (s *Synthesizer) tokens(text string) []string {
	raw := s.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, ok := s.stopwords[t]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "how", "why", "when", "where", "do", "does", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

var _ domain.Synthesizer = (*Synthesizer)(nil)
