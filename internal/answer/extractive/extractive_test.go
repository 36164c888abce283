package extractive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

const passages = "Qdrant is a vector database. It stores embeddings with payloads.\n" +
	"Cats sleep for most of the day. Dogs enjoy long walks.\n" +
	"Embeddings are compared with cosine similarity"

func TestAnswerPicksMatchingSentence(t *testing.T) {
	s := NewSynthesizer(1)
	got := s.Answer(context.Background(), "How long do cats sleep?", passages)
	assert.Equal(t, "Cats sleep for most of the day.", got)
}

func TestAnswerKeepsOriginalOrder(t *testing.T) {
	s := NewSynthesizer(2)
	got := s.Answer(context.Background(), "embeddings cosine", passages)
	assert.Equal(t, "It stores embeddings with payloads. Embeddings are compared with cosine similarity", got)
}

func TestAnswerEmptyPassages(t *testing.T) {
	assert.Equal(t, "", NewSynthesizer(0).Answer(context.Background(), "q", "  \n "))
}

func TestSentences(t *testing.T) {
	s := NewSynthesizer(0)
	got := s.Sentences("One. Two!\nThree without stop\n\nFour?")
	assert.Equal(t, []string{"One.", "Two!", "Three without stop", "Four?"}, got)
}

func TestBestSentence(t *testing.T) {
	s := NewSynthesizer(0)
	sentences := []string{"Dogs bark.", "Cats purr.", "Birds sing."}
	assert.Equal(t, 1, s.BestSentence("why do cats purr", sentences))
	assert.Equal(t, -1, s.BestSentence("x", nil))
}
