// Package rag defines the types that flow through the retrieval-augmented
// generation pipeline: scored matches returned by the vector index, the
// context passages selected from them, and the citation records handed back
// to the caller alongside the generated answer.
// Concrete backends (Pinecone, Qdrant, OpenAI) satisfy the interfaces here so
// the pipeline never depends on a specific service.
package rag

import (
	"context"

	"github.com/54b3r/docchat-go/internal/descriptor"
)

const (
	// DefaultTopK is the number of nearest neighbours requested per turn.
	// Three keeps the prompt small at the cost of some recall.
	DefaultTopK = 3

	// MinRelevanceScore is the similarity cutoff applied to every match after
	// the first accepted one.
	MinRelevanceScore = 0.60
)

// Metadata is the payload stored next to each vector by the ingestion job.
type Metadata struct {
	// Source is the path or URI of the originating document.
	Source string

	// Text is the raw chunk text.
	Text string

	// PageCount is the page count of the source PDF, zero when unknown.
	PageCount int
}

// Match is a single scored neighbour returned by the vector index.
type Match struct {
	// ID is the vector identifier inside the index.
	ID string

	// Score is the similarity score in [0,1].
	Score float64

	// Metadata is the chunk payload attached to the vector.
	Metadata Metadata
}

// Passage is a sanitized chunk of context selected for the prompt.
type Passage struct {
	// Text is the sanitized chunk text. Never empty.
	Text string

	// Source is the originating document path.
	Source string

	// Score is the score of the match the passage was built from.
	Score float64
}

// Citation identifies a source document backing the generated answer.
type Citation struct {
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}

// Query is a single nearest-neighbour request against a resolved index.
type Query struct {
	// Target is the resolved index the query is addressed to.
	Target descriptor.Descriptor

	// Vector is the query embedding.
	Vector []float32

	// TopK is the number of neighbours to return.
	TopK int

	// Namespace partitions the index. Empty selects the default namespace.
	Namespace string
}

// Embedder converts the text of one chat turn into an embedding vector.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns the embedding of text, authenticating with apiKey.
	Embed(ctx context.Context, apiKey, text string) ([]float32, error)
}

// Querier runs nearest-neighbour queries against a vector index.
// Implementations must be safe to call from multiple goroutines.
type Querier interface {
	// Query returns the matches for q in the order the service returned them.
	Query(ctx context.Context, q Query) ([]Match, error)
}
