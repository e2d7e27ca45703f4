package index

import (
	"context"
	"fmt"

	"github.com/54b3r/docchat-go/internal/descriptor"
)

// NamespaceStats describes one namespace of an index.
type NamespaceStats struct {
	VectorCount int64 `json:"vectorCount"`
}

// IndexStats is the summary returned by describe_index_stats.
type IndexStats struct {
	Namespaces       map[string]NamespaceStats `json:"namespaces"`
	Dimension        int                       `json:"dimension"`
	IndexFullness    float64                   `json:"indexFullness"`
	TotalVectorCount int64                     `json:"totalVectorCount"`
}

// Stats returns the namespace and vector counts of the index addressed by d.
// A non-200 response is returned as a *rag.RetrievalError carrying the raw
// upstream body, so callers can pass an authentication failure through.
func (p *PineconeIndex) Stats(ctx context.Context, d descriptor.Descriptor) (*IndexStats, error) {
	var stats IndexStats
	if err := p.post(ctx, d, "/describe_index_stats", struct{}{}, &stats); err != nil {
		return nil, err
	}
	if stats.Namespaces == nil {
		stats.Namespaces = map[string]NamespaceStats{}
	}
	return &stats, nil
}

// PineconePinger probes a Pinecone index by fetching its stats. It satisfies
// the server's Pinger interface and is used by GET /api/ready.
type PineconePinger struct {
	index  *PineconeIndex
	target descriptor.Descriptor
}

// NewPineconePinger constructs a PineconePinger for the index addressed by d.
func NewPineconePinger(idx *PineconeIndex, d descriptor.Descriptor) *PineconePinger {
	return &PineconePinger{index: idx, target: d}
}

// Name returns the dependency label used in readiness responses.
func (p *PineconePinger) Name() string { return "pinecone" }

// Ping returns nil when the index answers describe_index_stats.
func (p *PineconePinger) Ping(ctx context.Context) error {
	if _, err := p.index.Stats(ctx, p.target); err != nil {
		return fmt.Errorf("describe_index_stats failed: %w", err)
	}
	return nil
}
