package index

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docchat-go/internal/rag"
)

// Payload keys written next to each point by the ingestion job.
const (
	payloadSource    = "source"
	payloadText      = "text"
	payloadNumPages  = "pdf_numpages"
	payloadNamespace = "namespace"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection, when set, overrides the collection derived from the
	// query's descriptor index name.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements rag.Querier backed by a Qdrant instance. Namespaces
// are modelled as a keyword payload field, so one collection can hold many.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// collection is the fixed collection override, empty when unset.
	collection string
}

// NewQdrant creates a QdrantIndex. The connection is established lazily by
// the gRPC client; use NewQdrantPinger to verify reachability.
func NewQdrant(cfg *QdrantConfig) (*QdrantIndex, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantIndex{client: client, collection: cfg.Collection}, nil
}

// Query performs a similarity search and returns the top-k matches in the
// order Qdrant returned them.
func (s *QdrantIndex) Query(ctx context.Context, q rag.Query) ([]rag.Match, error) {
	collection := s.collectionFor(q)
	topK := q.TopK
	if topK <= 0 {
		topK = rag.DefaultTopK
	}

	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Filter:         namespaceFilter(q.Namespace),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &rag.RetrievalError{Err: fmt.Errorf("qdrant query on %q: %w", collection, err)}
	}

	matches := make([]rag.Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, toMatch(r.GetId(), r.GetScore(), r.GetPayload()))
	}
	return matches, nil
}

// Collection returns the configured collection override, empty when each
// query's descriptor names the collection.
func (s *QdrantIndex) Collection() string {
	return s.collection
}

// collectionFor returns the collection q runs against.
func (s *QdrantIndex) collectionFor(q rag.Query) string {
	if s.collection != "" {
		return s.collection
	}
	return q.Target.IndexName
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// Client exposes the gRPC client for readiness probing.
func (s *QdrantIndex) Client() *qdrant.Client {
	return s.client
}

// namespaceFilter restricts a query to one namespace. An empty namespace
// searches the whole collection.
func namespaceFilter(ns string) *qdrant.Filter {
	if ns == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadNamespace, ns)},
	}
}

// toMatch converts a scored Qdrant point into a rag.Match.
func toMatch(id *qdrant.PointId, score float32, payload map[string]*qdrant.Value) rag.Match {
	m := rag.Match{ID: pointID(id), Score: float64(score)}
	if v, ok := payload[payloadSource]; ok {
		m.Metadata.Source = v.GetStringValue()
	}
	if v, ok := payload[payloadText]; ok {
		m.Metadata.Text = v.GetStringValue()
	}
	if v, ok := payload[payloadNumPages]; ok {
		if n := v.GetIntegerValue(); n != 0 {
			m.Metadata.PageCount = int(n)
		} else {
			m.Metadata.PageCount = int(v.GetDoubleValue())
		}
	}
	return m
}

// pointID renders a Qdrant point ID, which is either a UUID or an integer.
func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the server's Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
