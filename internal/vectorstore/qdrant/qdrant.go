// Package qdrant implements a session-scoped index on a Qdrant server.
// Every Build creates a fresh collection that lives until the Index is
// closed.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

const (
	DefaultPort             = 6334
	DefaultCollectionPrefix = "docqa_"
	DefaultBatchSize        = 256
	defaultTimeout          = 15 * time.Second

	// tieWindow extra candidates are fetched so that passages sharing the
	// k-th score can still be ordered by position. The window doubles while
	// the last candidate still ties the k-th score.
	tieWindow = 8
)

// Config configures the Qdrant connection.
type Config struct {
	Host             string
	Port             int
	APIKey           string
	UseTLS           bool
	CollectionPrefix string
	BatchSize        int
	Timeout          time.Duration
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = DefaultCollectionPrefix
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Builder creates one collection per built index.
type Builder struct {
	cfg         Config
	conn        io.Closer
	collections pb.CollectionsClient
	points      pb.PointsClient
	logger      *slog.Logger
}

var _ domain.IndexBuilder = (*Builder)(nil)

// NewBuilder dials Qdrant's gRPC API. The connection is lazy; the first
// Build surfaces an unreachable server.
func NewBuilder(cfg Config, logger *slog.Logger) (*Builder, error) {
	cfg.applyDefaults()
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	b := newBuilder(conn, cfg, logger)
	b.conn = conn
	return b, nil
}

func newBuilder(cc grpc.ClientConnInterface, cfg Config, logger *slog.Logger) *Builder {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		cfg:         cfg,
		collections: pb.NewCollectionsClient(cc),
		points:      pb.NewPointsClient(cc),
		logger:      logger,
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close releases the gRPC connection. Indexes built by b must be closed
// first.
func (b *Builder) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// Build creates a collection and uploads eps into it. On failure the
// collection is dropped again.
func (b *Builder) Build(ctx context.Context, eps []domain.EmbeddedPassage) (domain.Index, error) {
	dim, err := vectorstore.Validate(eps)
	if err != nil {
		return nil, err
	}

	name := b.cfg.CollectionPrefix + uuid.NewString()
	_, err = b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     uint64(dim),
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant create collection %s: %w", name, err)
	}

	ix := &Index{
		name:        name,
		dim:         dim,
		size:        len(eps),
		timeout:     b.cfg.Timeout,
		collections: b.collections,
		points:      b.points,
		logger:      b.logger,
	}
	if err := b.upload(ctx, name, eps); err != nil {
		if cerr := ix.Close(); cerr != nil {
			b.logger.Warn("qdrant cleanup failed", "collection", name, "error", cerr)
		}
		return nil, err
	}
	b.logger.Debug("built qdrant index", "collection", name, "passages", len(eps), "dim", dim)
	return ix, nil
}

func (b *Builder) upload(ctx context.Context, name string, eps []domain.EmbeddedPassage) error {
	for start := 0; start < len(eps); start += b.cfg.BatchSize {
		end := min(start+b.cfg.BatchSize, len(eps))
		points := make([]*pb.PointStruct, 0, end-start)
		for _, ep := range eps[start:end] {
			points = append(points, toPoint(ep))
		}
		_, err := b.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: name,
			Wait:           pb.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant upsert into %s: %w", name, err)
		}
	}
	return nil
}

func toPoint(ep domain.EmbeddedPassage) *pb.PointStruct {
	p := ep.Passage
	return &pb.PointStruct{
		Id:      pb.NewIDNum(uint64(p.Position)),
		Vectors: pb.NewVectorsDense(ep.Vector),
		Payload: map[string]*pb.Value{
			"text":        pb.NewValueString(p.Text),
			"position":    pb.NewValueInt(int64(p.Position)),
			"char_length": pb.NewValueInt(int64(p.CharLength)),
		},
	}
}

// Index is a handle to one session collection. Queries use exact search
// so the ordering matches the in-memory index.
type Index struct {
	name        string
	dim         int
	size        int
	timeout     time.Duration
	collections pb.CollectionsClient
	points      pb.PointsClient
	logger      *slog.Logger
}

var _ domain.Index = (*Index)(nil)

// Collection returns the Qdrant collection backing the index.
func (ix *Index) Collection() string { return ix.name }

// Dimension returns the build-time vector dimension.
func (ix *Index) Dimension() int { return ix.dim }

// Len returns the number of indexed passages.
func (ix *Index) Len() int { return ix.size }

// Query returns the k passages most similar to vec.
func (ix *Index) Query(ctx context.Context, vec []float32, k int) ([]domain.RetrievalResult, error) {
	if ix == nil || ix.name == "" {
		return nil, domain.ErrIndexNotBuilt
	}
	if err := vectorstore.CheckK(k); err != nil {
		return nil, err
	}
	if err := vectorstore.CheckQuery(vec, ix.dim); err != nil {
		return nil, err
	}
	if k == 0 {
		return []domain.RetrievalResult{}, nil
	}

	var points []*pb.ScoredPoint
	limit := min(k+tieWindow, ix.size)
	for {
		resp, err := ix.points.Search(ctx, &pb.SearchPoints{
			CollectionName: ix.name,
			Vector:         vec,
			Limit:          uint64(limit),
			WithPayload:    pb.NewWithPayload(true),
			Params:         &pb.SearchParams{Exact: pb.PtrOf(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant search %s: %w", ix.name, err)
		}
		points = resp.GetResult()
		if limit >= ix.size || len(points) < limit || len(points) <= k ||
			points[len(points)-1].GetScore() < points[k-1].GetScore() {
			break
		}
		limit = min(limit*2, ix.size)
	}

	results := make([]domain.RetrievalResult, 0, len(points))
	for _, pt := range points {
		payload := pt.GetPayload()
		results = append(results, domain.RetrievalResult{
			Text:       payload["text"].GetStringValue(),
			Score:      float64(pt.GetScore()),
			Position:   int(payload["position"].GetIntegerValue()),
			CharLength: int(payload["char_length"].GetIntegerValue()),
		})
	}
	vectorstore.SortResults(results)
	return results[:min(k, len(results))], nil
}

// Close drops the collection.
func (ix *Index) Close() error {
	if ix == nil || ix.name == "" {
		return nil
	}
	timeout := ix.timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := ix.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: ix.name})
	if err != nil {
		return fmt.Errorf("qdrant delete collection %s: %w", ix.name, err)
	}
	ix.logger.Debug("dropped qdrant collection", "collection", ix.name)
	return nil
}
