package qdrant

import (
	"context"
	"math"
	"net"
	"strings"
	"sync"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"docqa/internal/domain"
)

type fakeCollection struct {
	dim    uint64
	points map[uint64]*pb.PointStruct
}

// fakeQdrant holds the state behind the fake Collections and Points
// services.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	searches    []*pb.SearchPoints
	failUpsert  bool
}

type fakeCollections struct {
	pb.UnimplementedCollectionsServer
	*fakeQdrant
}

type fakePoints struct {
	pb.UnimplementedPointsServer
	*fakeQdrant
}

func (f fakeCollections) Create(_ context.Context, req *pb.CreateCollection) (*pb.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[req.GetCollectionName()]; ok {
		return nil, status.Error(codes.AlreadyExists, "collection exists")
	}
	f.collections[req.GetCollectionName()] = &fakeCollection{
		dim:    req.GetVectorsConfig().GetParams().GetSize(),
		points: make(map[uint64]*pb.PointStruct),
	}
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (f fakeCollections) Delete(_ context.Context, req *pb.DeleteCollection) (*pb.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, req.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (f fakePoints) Upsert(_ context.Context, req *pb.UpsertPoints) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert {
		return nil, status.Error(codes.Unavailable, "disk full")
	}
	c, ok := f.collections[req.GetCollectionName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "no collection")
	}
	for _, p := range req.GetPoints() {
		if uint64(len(p.GetVectors().GetVector().GetDense().GetData())) != c.dim {
			return nil, status.Error(codes.InvalidArgument, "wrong dim")
		}
		c.points[p.GetId().GetNum()] = p
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f fakePoints) Search(_ context.Context, req *pb.SearchPoints) (*pb.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, req)
	c, ok := f.collections[req.GetCollectionName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "no collection")
	}
	var out []*pb.ScoredPoint
	for _, p := range c.points {
		out = append(out, &pb.ScoredPoint{
			Id:      p.GetId(),
			Payload: p.GetPayload(),
			Score:   cosine(p.GetVectors().GetVector().GetDense().GetData(), req.GetVector()),
		})
	}
	// Highest score first; equal scores in descending id order so the
	// client has to restore position order itself.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j-1], out[j]); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	if uint64(len(out)) > req.GetLimit() {
		out = out[:req.GetLimit()]
	}
	return &pb.SearchResponse{Result: out}, nil
}

func less(a, b *pb.ScoredPoint) bool {
	if a.GetScore() != b.GetScore() {
		return a.GetScore() < b.GetScore()
	}
	return a.GetId().GetNum() < b.GetId().GetNum()
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func newTestBuilder(t *testing.T) (*Builder, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{collections: make(map[string]*fakeCollection)}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	pb.RegisterCollectionsServer(srv, fakeCollections{fakeQdrant: fake})
	pb.RegisterPointsServer(srv, fakePoints{fakeQdrant: fake})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return newBuilder(conn, Config{BatchSize: 2}, nil), fake
}

func passages(vecs ...[]float32) []domain.EmbeddedPassage {
	out := make([]domain.EmbeddedPassage, len(vecs))
	for i, v := range vecs {
		out[i] = domain.EmbeddedPassage{
			Passage: domain.Passage{Text: strings.Repeat("x", i+1), Position: i, TotalCount: len(vecs), CharLength: i + 1},
			Vector:  v,
			Dim:     len(v),
		}
	}
	return out
}

func TestBuild_CreatesCollectionAndUploadsInBatches(t *testing.T) {
	b, fake := newTestBuilder(t)

	idx, err := b.Build(context.Background(), passages(
		[]float32{1, 0}, []float32{0, 1}, []float32{1, 1}, []float32{-1, 0}, []float32{0, -1},
	))
	require.NoError(t, err)
	ix := idx.(*Index)

	assert.True(t, strings.HasPrefix(ix.Collection(), DefaultCollectionPrefix))
	assert.Equal(t, 2, ix.Dimension())
	assert.Equal(t, 5, ix.Len())

	fake.mu.Lock()
	c := fake.collections[ix.Collection()]
	fake.mu.Unlock()
	require.NotNil(t, c)
	assert.Equal(t, uint64(2), c.dim)
	assert.Len(t, c.points, 5)
}

func TestBuild_ValidationHappensBeforeAnyRPC(t *testing.T) {
	b, fake := newTestBuilder(t)

	_, err := b.Build(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrEmptyIndex)

	_, err = b.Build(context.Background(), passages([]float32{1, 0}, []float32{1}))
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	assert.Empty(t, fake.collections)
}

func TestBuild_FailedUploadDropsCollection(t *testing.T) {
	b, fake := newTestBuilder(t)
	fake.failUpsert = true

	_, err := b.Build(context.Background(), passages([]float32{1, 0}))
	require.Error(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.collections)
}

func TestQuery_OrdersByScoreThenPosition(t *testing.T) {
	b, fake := newTestBuilder(t)
	idx, err := b.Build(context.Background(), passages(
		[]float32{0, 1}, []float32{1, 0}, []float32{2, 0}, []float32{3, 0},
	))
	require.NoError(t, err)

	rs, err := idx.Query(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, 1, rs[0].Position)
	assert.Equal(t, 2, rs[1].Position)
	assert.InDelta(t, 1.0, rs[0].Score, 1e-6)
	assert.Equal(t, "xx", rs[0].Text)
	assert.Equal(t, 2, rs[0].CharLength)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.searches, 1)
	assert.True(t, fake.searches[0].GetParams().GetExact())
	assert.Equal(t, uint64(4), fake.searches[0].GetLimit())
}

func TestQuery_Bounds(t *testing.T) {
	b, _ := newTestBuilder(t)
	idx, err := b.Build(context.Background(), passages([]float32{1, 0}, []float32{0, 1}, []float32{1, 1}))
	require.NoError(t, err)

	rs, err := idx.Query(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, rs, 3)
	assert.GreaterOrEqual(t, rs[0].Score, rs[1].Score)
	assert.GreaterOrEqual(t, rs[1].Score, rs[2].Score)

	rs, err = idx.Query(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, rs)

	_, err = idx.Query(context.Background(), []float32{1, 0, 0}, 1)
	require.ErrorIs(t, err, domain.ErrInvalidQueryVector)

	_, err = idx.Query(context.Background(), []float32{0, 0}, 1)
	require.ErrorIs(t, err, domain.ErrEmptyInput)

	_, err = idx.Query(context.Background(), []float32{1, 0}, -1)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestQuery_WidensWindowWhileScoresTie(t *testing.T) {
	b, fake := newTestBuilder(t)
	vecs := make([][]float32, 20)
	for i := range vecs {
		vecs[i] = []float32{1, 0}
	}
	idx, err := b.Build(context.Background(), passages(vecs...))
	require.NoError(t, err)

	rs, err := idx.Query(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, 0, rs[0].Position)
	assert.Equal(t, 1, rs[1].Position)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	var limits []uint64
	for _, s := range fake.searches {
		limits = append(limits, s.GetLimit())
	}
	assert.Equal(t, []uint64{10, 20}, limits)
}

func TestQuery_StopsWhenScoreDropsBelowKth(t *testing.T) {
	b, fake := newTestBuilder(t)
	vecs := make([][]float32, 20)
	for i := range vecs {
		vecs[i] = []float32{float32(i + 1), 1}
	}
	idx, err := b.Build(context.Background(), passages(vecs...))
	require.NoError(t, err)

	_, err = idx.Query(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.searches, 1)
}

func TestQuery_ZeroValueIsNotBuilt(t *testing.T) {
	var ix Index
	_, err := ix.Query(context.Background(), []float32{1}, 1)
	require.ErrorIs(t, err, domain.ErrIndexNotBuilt)
}

func TestClose_ZeroValueIsNoop(t *testing.T) {
	var ix Index
	require.NoError(t, ix.Close())
}

func TestClose_DropsCollection(t *testing.T) {
	b, fake := newTestBuilder(t)
	idx, err := b.Build(context.Background(), passages([]float32{1, 0}))
	require.NoError(t, err)

	require.NoError(t, idx.Close())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.collections)
}
