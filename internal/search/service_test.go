package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drzee1205/Nelson-books/internal/domain"
	"github.com/drzee1205/Nelson-books/internal/store/memory"
)

// fixedEmbedder returns a canned vector for any text.
type fixedEmbedder struct {
	dim    int
	vector []float32
	calls  int
}

func (f *fixedEmbedder) Name() string   { return "fixed" }
func (f *fixedEmbedder) Dimension() int { return f.dim }

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vector, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func newService(t *testing.T) (*Service, *fixedEmbedder) {
	t.Helper()
	st := memory.NewStorage(3)
	now := time.Now()
	records := []domain.Record{
		{ID: "a", Category: "Cardiology", Content: "one", Embedding: []float32{1, 0, 0}},
		{ID: "b", Category: "Cardiology", Content: "two", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c", Category: "Neurology", Content: "three", Embedding: []float32{0, 1, 0}},
	}
	for i := range records {
		records[i].Touch(now)
	}
	require.NoError(t, st.Upsert(context.Background(), records))

	emb := &fixedEmbedder{dim: 3, vector: []float32{1, 0, 0}}
	return NewService(emb, st, 0.5), emb
}

func TestSearchWithTextEmbedsQuery(t *testing.T) {
	svc, emb := newService(t)
	matches, err := svc.Search(context.Background(), Request{Text: "cardiac failure"})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls)
	require.NotEmpty(t, matches)
	assert.Equal(t, "a", matches[0].Record.ID)
}

func TestSearchWithVectorSkipsEmbedding(t *testing.T) {
	svc, emb := newService(t)
	matches, err := svc.Search(context.Background(), Request{Vector: []float32{0, 1, 0}})
	require.NoError(t, err)
	assert.Zero(t, emb.calls)
	require.NotEmpty(t, matches)
	assert.Equal(t, "c", matches[0].Record.ID)
}

func TestSearchDefaultMatchCount(t *testing.T) {
	svc, _ := newService(t)
	// Default threshold 0.5 keeps only the two Cardiology neighbors.
	matches, err := svc.Search(context.Background(), Request{Text: "anything"})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSearchRejectsNegativeMatchCount(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Search(context.Background(), Request{Text: "x", MatchCount: -1})
	var qerr *domain.InvalidQueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "match_count", qerr.Param)
}

func TestSearchRejectsOutOfRangeThreshold(t *testing.T) {
	svc, _ := newService(t)
	for _, bad := range []float64{-0.1, 1.1} {
		threshold := bad
		_, err := svc.Search(context.Background(), Request{Text: "x", SimilarityThreshold: &threshold})
		var qerr *domain.InvalidQueryError
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, "similarity_threshold", qerr.Param)
	}
}

func TestSearchRequiresTextOrVector(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Search(context.Background(), Request{})
	var qerr *domain.InvalidQueryError
	assert.ErrorAs(t, err, &qerr)
}

func TestSearchHighThresholdEmpty(t *testing.T) {
	svc, _ := newService(t)
	threshold := 0.99
	matches, err := svc.Search(context.Background(), Request{
		Vector:              []float32{0.5, 0.5, 0.7},
		SimilarityThreshold: &threshold,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestBrowseFallback(t *testing.T) {
	svc, _ := newService(t)
	records, err := svc.Browse(context.Background(), domain.Filters{Category: "Neurology"}, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c", records[0].ID)
}
