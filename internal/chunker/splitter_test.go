package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps every sentence to one of two orthogonal vectors based on
// topic keywords, giving a single sharp semantic boundary.
type fakeEmbedder struct {
	calls   int
	keyword string
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.Contains(strings.ToLower(text), f.keyword) {
			vecs[i] = []float32{1, 0}
		} else {
			vecs[i] = []float32{0, 1}
		}
	}
	return vecs, nil
}

func TestSplitShortDocumentSingleChunk(t *testing.T) {
	embedder := &fakeEmbedder{keyword: "battery"}
	s := NewSplitter(embedder, 100, 50, 95)

	text := "Short product blurb."
	chunks, err := s.Split(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, []string{text}, chunks)
	assert.Zero(t, embedder.calls, "short documents must not be embedded")
}

func TestSplitBreaksAtSemanticBoundary(t *testing.T) {
	embedder := &fakeEmbedder{keyword: "battery"}
	s := NewSplitter(embedder, 100, 20, 95)

	text := "The battery lasts two full days on a single charge. " +
		"The battery supports 66W fast charging over USB-C. " +
		"The battery health stays above ninety percent after a year. " +
		"Shipping inside Kuwait takes one business day. " +
		"Shipping is free for orders over ten dinars."

	chunks, err := s.Split(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "fast charging")
	assert.Contains(t, chunks[1], "Shipping inside Kuwait")
	assert.NotContains(t, chunks[0], "Shipping")
	assert.Equal(t, 1, embedder.calls)
}

func TestSplitChunksAreSubstrings(t *testing.T) {
	embedder := &fakeEmbedder{keyword: "battery"}
	s := NewSplitter(embedder, 100, 20, 95)

	text := "The battery lasts two days. " +
		"The battery charges fast with the bundled adapter. " +
		"Returns are accepted within fifteen days of delivery. " +
		"Returns require the original packaging and receipt."

	chunks, err := s.Split(context.Background(), text)
	require.NoError(t, err)
	for _, chunk := range chunks {
		assert.Contains(t, text, chunk)
	}
}

func TestMergeSmallBuffersFragments(t *testing.T) {
	chunks := []string{"tiny", "also tiny", "this fragment is long enough to stand on its own"}
	merged := mergeSmall(chunks, 20)

	require.Len(t, merged, 2)
	assert.Equal(t, "tiny\n\nalso tiny", merged[0])
	assert.Equal(t, "this fragment is long enough to stand on its own", merged[1])
}

func TestMergeSmallTrailingRemainderJoinsLast(t *testing.T) {
	chunks := []string{"a chunk comfortably above the threshold", "tail"}
	merged := mergeSmall(chunks, 20)

	require.Len(t, merged, 1)
	assert.Equal(t, "a chunk comfortably above the threshold\n\ntail", merged[0])
}

func TestMergeSmallAllTinySingleChunk(t *testing.T) {
	merged := mergeSmall([]string{"a", "b", "c"}, 100)
	require.Len(t, merged, 1)
	assert.Equal(t, "a\n\nb\n\nc", merged[0])
}

func TestMergeSmallEmpty(t *testing.T) {
	assert.Empty(t, mergeSmall(nil, 50))
}

func TestPercentileInterpolation(t *testing.T) {
	values := []float64{0, 0, 0, 1}
	got := percentile(values, 95)
	assert.InDelta(t, 0.85, got, 1e-9)

	assert.Equal(t, 0.0, percentile(nil, 95))
	assert.Equal(t, 5.0, percentile([]float64{5}, 95))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
