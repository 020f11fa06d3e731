package chunker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jdkato/prose/v2"
)

const (
	// MinDocChars: documents shorter than this become a single chunk.
	MinDocChars = 100
	// MinChunkChars: post-split fragments below this are merged forward.
	MinChunkChars = 50

	ChunkingVersion = "v1.0-semantic"
)

// Embedder is the external embedding capability the splitter delegates
// boundary detection to.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Splitter breaks cleaned text into semantically coherent spans: sentences
// are embedded, and a boundary is placed wherever the cosine distance
// between consecutive sentence embeddings exceeds a percentile threshold.
type Splitter struct {
	embedder             Embedder
	minDocChars          int
	minChunkChars        int
	breakpointPercentile float64
}

func NewSplitter(embedder Embedder, minDocChars, minChunkChars int, breakpointPercentile float64) *Splitter {
	if minDocChars <= 0 {
		minDocChars = MinDocChars
	}
	if minChunkChars <= 0 {
		minChunkChars = MinChunkChars
	}
	if breakpointPercentile <= 0 || breakpointPercentile >= 100 {
		breakpointPercentile = 95
	}
	return &Splitter{
		embedder:             embedder,
		minDocChars:          minDocChars,
		minChunkChars:        minChunkChars,
		breakpointPercentile: breakpointPercentile,
	}
}

// Split returns the document's chunks in original order. Short documents are
// not worth splitting and come back as a single chunk.
func (s *Splitter) Split(ctx context.Context, text string) ([]string, error) {
	if len(text) < s.minDocChars {
		return []string{text}, nil
	}

	sentences := segmentSentences(text)
	if len(sentences) < 2 {
		return []string{text}, nil
	}

	texts := make([]string, len(sentences))
	for i, sp := range sentences {
		texts[i] = sp.text
	}

	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed sentences: %w", err)
	}
	if len(vecs) != len(sentences) {
		return nil, fmt.Errorf("sentence embedding count mismatch: got %d, expected %d", len(vecs), len(sentences))
	}

	distances := make([]float64, len(vecs)-1)
	for i := 0; i < len(vecs)-1; i++ {
		distances[i] = 1 - cosineSimilarity(vecs[i], vecs[i+1])
	}
	threshold := percentile(distances, s.breakpointPercentile)

	var spans []string
	start := sentences[0].start
	for i, d := range distances {
		if d > threshold {
			end := sentences[i].end
			spans = append(spans, strings.TrimSpace(text[start:end]))
			start = sentences[i+1].start
		}
	}
	spans = append(spans, strings.TrimSpace(text[start:sentences[len(sentences)-1].end]))

	return mergeSmall(spans, s.minChunkChars), nil
}

type sentenceSpan struct {
	text  string
	start int
	end   int
}

// segmentSentences maps each detected sentence back to its byte span in the
// original text so chunks stay exact substrings of the document.
func segmentSentences(text string) []sentenceSpan {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return []sentenceSpan{{text: text, start: 0, end: len(text)}}
	}

	var spans []sentenceSpan
	cursor := 0
	for _, sent := range doc.Sentences() {
		st := strings.TrimSpace(sent.Text)
		if st == "" {
			continue
		}
		idx := strings.Index(text[cursor:], st)
		if idx < 0 {
			continue
		}
		start := cursor + idx
		end := start + len(st)
		spans = append(spans, sentenceSpan{text: st, start: start, end: end})
		cursor = end
	}

	if len(spans) == 0 {
		return []sentenceSpan{{text: text, start: 0, end: len(text)}}
	}
	return spans
}

// mergeSmall merges undersized fragments into a running buffer until the
// buffer reaches minChars; an unflushed remainder is carried onto the last
// emitted chunk so no content is lost.
func mergeSmall(chunks []string, minChars int) []string {
	if len(chunks) == 0 {
		return chunks
	}

	var merged []string
	buf := ""
	for _, chunk := range chunks {
		if buf != "" {
			buf = buf + "\n\n" + chunk
		} else {
			buf = chunk
		}

		if len(buf) >= minChars {
			merged = append(merged, buf)
			buf = ""
		}
	}

	if buf != "" {
		if len(merged) > 0 {
			merged[len(merged)-1] = merged[len(merged)-1] + "\n\n" + buf
		} else {
			merged = append(merged, buf)
		}
	}

	return merged
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentile with linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
