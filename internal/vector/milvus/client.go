package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/pkg/logger"
)

// Client owns the chunk collection. The indexer is the only writer; at serve
// time the handle is read-only.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// IndexedChunk pairs a chunk record with its embedding for insertion.
type IndexedChunk struct {
	Chunk     models.Chunk
	Embedding []float32
}

// RetrievedChunk is one search hit with the metadata needed to build a
// context block and a citation.
type RetrievedChunk struct {
	ChunkID     string
	DocID       string
	URL         string
	Language    string
	PageType    string
	SourceTitle string
	Text        string
	Score       float32
}

var outputFields = []string{
	"chunk_id", "doc_id", "chunk_index", "url", "language",
	"page_type", "source_title", "text", "embedding",
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates and loads the chunk collection if it does not
// exist yet.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return m.client.LoadCollection(ctx, m.collectionName, false)
	}

	varchar := func(name string, maxLen int) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
		}
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Storefront page chunks with embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "96"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(m.vectorDim)},
			},
			varchar("doc_id", 96),
			{Name: "chunk_index", DataType: entity.FieldTypeInt64},
			varchar("url", 512),
			varchar("language", 8),
			varchar("page_type", 32),
			varchar("source_title", 512),
			varchar("crawled_at", 64),
			{Name: "char_count", DataType: entity.FieldTypeInt64},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build ivf index: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

// Insert appends one batch of embedded chunks. The index is append-only
// during a build.
func (m *Client) Insert(ctx context.Context, batch []IndexedChunk) error {
	if len(batch) == 0 {
		return nil
	}

	n := len(batch)
	chunkIDs := make([]string, n)
	embeddings := make([][]float32, n)
	docIDs := make([]string, n)
	chunkIndexes := make([]int64, n)
	urls := make([]string, n)
	languages := make([]string, n)
	pageTypes := make([]string, n)
	titles := make([]string, n)
	crawledAts := make([]string, n)
	charCounts := make([]int64, n)
	texts := make([]string, n)

	for i, item := range batch {
		chunkIDs[i] = item.Chunk.ChunkID
		embeddings[i] = item.Embedding
		docIDs[i] = item.Chunk.DocID
		chunkIndexes[i] = int64(item.Chunk.ChunkIndex)
		urls[i] = item.Chunk.URL
		languages[i] = item.Chunk.Language
		pageTypes[i] = item.Chunk.PageType
		titles[i] = item.Chunk.SourceTitle
		crawledAts[i] = item.Chunk.CrawledAt
		charCounts[i] = int64(item.Chunk.CharCount)
		texts[i] = item.Chunk.Text
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("doc_id", docIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnVarChar("url", urls),
		entity.NewColumnVarChar("language", languages),
		entity.NewColumnVarChar("page_type", pageTypes),
		entity.NewColumnVarChar("source_title", titles),
		entity.NewColumnVarChar("crawled_at", crawledAts),
		entity.NewColumnInt64("char_count", charCounts),
		entity.NewColumnVarChar("text", texts),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	logger.Debug("Chunk batch inserted", zap.Int("count", n))
	return nil
}

func (m *Client) Flush(ctx context.Context) error {
	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	return nil
}

// Count returns the collection's row count.
func (m *Client) Count(ctx context.Context) (int64, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.collectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection statistics: %w", err)
	}
	count, err := strconv.ParseInt(stats["row_count"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse row count: %w", err)
	}
	return count, nil
}

// Search runs a diversity-aware nearest-neighbor query: fetch the fetchK
// closest chunks with their vectors, then select k by maximal marginal
// relevance so near-duplicate chunks (size variants, repeated boilerplate)
// don't crowd the results.
func (m *Client) Search(ctx context.Context, queryVector []float32, k, fetchK int) ([]RetrievedChunk, error) {
	if fetchK < k {
		fetchK = k
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(queryVector)},
		"embedding",
		entity.COSINE,
		fetchK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var candidates []RetrievedChunk
	var candidateVecs [][]float32

	for _, sr := range searchResult {
		embCol, ok := sr.Fields.GetColumn("embedding").(*entity.ColumnFloatVector)
		if !ok {
			return nil, fmt.Errorf("search result missing embedding column")
		}
		vecs := embCol.Data()

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := sr.Fields.GetColumn("chunk_id").Get(i)
			docID, _ := sr.Fields.GetColumn("doc_id").Get(i)
			url, _ := sr.Fields.GetColumn("url").Get(i)
			language, _ := sr.Fields.GetColumn("language").Get(i)
			pageType, _ := sr.Fields.GetColumn("page_type").Get(i)
			title, _ := sr.Fields.GetColumn("source_title").Get(i)
			text, _ := sr.Fields.GetColumn("text").Get(i)

			candidates = append(candidates, RetrievedChunk{
				ChunkID:     chunkID.(string),
				DocID:       docID.(string),
				URL:         url.(string),
				Language:    language.(string),
				PageType:    pageType.(string),
				SourceTitle: title.(string),
				Text:        text.(string),
				Score:       sr.Scores[i],
			})
			candidateVecs = append(candidateVecs, vecs[i])
		}
	}

	selected := mmrSelect(queryVector, candidateVecs, k, defaultMMRLambda)

	results := make([]RetrievedChunk, 0, len(selected))
	for _, idx := range selected {
		results = append(results, candidates[idx])
	}

	logger.Debug("Vector search completed",
		zap.Int("fetch_k", fetchK),
		zap.Int("k", k),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
	)

	return results, nil
}
