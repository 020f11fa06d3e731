package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/corpus"
	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/internal/vector/milvus"
	"github.com/cellavenue/rag-backend/pkg/logger"
)

const EmbedVersion = "v1.0"

// Embedder is the batch embedding capability the index build delegates to.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModel() string
}

// Builder embeds the chunk file batch by batch and writes the vector index
// plus its embed manifest. Batching keeps each provider call under payload
// and token limits.
type Builder struct {
	Embedder    Embedder
	Vector      *milvus.Client
	ChunksPath  string
	ManifestDir string
	BatchSize   int
}

func (b *Builder) Run(ctx context.Context) error {
	if _, err := os.Stat(b.ChunksPath); err != nil {
		return fmt.Errorf("chunks file not found: %s (run the chunk stage first)", b.ChunksPath)
	}
	if err := os.MkdirAll(b.ManifestDir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest dir: %w", err)
	}

	batchSize := b.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var chunks []models.Chunk
	err := corpus.ForEachRecord(b.ChunksPath, func(lineNo int, c models.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("chunks file is empty: %s", b.ChunksPath)
	}

	logger.Info("Building vector index",
		zap.Int("chunks", len(chunks)),
		zap.Int("batch_size", batchSize),
	)

	start := time.Now()

	// The first batch establishes the collection; later batches append.
	if err := b.Vector.EnsureCollection(ctx); err != nil {
		return err
	}

	totalBatches := (len(chunks) + batchSize - 1) / batchSize
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}

		vectors, err := b.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed batch %d/%d: %w", i/batchSize+1, totalBatches, err)
		}

		indexed := make([]milvus.IndexedChunk, len(batch))
		for j := range batch {
			indexed[j] = milvus.IndexedChunk{Chunk: batch[j], Embedding: vectors[j]}
		}

		if err := b.Vector.Insert(ctx, indexed); err != nil {
			return fmt.Errorf("failed to insert batch %d/%d: %w", i/batchSize+1, totalBatches, err)
		}

		logger.Info("Batch indexed",
			zap.Int("batch", i/batchSize+1),
			zap.Int("total_batches", totalBatches),
			zap.Int("docs", end),
		)
	}

	if err := b.Vector.Flush(ctx); err != nil {
		return err
	}

	elapsed := time.Since(start)

	langCounts := make(map[string]int)
	typeCounts := make(map[string]int)
	for _, c := range chunks {
		langCounts[c.Language]++
		typeCounts[c.PageType]++
	}

	manifest := models.EmbedManifest{
		GeneratedAt:        time.Now().UTC().Format(time.RFC3339),
		EmbedVersion:       EmbedVersion,
		EmbeddingModel:     b.Embedder.EmbeddingModel(),
		TotalChunksIndexed: len(chunks),
		Languages:          langCounts,
		PageTypes:          typeCounts,
		SourceChunks:       b.ChunksPath,
		ElapsedSeconds:     elapsed.Seconds(),
	}

	manifestPath := filepath.Join(b.ManifestDir, "embed_manifest.json")
	if err := corpus.WriteManifest(manifestPath, manifest); err != nil {
		return err
	}

	logger.Info("Index build finished",
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", elapsed),
		zap.String("manifest", manifestPath),
	)

	return nil
}
