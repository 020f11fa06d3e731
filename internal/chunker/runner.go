package chunker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/corpus"
	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/pkg/logger"
	"github.com/cellavenue/rag-backend/pkg/utils"
)

// ChunksFileName is the single chunk file all cleaned shards feed into.
const ChunksFileName = "semantic_chunks.jsonl"

// Runner splits every cleaned shard into chunk records. A record that fails
// to split is logged and skipped; the run is resumable per source file since
// sentence embeddings are served from the cache on re-runs.
type Runner struct {
	Splitter    *Splitter
	CleanDir    string
	ChunksDir   string
	ManifestDir string
}

func (r *Runner) Run(ctx context.Context) error {
	if _, err := os.Stat(r.CleanDir); err != nil {
		return fmt.Errorf("cleaned data directory not found: %s", r.CleanDir)
	}
	if err := os.MkdirAll(r.ChunksDir, 0755); err != nil {
		return fmt.Errorf("failed to create chunks dir: %w", err)
	}
	if err := os.MkdirAll(r.ManifestDir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest dir: %w", err)
	}

	shards, err := filepath.Glob(filepath.Join(r.CleanDir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to list cleaned shards: %w", err)
	}
	sort.Strings(shards)

	outPath := filepath.Join(r.ChunksDir, ChunksFileName)
	w, err := corpus.NewShardWriter(outPath)
	if err != nil {
		return err
	}
	defer w.Close()

	manifest := models.ChunkManifest{
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		ChunkingVersion: ChunkingVersion,
	}

	var chunkSizes []int
	start := time.Now()

	for _, src := range shards {
		fileRecords := 0
		fileChunks := 0

		err := corpus.ForEachRecord(src, func(lineNo int, rec models.CleanedPage) error {
			fileRecords++

			chunks, err := r.Splitter.Split(ctx, rec.Text)
			if err != nil {
				logger.Warn("Skipping record: split failed",
					zap.String("file", filepath.Base(src)),
					zap.Int("line", lineNo),
					zap.String("url", rec.URL),
					zap.Error(err),
				)
				return nil
			}

			docID := utils.DocID(rec.PageType, rec.URL)
			for idx, chunkText := range chunks {
				chunk := models.Chunk{
					DocID:       docID,
					ChunkID:     fmt.Sprintf("%s_c%d", docID, idx),
					ChunkIndex:  idx,
					URL:         rec.URL,
					Language:    rec.Language,
					PageType:    rec.PageType,
					SourceTitle: rec.Title,
					CrawledAt:   rec.CrawledAt,
					Text:        chunkText,
					CharCount:   len(chunkText),
				}
				if err := w.Write(chunk); err != nil {
					return err
				}
				fileChunks++
				chunkSizes = append(chunkSizes, chunk.CharCount)
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info("Shard chunked",
			zap.String("source", filepath.Base(src)),
			zap.Int("records", fileRecords),
			zap.Int("chunks", fileChunks),
		)

		manifest.Files = append(manifest.Files, models.ChunkFileResult{
			Source:  src,
			Records: fileRecords,
			Chunks:  fileChunks,
		})
		manifest.Totals.Records += fileRecords
		manifest.Totals.Chunks += fileChunks
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize chunk file: %w", err)
	}

	manifest.Totals.ElapsedSeconds = time.Since(start).Seconds()
	if len(chunkSizes) > 0 {
		total := 0
		minSize, maxSize := chunkSizes[0], chunkSizes[0]
		for _, s := range chunkSizes {
			total += s
			if s < minSize {
				minSize = s
			}
			if s > maxSize {
				maxSize = s
			}
		}
		manifest.Totals.AvgChunkChars = float64(total) / float64(len(chunkSizes))
		manifest.Totals.MinChunkChars = minSize
		manifest.Totals.MaxChunkChars = maxSize
	}

	manifestPath := filepath.Join(r.ManifestDir, "chunk_manifest.json")
	if err := corpus.WriteManifest(manifestPath, manifest); err != nil {
		return err
	}

	logger.Info("Chunking run finished",
		zap.Int("records", manifest.Totals.Records),
		zap.Int("chunks", manifest.Totals.Chunks),
		zap.Float64("avg_chunk_chars", manifest.Totals.AvgChunkChars),
		zap.String("output", outPath),
	)

	return nil
}
