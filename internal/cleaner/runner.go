package cleaner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/corpus"
	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/pkg/logger"
)

// Runner turns raw shards into cleaned shards, one output file per input
// file, and writes a clean manifest for the run.
type Runner struct {
	RawDir      string
	CleanDir    string
	ManifestDir string
}

func (r *Runner) Run() error {
	if _, err := os.Stat(r.RawDir); err != nil {
		return fmt.Errorf("raw data directory not found: %s", r.RawDir)
	}
	if err := os.MkdirAll(r.CleanDir, 0755); err != nil {
		return fmt.Errorf("failed to create clean dir: %w", err)
	}
	if err := os.MkdirAll(r.ManifestDir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest dir: %w", err)
	}

	shards, err := filepath.Glob(filepath.Join(r.RawDir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to list raw shards: %w", err)
	}
	sort.Strings(shards)

	manifest := models.CleanManifest{
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		CleaningVersion: CleaningVersion,
	}

	for _, src := range shards {
		dst := filepath.Join(r.CleanDir, filepath.Base(src))
		result, err := r.processShard(src, dst)
		if err != nil {
			return err
		}

		manifest.Files = append(manifest.Files, result)
		manifest.Totals.ReadRecords += result.ReadRecords
		manifest.Totals.WrittenRecords += result.WrittenRecords
		manifest.Totals.RawChars += result.RawChars
		manifest.Totals.CleanChars += result.CleanChars
	}

	manifestPath := filepath.Join(r.ManifestDir, "clean_manifest.json")
	if err := corpus.WriteManifest(manifestPath, manifest); err != nil {
		return err
	}

	logger.Info("Cleaning run finished",
		zap.Int("read_records", manifest.Totals.ReadRecords),
		zap.Int("written_records", manifest.Totals.WrittenRecords),
		zap.Int("raw_chars", manifest.Totals.RawChars),
		zap.Int("clean_chars", manifest.Totals.CleanChars),
		zap.String("manifest", manifestPath),
	)

	return nil
}

func (r *Runner) processShard(src, dst string) (models.CleanFileResult, error) {
	result := models.CleanFileResult{Source: src, Output: dst}
	cleanedAt := time.Now().UTC().Format(time.RFC3339)

	w, err := corpus.NewShardWriter(dst)
	if err != nil {
		return result, err
	}
	defer w.Close()

	err = corpus.ForEachRecord(src, func(lineNo int, page models.Page) error {
		result.ReadRecords++

		text := Clean(page.Markdown, page.PageType)
		result.RawChars += len(page.Markdown)
		result.CleanChars += len(text)

		// Keep only useful records.
		if len(text) < MinCleanChars {
			return nil
		}

		cleaned := models.CleanedPage{
			URL:             page.URL,
			Title:           page.Title,
			Language:        page.Language,
			PageType:        page.PageType,
			CrawledAt:       page.CrawledAt,
			CrawlJobID:      page.CrawlJobID,
			Text:            text,
			CleanedAt:       cleanedAt,
			CleaningVersion: CleaningVersion,
			RawCharCount:    len(page.Markdown),
			CleanCharCount:  len(text),
		}

		if err := w.Write(cleaned); err != nil {
			return err
		}
		result.WrittenRecords++
		return nil
	})
	if err != nil {
		return result, err
	}

	if err := w.Close(); err != nil {
		return result, fmt.Errorf("failed to finalize shard %s: %w", dst, err)
	}

	logger.Info("Shard cleaned",
		zap.String("source", filepath.Base(src)),
		zap.Int("read", result.ReadRecords),
		zap.Int("written", result.WrittenRecords),
	)

	return result, nil
}
