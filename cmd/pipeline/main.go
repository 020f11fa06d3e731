package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/cache/redis"
	"github.com/cellavenue/rag-backend/internal/chunker"
	"github.com/cellavenue/rag-backend/internal/cleaner"
	"github.com/cellavenue/rag-backend/internal/crawler"
	"github.com/cellavenue/rag-backend/internal/crawler/firecrawl"
	"github.com/cellavenue/rag-backend/internal/indexer"
	"github.com/cellavenue/rag-backend/internal/llm"
	"github.com/cellavenue/rag-backend/internal/metrics"
	"github.com/cellavenue/rag-backend/internal/vector/milvus"
	"github.com/cellavenue/rag-backend/pkg/config"
	appLogger "github.com/cellavenue/rag-backend/pkg/logger"
)

const usage = `Usage: pipeline <stage> [scope ...]

Stages:
  crawl   pull pages from the crawl provider into raw shards
  clean   strip boilerplate from raw shards
  chunk   split cleaned pages into semantic chunks
  index   embed chunks and build the vector index
  all     run clean, chunk and index in order (crawl runs only when asked)

Optional scope names after "crawl" restrict the run to those crawl scopes.`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}
	stage := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	metrics.Init()

	ctx := context.Background()
	dirs := pipelineDirs(cfg)

	var runErr error
	switch stage {
	case "crawl":
		runErr = runCrawl(ctx, cfg, dirs, os.Args[2:])
	case "clean":
		runErr = runClean(cfg, dirs)
	case "chunk":
		runErr = runChunk(ctx, cfg, dirs)
	case "index":
		runErr = runIndex(ctx, cfg, dirs)
	case "all":
		if runErr = runClean(cfg, dirs); runErr == nil {
			if runErr = runChunk(ctx, cfg, dirs); runErr == nil {
				runErr = runIndex(ctx, cfg, dirs)
			}
		}
	default:
		fmt.Printf("Unknown stage %q\n\n%s\n", stage, usage)
		os.Exit(2)
	}

	if runErr != nil {
		appLogger.Fatal("Pipeline stage failed", zap.String("stage", stage), zap.Error(runErr))
	}

	appLogger.Info("Pipeline stage finished", zap.String("stage", stage))
}

type dirs struct {
	raw      string
	cleaned  string
	chunks   string
	manifest string
}

func pipelineDirs(cfg *config.Config) dirs {
	base := cfg.Pipeline.DataDir
	return dirs{
		raw:      filepath.Join(base, "raw"),
		cleaned:  filepath.Join(base, "cleaned"),
		chunks:   filepath.Join(base, "chunks"),
		manifest: filepath.Join(base, "manifests"),
	}
}

func runCrawl(ctx context.Context, cfg *config.Config, d dirs, only []string) error {
	if cfg.Firecrawl.APIKey == "" {
		return fmt.Errorf("firecrawl.apiKey is required for the crawl stage")
	}

	client := firecrawl.NewClient(
		cfg.Firecrawl.BaseURL,
		cfg.Firecrawl.APIKey,
		cfg.Firecrawl.MaxAttempts,
		time.Duration(cfg.Firecrawl.PollIntervalSec)*time.Second,
	)

	loader := &crawler.Loader{
		Client:      client,
		SiteURL:     cfg.Firecrawl.SiteURL,
		RawDir:      d.raw,
		ManifestDir: d.manifest,
		Scopes:      cfg.Firecrawl.Scopes,
	}
	return loader.Run(ctx, only)
}

func runClean(cfg *config.Config, d dirs) error {
	runner := &cleaner.Runner{
		RawDir:      d.raw,
		CleanDir:    d.cleaned,
		ManifestDir: d.manifest,
	}
	return runner.Run()
}

func newLLMClient(cfg *config.Config) *llm.Client {
	var cache llm.EmbeddingCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLHours)*time.Hour,
		)
		if err != nil {
			appLogger.Warn("Embedding cache disabled", zap.Error(err))
		} else {
			cache = redisClient
		}
	}

	return llm.NewClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.ChatModel,
		cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.Temperature,
		cfg.OpenAI.MaxTokens,
		cache,
	)
}

func runChunk(ctx context.Context, cfg *config.Config, d dirs) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	splitter := chunker.NewSplitter(
		newLLMClient(cfg),
		cfg.Pipeline.MinDocChars,
		cfg.Pipeline.MinChunkChars,
		cfg.Pipeline.BreakpointPercentile,
	)

	runner := &chunker.Runner{
		Splitter:    splitter,
		CleanDir:    d.cleaned,
		ChunksDir:   d.chunks,
		ManifestDir: d.manifest,
	}
	return runner.Run(ctx)
}

func runIndex(ctx context.Context, cfg *config.Config, d dirs) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	vectorClient, err := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
	if err != nil {
		return fmt.Errorf("failed to connect to vector store: %w", err)
	}
	defer vectorClient.Close()

	builder := &indexer.Builder{
		Embedder:    newLLMClient(cfg),
		Vector:      vectorClient,
		ChunksPath:  filepath.Join(d.chunks, chunker.ChunksFileName),
		ManifestDir: d.manifest,
		BatchSize:   cfg.Pipeline.EmbedBatchSize,
	}
	return builder.Run(ctx)
}
