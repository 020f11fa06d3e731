package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	SQLite    SQLiteConfig
	Firecrawl FirecrawlConfig
	Pipeline  PipelineConfig
	Retrieval RetrievalConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type OpenAIConfig struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type SQLiteConfig struct {
	Path string
}

type CrawlScope struct {
	Name         string
	IncludePaths []string
	ExcludePaths []string
	Limit        int
}

type FirecrawlConfig struct {
	APIKey          string
	BaseURL         string
	SiteURL         string
	MaxAttempts     int
	PollIntervalSec int
	Scopes          []CrawlScope
}

type PipelineConfig struct {
	DataDir              string
	MinDocChars          int
	MinChunkChars        int
	EmbedBatchSize       int
	BreakpointPercentile float64
}

type RetrievalConfig struct {
	TopK            int
	FetchK          int
	MaxHistoryTurns int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	// .env is the local-dev convention; missing file is fine.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/rag-backend")

	viper.SetEnvPrefix("RAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate reports configuration that would make a pipeline run or the
// serving API unusable. Missing credentials are fatal at process start.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.apiKey is required (set RAG_OPENAI_APIKEY or OPENAI_API_KEY)")
	}
	if c.Milvus.Endpoint == "" {
		return fmt.Errorf("milvus.endpoint is required")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("openai.chatModel", "gpt-4o-mini")
	viper.SetDefault("openai.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("openai.temperature", 0.1)
	viper.SetDefault("openai.maxTokens", 2048)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "store_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 720)

	viper.SetDefault("sqlite.path", "./data/chatlog.db")

	viper.SetDefault("firecrawl.baseURL", "https://api.firecrawl.dev/v1")
	viper.SetDefault("firecrawl.siteURL", "https://cellavenuestore.com")
	viper.SetDefault("firecrawl.maxAttempts", 5)
	viper.SetDefault("firecrawl.pollIntervalSec", 5)

	viper.SetDefault("pipeline.dataDir", "./data")
	viper.SetDefault("pipeline.minDocChars", 100)
	viper.SetDefault("pipeline.minChunkChars", 50)
	viper.SetDefault("pipeline.embedBatchSize", 50)
	viper.SetDefault("pipeline.breakpointPercentile", 95)

	viper.SetDefault("retrieval.topK", 8)
	viper.SetDefault("retrieval.fetchK", 40)
	viper.SetDefault("retrieval.maxHistoryTurns", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
