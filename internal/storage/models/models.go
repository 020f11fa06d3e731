package models

import "time"

// Page is one crawled page as written to a raw shard. Immutable once written.
type Page struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Language   string `json:"language"`  // "en" | "ar"
	PageType   string `json:"page_type"` // product | category | policy_support | brand_campaign | other
	Markdown   string `json:"markdown"`
	CrawledAt  string `json:"crawled_at"`
	CrawlJobID string `json:"crawl_job_id"`
}

// CleanedPage is a Page after boilerplate stripping. Records whose cleaned
// text is under the minimum length are never written.
type CleanedPage struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	Language        string `json:"language"`
	PageType        string `json:"page_type"`
	CrawledAt       string `json:"crawled_at"`
	CrawlJobID      string `json:"crawl_job_id"`
	Text            string `json:"text"`
	CleanedAt       string `json:"cleaned_at"`
	CleaningVersion string `json:"cleaning_version"`
	RawCharCount    int    `json:"raw_char_count"`
	CleanCharCount  int    `json:"clean_char_count"`
}

// Chunk is one retrieval unit derived from exactly one cleaned page.
// Concatenating a doc's chunks in ChunkIndex order reconstructs its text.
type Chunk struct {
	DocID       string `json:"doc_id"`
	ChunkID     string `json:"chunk_id"`
	ChunkIndex  int    `json:"chunk_index"`
	URL         string `json:"url"`
	Language    string `json:"language"`
	PageType    string `json:"page_type"`
	SourceTitle string `json:"source_title"`
	CrawledAt   string `json:"crawled_at"`
	Text        string `json:"text"`
	CharCount   int    `json:"char_count"`
}

// Message is one conversation turn half, held in session memory.
type Message struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatLogEntry is the best-effort per-request record written to SQLite.
type ChatLogEntry struct {
	ID             string
	SessionID      string
	Question       string
	RewrittenQuery string
	Answer         string
	Language       string
	Citations      []string
	ChunksUsed     int
	LatencyMS      int
	CreatedAt      time.Time
}

// Manifests are write-once run summaries, used only for observability.

type CrawlScopeResult struct {
	Name       string `json:"name"`
	CrawlID    string `json:"crawl_id,omitempty"`
	Status     string `json:"status"`
	Completed  int    `json:"completed,omitempty"`
	Total      int    `json:"total,omitempty"`
	SavedRows  int    `json:"saved_rows"`
	OutputFile string `json:"output_file"`
}

type CrawlManifest struct {
	GeneratedAt string             `json:"generated_at"`
	Scopes      []CrawlScopeResult `json:"scopes"`
}

type CleanFileResult struct {
	Source         string `json:"source"`
	Output         string `json:"output"`
	ReadRecords    int    `json:"read_records"`
	WrittenRecords int    `json:"written_records"`
	RawChars       int    `json:"raw_chars"`
	CleanChars     int    `json:"clean_chars"`
}

type CleanTotals struct {
	ReadRecords    int `json:"read_records"`
	WrittenRecords int `json:"written_records"`
	RawChars       int `json:"raw_chars"`
	CleanChars     int `json:"clean_chars"`
}

type CleanManifest struct {
	GeneratedAt     string            `json:"generated_at"`
	CleaningVersion string            `json:"cleaning_version"`
	Files           []CleanFileResult `json:"files"`
	Totals          CleanTotals       `json:"totals"`
}

type ChunkFileResult struct {
	Source  string `json:"source"`
	Records int    `json:"records"`
	Chunks  int    `json:"chunks"`
}

type ChunkTotals struct {
	Records        int     `json:"records"`
	Chunks         int     `json:"chunks"`
	AvgChunkChars  float64 `json:"avg_chunk_chars"`
	MinChunkChars  int     `json:"min_chunk_chars"`
	MaxChunkChars  int     `json:"max_chunk_chars"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type ChunkManifest struct {
	GeneratedAt     string            `json:"generated_at"`
	ChunkingVersion string            `json:"chunking_version"`
	Files           []ChunkFileResult `json:"files"`
	Totals          ChunkTotals       `json:"totals"`
}

type EmbedManifest struct {
	GeneratedAt        string         `json:"generated_at"`
	EmbedVersion       string         `json:"embed_version"`
	EmbeddingModel     string         `json:"embedding_model"`
	TotalChunksIndexed int            `json:"total_chunks_indexed"`
	Languages          map[string]int `json:"languages"`
	PageTypes          map[string]int `json:"page_types"`
	SourceChunks       string         `json:"source_chunks"`
	ElapsedSeconds     float64        `json:"elapsed_seconds"`
}
