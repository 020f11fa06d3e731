package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/llm"
	"github.com/cellavenue/rag-backend/internal/metrics"
	"github.com/cellavenue/rag-backend/internal/session"
	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/internal/storage/sqlite"
	"github.com/cellavenue/rag-backend/internal/vector/milvus"
	"github.com/cellavenue/rag-backend/pkg/logger"
)

// ChatModel is the external chat capability: one blocking completion or one
// token stream per call.
type ChatModel interface {
	Complete(ctx context.Context, req llm.ChatRequest) (string, error)
	Stream(ctx context.Context, req llm.ChatRequest, onToken func(token string) error) (string, error)
}

// Embedder embeds a single query for retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever runs the diversity-aware nearest-neighbor query against the
// read-only vector index.
type Retriever interface {
	Search(ctx context.Context, queryVector []float32, k, fetchK int) ([]milvus.RetrievedChunk, error)
}

// Engine answers questions strictly from retrieved context, with citations
// and per-session memory.
type Engine struct {
	chat      ChatModel
	embedder  Embedder
	retriever Retriever
	sessions  session.Store
	chatLog   *sqlite.Client
	topK      int
	fetchK    int
}

// Response is the result of one answered question. SessionID is always set
// so callers can continue the conversation.
type Response struct {
	Answer     string   `json:"answer"`
	Citations  []string `json:"citations"`
	Language   string   `json:"language"`
	AsOf       string   `json:"as_of"`
	ChunksUsed int      `json:"chunks_used"`
	SessionID  string   `json:"session_id"`
}

// StreamEvent is one element of the tagged answer stream: token events in
// generation order, then exactly one metadata event, or a terminal error.
type StreamEvent struct {
	Token string
	Meta  *Response
	Err   error
}

// historyWindow caps how many retained messages feed the rewrite step and
// the final prompt (3 turns).
const historyWindow = 6

const systemPromptFormat = `You are the Cell Avenue Store AI assistant.
You help customers with questions about products, pricing, shipping, returns, and store policies.

RULES (follow these strictly):
1. Answer ONLY from the provided context below. Never invent information.
2. If the answer is not in the context, say: "I'm sorry, I don't have that information. Please contact Cell Avenue support for help."
3. Include the source URL(s) for every claim you make. Place them naturally in your answer or list them at the end as "Sources:".
4. Match the language of the user's question. If they ask in Arabic, reply in Arabic. If in English, reply in English.
5. Be concise, friendly, and professional.
6. When listing products or prices, use bullet points for clarity.
7. Always mention the currency (KWD/دينار كويتي) when discussing prices.

CONTEXT:
%s
`

const rewritePromptFormat = `Given the following conversation history and a follow-up question, rewrite the follow-up question as a standalone question that captures the full intent. Keep it concise.

Conversation history:
%s

Follow-up question: %s

Standalone question:`

func NewEngine(chat ChatModel, embedder Embedder, retriever Retriever, sessions session.Store, chatLog *sqlite.Client, topK, fetchK int) *Engine {
	if topK <= 0 {
		topK = 8
	}
	if fetchK <= 0 {
		fetchK = 40
	}
	return &Engine{
		chat:      chat,
		embedder:  embedder,
		retriever: retriever,
		sessions:  sessions,
		chatLog:   chatLog,
		topK:      topK,
		fetchK:    fetchK,
	}
}

func (e *Engine) Sessions() session.Store {
	return e.sessions
}

// prepared carries everything both entry points share after pre-processing.
type prepared struct {
	sessionID  string
	question   string
	rewritten  string
	citations  []string
	chunksUsed int
	language   string
	chatReq    llm.ChatRequest
}

func (e *Engine) prepare(ctx context.Context, question, sessionID string) (*prepared, error) {
	if sessionID == "" {
		sessionID = e.sessions.Create()
	}

	history := e.sessions.Get(sessionID)

	rewritten, err := e.rewriteWithContext(ctx, question, history)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite query: %w", err)
	}

	queryVector, err := e.embedder.Embed(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := e.retriever.Search(ctx, queryVector, e.topK, e.fetchK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	metrics.RetrievedChunks.Observe(float64(len(chunks)))

	// The model is instructed to mirror the question's language; the tag is
	// informational output only.
	language := detectLanguage(question)

	chatReq := llm.ChatRequest{
		System:  fmt.Sprintf(systemPromptFormat, formatContext(chunks)),
		History: lastN(e.sessions.Get(sessionID), historyWindow),
		User:    question,
	}

	return &prepared{
		sessionID:  sessionID,
		question:   question,
		rewritten:  rewritten,
		citations:  extractCitations(chunks),
		chunksUsed: len(chunks),
		language:   language,
		chatReq:    chatReq,
	}, nil
}

// Answer runs the blocking entry point.
func (e *Engine) Answer(ctx context.Context, question, sessionID string) (*Response, error) {
	start := time.Now()

	prep, err := e.prepare(ctx, question, sessionID)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	answer, err := e.chat.Complete(ctx, prep.chatReq)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	resp := e.finish(prep, answer, start)
	metrics.ChatRequests.WithLabelValues("ok").Inc()
	metrics.ChatDuration.Observe(time.Since(start).Seconds())
	return resp, nil
}

// AnswerStream runs the streamed entry point. Pre-processing errors are
// returned directly; generation errors arrive as a terminal error event.
// Session history is updated only after the stream has fully drained.
// Cancelling ctx releases the producer if the consumer stops reading.
func (e *Engine) AnswerStream(ctx context.Context, question, sessionID string) (<-chan StreamEvent, error) {
	start := time.Now()

	prep, err := e.prepare(ctx, question, sessionID)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	events := make(chan StreamEvent)

	// Every send races ctx so an abandoned channel cannot block the
	// goroutine or hold the provider stream open.
	go func() {
		defer close(events)

		answer, err := e.chat.Stream(ctx, prep.chatReq, func(token string) error {
			metrics.StreamTokens.Inc()
			select {
			case events <- StreamEvent{Token: token}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			metrics.ChatRequests.WithLabelValues("error").Inc()
			select {
			case events <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		resp := e.finish(prep, answer, start)
		metrics.ChatRequests.WithLabelValues("ok").Inc()
		metrics.ChatDuration.Observe(time.Since(start).Seconds())
		select {
		case events <- StreamEvent{Meta: resp}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}

// finish persists the turn and assembles the response. Called only after
// generation fully succeeded, so a failed request never corrupts history.
func (e *Engine) finish(prep *prepared, answer string, start time.Time) *Response {
	e.sessions.Append(prep.sessionID, models.RoleUser, prep.question)
	e.sessions.Append(prep.sessionID, models.RoleAssistant, answer)

	resp := &Response{
		Answer:     answer,
		Citations:  prep.citations,
		Language:   prep.language,
		AsOf:       time.Now().UTC().Format(time.RFC3339),
		ChunksUsed: prep.chunksUsed,
		SessionID:  prep.sessionID,
	}

	if e.chatLog != nil {
		entry := &models.ChatLogEntry{
			ID:             uuid.New().String(),
			SessionID:      prep.sessionID,
			Question:       prep.question,
			RewrittenQuery: prep.rewritten,
			Answer:         answer,
			Language:       prep.language,
			Citations:      prep.citations,
			ChunksUsed:     prep.chunksUsed,
			LatencyMS:      int(time.Since(start).Milliseconds()),
			CreatedAt:      time.Now(),
		}
		if err := e.chatLog.InsertChatLog(entry); err != nil {
			logger.Warn("Failed to write chat log", zap.Error(err))
		}
	}

	logger.Info("Question answered",
		zap.String("session_id", prep.sessionID),
		zap.String("language", prep.language),
		zap.Int("chunks_used", prep.chunksUsed),
		zap.Duration("latency", time.Since(start)),
	)

	return resp
}

// rewriteWithContext turns a follow-up into a standalone query using recent
// history. Embedding retrieval cannot resolve pronouns, so this happens
// before retrieval. A blank rewrite falls back to the original question.
func (e *Engine) rewriteWithContext(ctx context.Context, question string, history []models.Message) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	historyText := formatHistory(lastN(history, historyWindow))
	prompt := fmt.Sprintf(rewritePromptFormat, historyText, question)

	rewritten, err := e.chat.Complete(ctx, llm.ChatRequest{User: prompt, MaxTokens: 256})
	if err != nil {
		return "", err
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return question, nil
	}

	logger.Debug("Query rewritten",
		zap.String("original", question),
		zap.String("rewritten", rewritten),
	)

	return rewritten, nil
}

func formatHistory(history []models.Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		role := "User"
		if msg.Role == models.RoleAssistant {
			role = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, msg.Content))
	}
	return strings.Join(lines, "\n")
}

func formatContext(chunks []milvus.RetrievedChunk) string {
	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		title := chunk.SourceTitle
		if title == "" {
			title = "Untitled"
		}
		parts = append(parts, fmt.Sprintf(
			"--- Document %d ---\nTitle: %s\nURL: %s\nType: %s | Language: %s\n\n%s\n",
			i+1, title, chunk.URL, chunk.PageType, chunk.Language, chunk.Text,
		))
	}
	return strings.Join(parts, "\n")
}

// extractCitations returns the retrieved chunks' URLs deduplicated in
// first-seen order.
func extractCitations(chunks []milvus.RetrievedChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	urls := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.URL == "" {
			continue
		}
		if _, ok := seen[chunk.URL]; ok {
			continue
		}
		seen[chunk.URL] = struct{}{}
		urls = append(urls, chunk.URL)
	}
	return urls
}

// detectLanguage tags a question as Arabic if it contains any character in
// the Arabic Unicode range.
func detectLanguage(question string) string {
	for _, r := range question {
		if r >= 0x0600 && r <= 0x06FF {
			return "ar"
		}
	}
	return "en"
}

func lastN(msgs []models.Message, n int) []models.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
