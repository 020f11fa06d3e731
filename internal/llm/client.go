package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/pkg/circuitbreaker"
	"github.com/cellavenue/rag-backend/pkg/logger"
	"github.com/cellavenue/rag-backend/pkg/utils"
)

// EmbeddingCache lets callers reuse embeddings across pipeline runs. A nil
// cache disables caching.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32) error
}

// Client wraps the hosted chat/embedding provider. Calls are not retried
// here: transient provider failures are a hard failure for a single request
// or pipeline record; only the crawl loader retries.
type Client struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cache          EmbeddingCache
	cb             *circuitbreaker.CircuitBreaker
}

// ChatRequest is one chat-model invocation: a system instruction, optional
// prior turns, and the current user message.
type ChatRequest struct {
	System      string
	History     []models.Message
	User        string
	Temperature float32
	MaxTokens   int
}

const embedAPIBatchSize = 100

func NewClient(apiKey, chatModel, embeddingModel string, temperature float32, maxTokens int, cache EmbeddingCache) *Client {
	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	logger.Info("LLM client initialized",
		zap.String("chat_model", chatModel),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         openai.NewClient(apiKey),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cache:          cache,
		cb:             cb,
	}
}

func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

func (c *Client) buildMessages(req ChatRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})
	return msgs
}

func (c *Client) completionRequest(req ChatRequest) openai.ChatCompletionRequest {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	return openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    c.buildMessages(req),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// Complete runs one blocking chat completion and returns the full text.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	var content string

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, c.completionRequest(req))
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}

		logger.Debug("Chat completion generated",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

// Stream runs a chat completion token by token, invoking onToken for each
// text delta in generation order, and returns the concatenated full text.
// An onToken error aborts the stream.
func (c *Client) Stream(ctx context.Context, req ChatRequest, onToken func(token string) error) (string, error) {
	var full string

	err := c.cb.Execute(ctx, func() error {
		apiReq := c.completionRequest(req)
		apiReq.Stream = true

		stream, err := c.client.CreateChatCompletionStream(ctx, apiReq)
		if err != nil {
			return fmt.Errorf("failed to open completion stream: %w", err)
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("stream receive failed: %w", err)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			token := resp.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			full += token
			if err := onToken(token); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return "", err
	}

	return full, nil
}

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts preserving input order, consulting the cache
// first and only calling the provider for misses.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	hashes := make([]string, len(texts))

	for i, text := range texts {
		hashes[i] = utils.HashString(text)
		if c.cache != nil {
			if vec, ok, err := c.cache.GetEmbedding(ctx, hashes[i]); err == nil && ok {
				result[i] = vec
				continue
			}
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += embedAPIBatchSize {
		end := start + embedAPIBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		idxs := missing[start:end]

		batch := make([]string, len(idxs))
		for j, i := range idxs {
			batch[j] = texts[i]
		}

		err := c.cb.Execute(ctx, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: batch,
				Model: openai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}
			if len(resp.Data) != len(batch) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(batch))
			}

			for j, data := range resp.Data {
				vec := make([]float32, len(data.Embedding))
				copy(vec, data.Embedding)
				result[idxs[j]] = vec
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		if c.cache != nil {
			for _, i := range idxs {
				if err := c.cache.SetEmbedding(ctx, hashes[i], result[i]); err != nil {
					logger.Warn("Failed to cache embedding", zap.Error(err))
				}
			}
		}
	}

	logger.Debug("Batch embeddings ready",
		zap.Int("total", len(texts)),
		zap.Int("cache_hits", len(texts)-len(missing)),
	)

	return result, nil
}
