package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellavenue/rag-backend/internal/llm"
	"github.com/cellavenue/rag-backend/internal/middleware/validation"
	"github.com/cellavenue/rag-backend/internal/query"
	"github.com/cellavenue/rag-backend/internal/session"
	"github.com/cellavenue/rag-backend/internal/vector/milvus"
)

type stubChat struct{ answer string }

func (s *stubChat) Complete(ctx context.Context, req llm.ChatRequest) (string, error) {
	if req.System == "" {
		return "", nil
	}
	return s.answer, nil
}

func (s *stubChat) Stream(ctx context.Context, req llm.ChatRequest, onToken func(string) error) (string, error) {
	for _, tok := range strings.SplitAfter(s.answer, " ") {
		if err := onToken(tok); err != nil {
			return "", err
		}
	}
	return s.answer, nil
}

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubRetriever struct{}

func (s *stubRetriever) Search(ctx context.Context, queryVector []float32, k, fetchK int) ([]milvus.RetrievedChunk, error) {
	return []milvus.RetrievedChunk{
		{ChunkID: "a_c0", URL: "https://store.test/product/a", Text: "Phone A costs 99 KWD."},
	}, nil
}

func newTestApp(engine *query.Engine, sessions session.Store) *fiber.App {
	app := fiber.New()
	app.Use(validation.Middleware(validation.Config{}))

	chatHandler := NewChatHandler(engine)
	sessionHandler := NewSessionHandler(sessions)
	systemHandler := NewSystemHandler(nil, sessions, "")

	app.Post("/chat", chatHandler.HandleChat)
	app.Post("/chat/stream", chatHandler.HandleChatStream)
	app.Post("/session", sessionHandler.HandleCreate)
	app.Get("/health", systemHandler.HandleHealth)
	app.Get("/index-info", systemHandler.HandleIndexInfo)

	return app
}

func readyApp() *fiber.App {
	sessions := session.NewMemoryStore(10)
	engine := query.NewEngine(&stubChat{answer: "Phone A costs 99 KWD."}, &stubEmbedder{}, &stubRetriever{}, sessions, nil, 8, 40)
	return newTestApp(engine, sessions)
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthAlways200(t *testing.T) {
	app := newTestApp(nil, session.NewMemoryStore(10))

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["index_loaded"])
}

func TestIndexInfoUnavailableWithoutIndex(t *testing.T) {
	app := newTestApp(nil, session.NewMemoryStore(10))

	req, _ := http.NewRequest(http.MethodGet, "/index-info", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestChatUnavailableBeforeInit(t *testing.T) {
	app := newTestApp(nil, session.NewMemoryStore(10))

	resp := postJSON(t, app, "/chat", `{"question":"how much is phone A?"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	resp = postJSON(t, app, "/chat/stream", `{"question":"how much is phone A?"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestChatValidation(t *testing.T) {
	app := readyApp()

	resp := postJSON(t, app, "/chat", `{"question":""}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/chat", `{"question":"`+strings.Repeat("a", 2001)+`"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/chat", `not json`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// The length bound counts characters, not bytes.
	resp = postJSON(t, app, "/chat", `{"question":"`+strings.Repeat("س", 1500)+`"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = postJSON(t, app, "/chat", `{"question":"`+strings.Repeat("س", 2001)+`"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, "/chat", strings.NewReader("question=x"))
	req.Header.Set("Content-Type", "text/plain")
	r, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, r.StatusCode)
}

func TestChatAnswers(t *testing.T) {
	app := readyApp()

	resp := postJSON(t, app, "/chat", `{"question":"how much is phone A?"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Phone A costs 99 KWD.", body["answer"])
	assert.Equal(t, "en", body["language"])
	assert.Len(t, body["session_id"], 12)

	citations, ok := body["citations"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"https://store.test/product/a"}, citations)
}

func TestChatStreamFraming(t *testing.T) {
	app := readyApp()

	resp := postJSON(t, app, "/chat/stream", `{"question":"how much is phone A?"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.NotEmpty(t, lines)

	var answer strings.Builder
	for _, line := range lines[:len(lines)-1] {
		require.True(t, strings.HasPrefix(line, "0:"), "token frames come first: %q", line)
		var tok string
		require.NoError(t, json.Unmarshal([]byte(line[2:]), &tok))
		answer.WriteString(tok)
	}

	last := lines[len(lines)-1]
	require.True(t, strings.HasPrefix(last, "d:"), "metadata frame must be last: %q", last)

	var meta struct {
		Answer    string `json:"answer"`
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(last[2:]), &meta))
	assert.Equal(t, "Phone A costs 99 KWD.", meta.Answer)
	assert.Equal(t, meta.Answer, answer.String())
	assert.Len(t, meta.SessionID, 12)
}

func TestSessionCreate(t *testing.T) {
	sessions := session.NewMemoryStore(10)
	app := newTestApp(nil, sessions)

	resp := postJSON(t, app, "/session", `{}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	id, ok := body["session_id"].(string)
	require.True(t, ok)
	assert.Len(t, id, 12)
	assert.Equal(t, 1, sessions.Count())
}
