package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellavenue/rag-backend/internal/llm"
	"github.com/cellavenue/rag-backend/internal/session"
	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/internal/vector/milvus"
)

// fakeChat answers rewrite calls (no system prompt) and generation calls
// (system prompt set) from fixed scripts.
type fakeChat struct {
	rewrite     string
	answer      string
	completeErr error
	streamErr   error
	streamDone  chan struct{}
	requests    []llm.ChatRequest
}

func (f *fakeChat) Complete(ctx context.Context, req llm.ChatRequest) (string, error) {
	f.requests = append(f.requests, req)
	if req.System == "" {
		return f.rewrite, nil
	}
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.answer, nil
}

func (f *fakeChat) Stream(ctx context.Context, req llm.ChatRequest, onToken func(string) error) (string, error) {
	f.requests = append(f.requests, req)
	if f.streamDone != nil {
		defer close(f.streamDone)
	}
	tokens := strings.SplitAfter(f.answer, " ")
	for i, tok := range tokens {
		if f.streamErr != nil && i == len(tokens)/2 {
			return "", f.streamErr
		}
		if err := onToken(tok); err != nil {
			return "", err
		}
	}
	return f.answer, nil
}

type fakeEmbedder struct {
	lastText string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.lastText = text
	return []float32{1, 0}, nil
}

type fakeRetriever struct {
	chunks []milvus.RetrievedChunk
	err    error
}

func (f *fakeRetriever) Search(ctx context.Context, queryVector []float32, k, fetchK int) ([]milvus.RetrievedChunk, error) {
	return f.chunks, f.err
}

func storeChunks() []milvus.RetrievedChunk {
	return []milvus.RetrievedChunk{
		{ChunkID: "a_c0", URL: "https://store.test/product/a", SourceTitle: "Phone A", Text: "Phone A costs 99 KWD."},
		{ChunkID: "b_c0", URL: "https://store.test/product/b", SourceTitle: "Phone B", Text: "Phone B ships free."},
		{ChunkID: "a_c1", URL: "https://store.test/product/a", SourceTitle: "Phone A", Text: "Phone A has 256GB."},
	}
}

func newTestEngine(chat *fakeChat, retriever *fakeRetriever) (*Engine, *fakeEmbedder) {
	embedder := &fakeEmbedder{}
	sessions := session.NewMemoryStore(10)
	return NewEngine(chat, embedder, retriever, sessions, nil, 8, 40), embedder
}

func TestAnswerAssignsFreshSession(t *testing.T) {
	chat := &fakeChat{answer: "Phone A costs 99 KWD."}
	engine, _ := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	resp, err := engine.Answer(context.Background(), "how much is phone A?", "")
	require.NoError(t, err)
	assert.Len(t, resp.SessionID, 12)
	assert.Equal(t, "Phone A costs 99 KWD.", resp.Answer)
	assert.Equal(t, 3, resp.ChunksUsed)
	assert.NotEmpty(t, resp.AsOf)

	history := engine.Sessions().Get(resp.SessionID)
	require.Len(t, history, 2)
	assert.Equal(t, "how much is phone A?", history[0].Content)
	assert.Equal(t, resp.Answer, history[1].Content)
}

func TestAnswerCitationsDedupedFirstSeen(t *testing.T) {
	chat := &fakeChat{answer: "answer"}
	engine, _ := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	resp, err := engine.Answer(context.Background(), "anything", "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://store.test/product/a",
		"https://store.test/product/b",
	}, resp.Citations)
}

func TestAnswerDetectsArabic(t *testing.T) {
	chat := &fakeChat{answer: "إجابة"}
	engine, _ := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	resp, err := engine.Answer(context.Background(), "كم سعر الهاتف؟", "")
	require.NoError(t, err)
	assert.Equal(t, "ar", resp.Language)

	resp, err = engine.Answer(context.Background(), "how much?", "")
	require.NoError(t, err)
	assert.Equal(t, "en", resp.Language)
}

func TestFirstTurnSkipsRewrite(t *testing.T) {
	chat := &fakeChat{rewrite: "should not be used", answer: "answer"}
	engine, embedder := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	_, err := engine.Answer(context.Background(), "what chargers do you sell?", "")
	require.NoError(t, err)

	// Only the generation call, no rewrite round trip.
	require.Len(t, chat.requests, 1)
	assert.NotEmpty(t, chat.requests[0].System)
	assert.Equal(t, "what chargers do you sell?", embedder.lastText)
}

func TestFollowUpIsRewrittenForRetrieval(t *testing.T) {
	chat := &fakeChat{rewrite: "does phone A support wireless charging", answer: "yes"}
	engine, embedder := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	sessionID := engine.Sessions().Create()
	engine.Sessions().Append(sessionID, models.RoleUser, "tell me about phone A")
	engine.Sessions().Append(sessionID, models.RoleAssistant, "Phone A is great")

	resp, err := engine.Answer(context.Background(), "does it support wireless charging?", sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, resp.SessionID)

	// The standalone rewrite drives retrieval, not the raw follow-up.
	assert.Equal(t, "does phone A support wireless charging", embedder.lastText)

	require.Len(t, chat.requests, 2)
	rewriteReq := chat.requests[0]
	assert.Empty(t, rewriteReq.System)
	assert.Contains(t, rewriteReq.User, "tell me about phone A")
	assert.Contains(t, rewriteReq.User, "does it support wireless charging?")

	// The generation prompt keeps the user's original wording.
	genReq := chat.requests[1]
	assert.Equal(t, "does it support wireless charging?", genReq.User)
}

func TestBlankRewriteFallsBackToQuestion(t *testing.T) {
	chat := &fakeChat{rewrite: "   ", answer: "answer"}
	engine, embedder := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	sessionID := engine.Sessions().Create()
	engine.Sessions().Append(sessionID, models.RoleUser, "hi")
	engine.Sessions().Append(sessionID, models.RoleAssistant, "hello")

	_, err := engine.Answer(context.Background(), "do you ship to Salmiya?", sessionID)
	require.NoError(t, err)
	assert.Equal(t, "do you ship to Salmiya?", embedder.lastText)
}

func TestAnswerErrorLeavesSessionUntouched(t *testing.T) {
	chat := &fakeChat{completeErr: errors.New("provider down")}
	engine, _ := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	sessionID := engine.Sessions().Create()
	_, err := engine.Answer(context.Background(), "question", sessionID)
	require.Error(t, err)
	assert.Empty(t, engine.Sessions().Get(sessionID))
}

func TestRetrievalErrorSurfaced(t *testing.T) {
	chat := &fakeChat{answer: "never reached"}
	engine, _ := newTestEngine(chat, &fakeRetriever{err: errors.New("index offline")})

	_, err := engine.Answer(context.Background(), "question", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieve")
}

func TestAnswerStreamTokensThenMetadata(t *testing.T) {
	chat := &fakeChat{answer: "Phone A costs 99 KWD including delivery."}
	engine, _ := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	events, err := engine.AnswerStream(context.Background(), "how much is phone A?", "")
	require.NoError(t, err)

	var tokens strings.Builder
	var meta *Response
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Meta != nil {
			assert.Nil(t, meta, "metadata must arrive exactly once")
			meta = ev.Meta
			continue
		}
		assert.Nil(t, meta, "no token may follow the metadata event")
		tokens.WriteString(ev.Token)
	}

	require.NotNil(t, meta)
	assert.Equal(t, chat.answer, tokens.String())
	assert.Equal(t, chat.answer, meta.Answer)

	history := engine.Sessions().Get(meta.SessionID)
	require.Len(t, history, 2)
	assert.Equal(t, chat.answer, history[1].Content)
}

func TestAnswerStreamErrorEvent(t *testing.T) {
	chat := &fakeChat{answer: "partial answer here", streamErr: errors.New("stream cut")}
	engine, _ := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	sessionID := engine.Sessions().Create()
	events, err := engine.AnswerStream(context.Background(), "question", sessionID)
	require.NoError(t, err)

	var sawErr bool
	for ev := range events {
		if ev.Err != nil {
			sawErr = true
			continue
		}
		assert.Nil(t, ev.Meta, "no metadata after a failed stream")
		assert.False(t, sawErr, "error must be the terminal event")
	}

	assert.True(t, sawErr)
	assert.Empty(t, engine.Sessions().Get(sessionID), "failed generation must not touch history")
}

func TestAnswerStreamStopsWhenConsumerGone(t *testing.T) {
	chat := &fakeChat{answer: strings.Repeat("word ", 64), streamDone: make(chan struct{})}
	engine, _ := newTestEngine(chat, &fakeRetriever{chunks: storeChunks()})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := engine.AnswerStream(ctx, "question", "")
	require.NoError(t, err)

	// Read one token, then walk away without draining the channel.
	<-events
	cancel()

	select {
	case <-chat.streamDone:
	case <-time.After(2 * time.Second):
		t.Fatal("token stream kept running after the consumer went away")
	}
}

func TestExtractCitationsSkipsEmptyURL(t *testing.T) {
	chunks := []milvus.RetrievedChunk{
		{URL: ""},
		{URL: "https://store.test/a"},
		{URL: "https://store.test/a"},
	}
	assert.Equal(t, []string{"https://store.test/a"}, extractCitations(chunks))
}
