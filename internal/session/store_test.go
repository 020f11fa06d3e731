package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellavenue/rag-backend/internal/storage/models"
)

func TestCreateReturnsShortHexID(t *testing.T) {
	store := NewMemoryStore(10)

	id := store.Create()
	assert.Len(t, id, 12)
	assert.NotContains(t, id, "-")

	other := store.Create()
	assert.NotEqual(t, id, other)
	assert.Equal(t, 2, store.Count())
}

func TestGetUnknownSessionEmpty(t *testing.T) {
	store := NewMemoryStore(10)
	assert.Empty(t, store.Get("no-such-session"))
}

func TestAppendAndGetOrder(t *testing.T) {
	store := NewMemoryStore(10)
	id := store.Create()

	store.Append(id, models.RoleUser, "what phones do you sell?")
	store.Append(id, models.RoleAssistant, "we sell Samsung and Huawei phones")

	history := store.Get(id)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
}

func TestAppendTrimsOldestFirst(t *testing.T) {
	store := NewMemoryStore(2)
	id := store.Create()

	for i := 0; i < 6; i++ {
		store.Append(id, models.RoleUser, fmt.Sprintf("question %d", i))
	}

	history := store.Get(id)
	require.Len(t, history, 4)
	assert.Equal(t, "question 2", history[0].Content)
	assert.Equal(t, "question 5", history[3].Content)
}

func TestGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore(10)
	id := store.Create()
	store.Append(id, models.RoleUser, "original")

	history := store.Get(id)
	history[0].Content = "mutated"

	assert.Equal(t, "original", store.Get(id)[0].Content)
}

func TestConcurrentAppends(t *testing.T) {
	store := NewMemoryStore(5)
	id := store.Create()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			store.Append(id, models.RoleUser, fmt.Sprintf("msg %d", n))
		}(i)
	}
	wg.Wait()

	// Trim bound must hold no matter how appends interleave.
	assert.Len(t, store.Get(id), 10)
}
