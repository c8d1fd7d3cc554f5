package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumitrescustefan/llm-serv/llm"
)

func TestRecordAndQueryByModel(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	err = store.RecordUsage(ctx, "OPENAI/gpt-4o", "OPENAI",
		llm.ModelTokens{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, 250*time.Millisecond)
	require.NoError(t, err)
	err = store.RecordUsage(ctx, "OPENAI/gpt-4o", "OPENAI",
		llm.ModelTokens{InputTokens: 20, OutputTokens: 8, TotalTokens: 28}, 180*time.Millisecond)
	require.NoError(t, err)
	err = store.RecordUsage(ctx, "ANTHROPIC/claude-sonnet-4", "ANTHROPIC",
		llm.ModelTokens{InputTokens: 7, OutputTokens: 3, TotalTokens: 10}, 90*time.Millisecond)
	require.NoError(t, err)

	entries, err := store.ByModel(ctx, "OPENAI/gpt-4o")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "OPENAI/gpt-4o", e.ModelID)
		assert.Equal(t, "OPENAI", e.Provider)
		assert.NotZero(t, e.CreatedAt)
	}
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	other, err := store.ByModel(ctx, "GOOGLE/gemini-2.0-flash")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestTotals(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, llm.ModelTokens{}, totals, "empty store sums to zero")

	require.NoError(t, store.RecordUsage(ctx, "OPENAI/gpt-4o", "OPENAI",
		llm.ModelTokens{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, time.Second))
	require.NoError(t, store.RecordUsage(ctx, "ANTHROPIC/claude-sonnet-4", "ANTHROPIC",
		llm.ModelTokens{InputTokens: 4, OutputTokens: 6, TotalTokens: 10}, time.Second))

	totals, err = store.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, llm.ModelTokens{InputTokens: 14, OutputTokens: 11, TotalTokens: 25}, totals)
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "usage.db")

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordUsage(context.Background(), "OPENAI/gpt-4o", "OPENAI",
		llm.ModelTokens{TotalTokens: 1}, time.Millisecond))

	entries, err := store.ByModel(context.Background(), "OPENAI/gpt-4o")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
