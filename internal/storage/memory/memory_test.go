package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reality-mesh/internal/storage"
	"reality-mesh/internal/storage/memory"
)

func TestGetMaxVersionEmptyStore(t *testing.T) {
	a := memory.New()
	v, err := a.GetMaxVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestSetNodeAdvancesMaxVersionButNotBelow(t *testing.T) {
	a := memory.New()
	ctx := context.Background()

	require.NoError(t, a.SetNode(ctx, storage.NodeMeta{Key: "posts", Version: 5, Hash: "h5"}))
	v, err := a.GetMaxVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	// SetNode with a lower version must not regress the running max.
	require.NoError(t, a.SetNode(ctx, storage.NodeMeta{Key: "other", Version: 1, Hash: "h1"}))
	v, err = a.GetMaxVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	meta, err := a.IncrementVersion(ctx, "posts", "h6")
	require.NoError(t, err)
	assert.Equal(t, int64(6), meta.Version)
}

func TestDeleteNodeRemovesEntirely(t *testing.T) {
	a := memory.New()
	ctx := context.Background()

	_, err := a.IncrementVersion(ctx, "posts", "abc")
	require.NoError(t, err)

	require.NoError(t, a.DeleteNode(ctx, "posts"))

	node, err := a.GetNode(ctx, "posts")
	require.NoError(t, err)
	assert.Nil(t, node)

	// Deleting an already-absent key is a no-op, not an error.
	require.NoError(t, a.DeleteNode(ctx, "posts"))
}

func TestIsHealthyAndClose(t *testing.T) {
	a := memory.New()
	assert.True(t, a.IsHealthy(context.Background()))
	assert.NoError(t, a.Close())
}
