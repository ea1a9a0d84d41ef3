package accelerator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reality-mesh/internal/accelerator"
	"reality-mesh/internal/storage"
)

// TestDisabledAcceleratorIsNilSafe covers invariant P6 at the unit
// level: every accelerator method must be a safe no-op when Redis is
// disabled (Connect returns a nil *Accelerator, not an error).
func TestDisabledAcceleratorIsNilSafe(t *testing.T) {
	accel, err := accelerator.Connect(context.Background(), accelerator.Config{}, "server-A")
	require.NoError(t, err)
	require.Nil(t, accel)

	ctx := context.Background()
	assert.False(t, accel.IsEnabled())
	assert.NotPanics(t, func() {
		accel.CacheNode(ctx, storage.NodeMeta{Key: "k", Version: 1, Hash: "h"})
		_, ok := accel.LookupNode(ctx, "k")
		assert.False(t, ok)
		accel.PublishInvalidation(ctx, []string{"k"})
		accel.Evict(ctx, "k")
		accel.Subscribe(ctx, func(accelerator.InvalidateHint) {})
		assert.NoError(t, accel.Close())
	})
}
