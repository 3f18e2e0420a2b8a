package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SeenIDs(t *testing.T) {
	c := New()
	ctx := context.Background()

	ids, err := c.SeenIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, c.MarkSeen(ctx, "n1"))
	require.NoError(t, c.MarkSeen(ctx, "n2"))
	require.NoError(t, c.MarkSeen(ctx, "n1")) // refresh, not duplicate

	ids, err = c.SeenIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2"}, ids)
}

func TestClient_SoundPreference(t *testing.T) {
	c := New()
	ctx := context.Background()

	// No value yet: ok=false tells the caller to apply the configured default.
	_, ok, err := c.SoundEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetSoundEnabled(ctx, false))
	enabled, ok, err := c.SoundEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, enabled)

	require.NoError(t, c.SetSoundEnabled(ctx, true))
	enabled, _, err = c.SoundEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
}
