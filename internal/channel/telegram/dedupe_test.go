package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper(time.Hour)

	seen, err := d.Seen(ctx, 1001)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(ctx, 1002)
	require.NoError(t, err)
	assert.False(t, seen, "distinct update ids never collide")
}

func TestMemoryDeduperTTL(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper(time.Millisecond)

	_, err := d.Seen(ctx, 1001)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	seen, err := d.Seen(ctx, 1001)
	require.NoError(t, err)
	assert.False(t, seen, "entries past the ttl are forgotten")
}
