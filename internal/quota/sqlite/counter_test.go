package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/quota/quotatest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCounter(t *testing.T) *Counter {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "counters.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCounter_Contract(t *testing.T) {
	quotatest.CounterContract(t, openTestCounter(t))
}

func TestCounter_ConcurrentConsume(t *testing.T) {
	gate := quota.NewGate(openTestCounter(t), quota.Options{Limit: 10})
	quotatest.ConsumeConcurrently(t, gate, "fresh", 40)
}

func TestCounter_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters.db")
	ctx := context.Background()

	c, err := Open(path)
	require.NoError(t, err)
	_, err = c.Increment(ctx, "s-1")
	require.NoError(t, err)
	_, err = c.Increment(ctx, "s-1")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}
