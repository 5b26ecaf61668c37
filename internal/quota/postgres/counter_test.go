package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/quota/postgres"
	"github.com/harunnryd/chorus/internal/quota/quotatest"

	"github.com/stretchr/testify/require"
)

// testDSN skips the test unless CHORUS_TEST_POSTGRES_DSN is set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CHORUS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHORUS_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestCounter(t *testing.T) *postgres.Counter {
	t.Helper()
	ctx := context.Background()

	c, err := postgres.Connect(ctx, testDSN(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	for _, id := range []string{"contract-a", "contract-b", "fresh"} {
		require.NoError(t, c.Reset(ctx, id))
	}
	return c
}

func TestCounter_Contract(t *testing.T) {
	quotatest.CounterContract(t, newTestCounter(t))
}

func TestCounter_ConcurrentConsume(t *testing.T) {
	gate := quota.NewGate(newTestCounter(t), quota.Options{Limit: 10})
	quotatest.ConsumeConcurrently(t, gate, "fresh", 40)
}
