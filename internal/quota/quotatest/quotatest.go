// Package quotatest holds shared checks for quota.Counter implementations.
package quotatest

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/harunnryd/chorus/internal/quota"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ConsumeConcurrently fires n TryConsume calls at one fresh session and checks
// that exactly min(n, limit) get through with distinct post-increment counts.
func ConsumeConcurrently(t *testing.T, gate *quota.Gate, sessionID string, n int) {
	t.Helper()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		allowed  int
		rejected int
		failures int
		counts   []int64
	)

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			decision, err := gate.TryConsume(context.Background(), sessionID, "")

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				return
			}
			counts = append(counts, decision.Status.CurrentCount)
			if decision.Allowed {
				allowed++
			} else {
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Zero(t, failures, "no increment may fail")

	want := n
	if limit := int(gate.Limit()); limit < n {
		want = limit
	}
	assert.Equal(t, want, allowed)
	assert.Equal(t, n-want, rejected)

	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	for i, c := range counts {
		assert.Equal(t, int64(i+1), c, "post-increment counts must be unique")
	}
}

// CounterContract exercises the Increment/Get/Reset behaviour every backend
// must share.
func CounterContract(t *testing.T, counter quota.Counter) {
	t.Helper()
	ctx := context.Background()

	got, err := counter.Get(ctx, "contract-a")
	require.NoError(t, err)
	assert.Zero(t, got, "unknown sessions start at zero")

	for want := int64(1); want <= 3; want++ {
		got, err := counter.Increment(ctx, "contract-a")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err = counter.Increment(ctx, "contract-b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "sessions are counted independently")

	got, err = counter.Get(ctx, "contract-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	require.NoError(t, counter.Reset(ctx, "contract-a"))
	got, err = counter.Get(ctx, "contract-a")
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, counter.Reset(ctx, "never-seen"))
}
