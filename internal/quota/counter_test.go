package quota_test

import (
	"testing"

	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/quota/quotatest"
)

func TestMemoryCounter_Contract(t *testing.T) {
	quotatest.CounterContract(t, quota.NewMemoryCounter())
}

func TestGate_ConcurrentConsume(t *testing.T) {
	for _, tc := range []struct {
		name  string
		n     int
		limit int64
	}{
		{"more callers than limit", 50, 10},
		{"fewer callers than limit", 5, 10},
		{"equal", 10, 10},
	} {
		t.Run(tc.name, func(t *testing.T) {
			gate := quota.NewGate(quota.NewMemoryCounter(), quota.Options{Limit: tc.limit})
			quotatest.ConsumeConcurrently(t, gate, "fresh", tc.n)
		})
	}
}
