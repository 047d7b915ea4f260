package healthcheck

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	mu    sync.Mutex
	err   error
	calls atomic.Int32
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakePinger) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func TestCheckerMarksUnhealthyAfterMaxFailures(t *testing.T) {
	redis := &fakePinger{}
	checker := NewChecker(Config{
		Checks:      map[string]Pinger{"redis": redis},
		MaxFailures: 2,
	})

	checker.CheckNow(context.Background())
	s, ok := checker.GetStatus("redis")
	require.True(t, ok)
	assert.True(t, s.IsHealthy)
	assert.Equal(t, "up", s.Label())

	redis.fail(errors.New("connection refused"))
	checker.CheckNow(context.Background())
	s, _ = checker.GetStatus("redis")
	assert.True(t, s.IsHealthy, "one failure stays under the threshold")
	assert.Equal(t, 1, s.FailureCount)
	assert.Equal(t, "connection refused", s.LastError)

	checker.CheckNow(context.Background())
	s, _ = checker.GetStatus("redis")
	assert.False(t, s.IsHealthy)
	assert.Equal(t, "down", s.Label())
	assert.Equal(t, Unhealthy, checker.OverallHealth())

	redis.fail(nil)
	checker.CheckNow(context.Background())
	s, _ = checker.GetStatus("redis")
	assert.True(t, s.IsHealthy)
	assert.Zero(t, s.FailureCount)
	assert.Empty(t, s.LastError)
	assert.Equal(t, Healthy, checker.OverallHealth())
}

func TestCheckerDisabledChecks(t *testing.T) {
	redis := &fakePinger{}
	checker := NewChecker(Config{
		Checks: map[string]Pinger{"redis": redis, "database": nil},
	})

	checker.CheckNow(context.Background())

	statuses := checker.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.Equal(t, "disabled", statuses[0].Label())
	assert.Equal(t, "redis", statuses[1].Name)
	assert.Equal(t, Healthy, checker.OverallHealth())
}

func TestCheckerDegraded(t *testing.T) {
	redis, db := &fakePinger{}, &fakePinger{}
	db.fail(errors.New("timeout"))
	checker := NewChecker(Config{
		Checks:      map[string]Pinger{"redis": redis, "database": db},
		MaxFailures: 1,
	})

	checker.CheckNow(context.Background())
	assert.Equal(t, Degraded, checker.OverallHealth())
	assert.Equal(t, "degraded", checker.OverallHealth().String())
}

func TestCheckerStartStop(t *testing.T) {
	redis := &fakePinger{}
	checker := NewChecker(Config{
		Checks:   map[string]Pinger{"redis": redis},
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker.Start(ctx)
	checker.Start(ctx)
	assert.GreaterOrEqual(t, redis.calls.Load(), int32(1), "first round runs synchronously")

	assert.Eventually(t, func() bool { return redis.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	checker.Stop()
	checker.Stop()
}
