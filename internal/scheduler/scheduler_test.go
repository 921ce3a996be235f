package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/geo"
)

type fakeChecker struct {
	mu      sync.Mutex
	checked []geo.Coordinates
	sweeps  atomic.Int32
	err     error
}

func (f *fakeChecker) Check(_ context.Context, q coverage.Query) (coverage.AggregatedResult, error) {
	f.mu.Lock()
	f.checked = append(f.checked, q.Coordinates)
	f.mu.Unlock()
	return coverage.AggregatedResult{}, f.err
}

func (f *fakeChecker) SweepCache() int {
	f.sweeps.Add(1)
	return 2
}

func (f *fakeChecker) checkedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.checked)
}

type fakeReloader struct{ calls atomic.Int32 }

func (f *fakeReloader) Reload(context.Context) error {
	f.calls.Add(1)
	return errors.New("file missing")
}

type fakePruner struct {
	cutoff time.Time
	calls  int
}

func (f *fakePruner) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return 4, nil
}

var points = []geo.Coordinates{
	{Lat: -26.2041, Lng: 28.0473},
	{Lat: -33.9249, Lng: 18.4241},
	{Lat: -29.8587, Lng: 31.0218},
}

func TestWarmChecksEveryPoint(t *testing.T) {
	svc := &fakeChecker{err: errors.New("provider down")}
	s := New(Config{WarmPoints: points}, svc, nil, nil)

	s.Warm()

	assert.ElementsMatch(t, points, svc.checked)
}

func TestSweepPrunesPersistedEntries(t *testing.T) {
	svc := &fakeChecker{}
	pruner := &fakePruner{}
	s := New(Config{PruneAge: time.Hour}, svc, nil, pruner)

	s.Sweep()

	assert.EqualValues(t, 1, svc.sweeps.Load())
	require.Equal(t, 1, pruner.calls)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), pruner.cutoff, time.Minute)

	noPrune := New(Config{}, svc, nil, pruner)
	noPrune.Sweep()
	assert.Equal(t, 1, pruner.calls)
}

func TestReloadToleratesFailure(t *testing.T) {
	reloader := &fakeReloader{}
	New(Config{}, &fakeChecker{}, reloader, nil).Reload()
	assert.EqualValues(t, 1, reloader.calls.Load())

	New(Config{}, &fakeChecker{}, nil, nil).Reload()
}

func TestStartRunsWarmUpImmediately(t *testing.T) {
	svc := &fakeChecker{}
	s := New(Config{
		SweepInterval: time.Hour,
		WarmInterval:  time.Hour,
		WarmPoints:    points[:1],
	}, svc, nil, nil)

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return svc.checkedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, svc.sweeps.Load())
}

func TestStartWithoutJobs(t *testing.T) {
	s := New(Config{WarmInterval: time.Minute}, &fakeChecker{}, nil, nil)
	require.NoError(t, s.Start())
	s.Stop()
}
