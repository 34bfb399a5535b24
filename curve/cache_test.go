package curve

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-desk/infrastructure/monitor"
	"treasury-desk/internal/clock"
)

func newTestCache(repo Repository, f *fakeFetcher, now time.Time) *Cache {
	in := &Ingestor{Fetcher: f, Clock: clock.Fixed(now)}
	return NewCache(repo, in, CacheOptions{Clock: clock.Fixed(now)})
}

func TestCacheMissStoresUnderRecordDate(t *testing.T) {
	repo := newMemRepo()
	f := &fakeFetcher{body: []byte(feedTwoDays)}
	c := newTestCache(repo, f, day(2025, 8, 23))
	ctx := context.Background()

	got, err := c.Get(ctx, day(2025, 8, 21))
	require.NoError(t, err)
	assert.Equal(t, day(2025, 8, 20), got.Date)

	stored, ok, _ := repo.CurveByDate(ctx, day(2025, 8, 20))
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("5.10").Equal(stored.Points["1 Mo"]))
	_, ok, _ = repo.CurveByDate(ctx, day(2025, 8, 21))
	assert.False(t, ok, "a curve is never stored under a date other than its own")

	// the memo answers the repeated request without refetching
	again, err := c.Get(ctx, day(2025, 8, 21))
	require.NoError(t, err)
	assert.Equal(t, day(2025, 8, 20), again.Date)
	assert.Equal(t, 1, f.Calls())
}

func TestCacheHitSkipsIngestion(t *testing.T) {
	repo := newMemRepo()
	_, _, _ = repo.PutCurve(context.Background(), YieldCurve{
		Date:   day(2025, 8, 22),
		Points: map[string]decimal.Decimal{"1 Mo": decimal.RequireFromString("4.47")},
	})
	f := &fakeFetcher{body: []byte(feedTwoDays)}
	c := newTestCache(repo, f, day(2025, 8, 22))

	got, err := c.Get(context.Background(), time.Date(2025, 8, 22, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4.47").Equal(got.Points["1 Mo"]))
	assert.Equal(t, 0, f.Calls())
}

func TestCacheFallbackIsNotPersisted(t *testing.T) {
	repo := newMemRepo()
	f := &fakeFetcher{err: errors.New("down")}
	c := newTestCache(repo, f, day(2025, 8, 23))

	got, err := c.Get(context.Background(), day(2025, 8, 22))
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, day(2025, 8, 23), got.Date)
	assert.Equal(t, 0, repo.Len())

	// not memoized either: the next call tries the feed again
	_, err = c.Get(context.Background(), day(2025, 8, 22))
	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls())
}

func TestCacheConcurrentMissesIngestOnce(t *testing.T) {
	repo := newMemRepo()
	f := &fakeFetcher{body: []byte(feedTwoDays), delay: 50 * time.Millisecond}
	c := newTestCache(repo, f, day(2025, 8, 23))

	var wg sync.WaitGroup
	results := make([]YieldCurve, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			yc, err := c.Get(context.Background(), day(2025, 8, 22))
			assert.NoError(t, err)
			results[i] = yc
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, 1, repo.Len())
	for _, r := range results {
		assert.Equal(t, day(2025, 8, 22), r.Date)
	}
}

func TestCacheSharedIngestSurvivesFirstCallerCancel(t *testing.T) {
	repo := newMemRepo()
	f := &fakeFetcher{body: []byte(feedTwoDays), delay: 200 * time.Millisecond}
	c := newTestCache(repo, f, day(2025, 8, 23))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Get(firstCtx, day(2025, 8, 22))
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, time.Millisecond)

	type result struct {
		yc  YieldCurve
		err error
	}
	second := make(chan result, 1)
	go func() {
		yc, err := c.Get(context.Background(), day(2025, 8, 22))
		second <- result{yc, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelFirst()

	assert.ErrorIs(t, <-firstErr, context.Canceled)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, SourceStore, got.yc.Source)
	assert.Equal(t, day(2025, 8, 22), got.yc.Date)
	assert.True(t, decimal.RequireFromString("5.12").Equal(got.yc.Points["1 Mo"]))
	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, 1, repo.Len())
}

func TestCacheWaiterStopsOnOwnContext(t *testing.T) {
	repo := newMemRepo()
	f := &fakeFetcher{body: []byte(feedTwoDays), delay: 150 * time.Millisecond}
	c := newTestCache(repo, f, day(2025, 8, 23))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Get(ctx, day(2025, 8, 22))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// 被放弃的摄取仍会完成并落库
	require.Eventually(t, func() bool { return repo.Len() == 1 }, time.Second, 5*time.Millisecond)
	got, err := c.Get(context.Background(), day(2025, 8, 22))
	require.NoError(t, err)
	assert.Equal(t, day(2025, 8, 22), got.Date)
	assert.Equal(t, 1, f.Calls())
}

func TestCacheConcurrentPutsKeepOneRow(t *testing.T) {
	repo := newMemRepo()
	c := NewCache(repo, &Ingestor{}, CacheOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Put(ctx, YieldCurve{
				Date:   day(2025, 8, 22),
				Points: map[string]decimal.Decimal{"1 Mo": decimal.NewFromInt(int64(i))},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, repo.Len())
	got, ok, err := repo.CurveByDate(ctx, day(2025, 8, 22))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, got.Points, 1)
}

func TestCachePropagatesRepositoryErrors(t *testing.T) {
	repo := newMemRepo()
	repo.err = errors.New("db gone")
	c := newTestCache(repo, &fakeFetcher{body: []byte(feedTwoDays)}, day(2025, 8, 23))

	_, err := c.Get(context.Background(), day(2025, 8, 22))
	assert.ErrorContains(t, err, "db gone")
}

func TestCacheMemoExpires(t *testing.T) {
	repo := newMemRepo()
	f := &fakeFetcher{body: []byte(feedTwoDays)}
	now := day(2025, 8, 23)
	in := &Ingestor{Fetcher: f, Clock: clock.Fixed(now)}
	var mu sync.Mutex
	c := NewCache(repo, in, CacheOptions{
		MemoTTL: time.Minute,
		Clock: clock.Func(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}),
	})

	_, err := c.Get(context.Background(), day(2025, 8, 21))
	require.NoError(t, err)
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, err = c.Get(context.Background(), day(2025, 8, 21))
	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls())
	assert.Equal(t, 1, repo.Len())
}

func TestCacheMemoDropsExpiredEntries(t *testing.T) {
	repo := newMemRepo()
	f := &fakeFetcher{body: []byte(feedTwoDays)}
	now := day(2025, 8, 23)
	var mu sync.Mutex
	c := NewCache(repo, &Ingestor{Fetcher: f, Clock: clock.Fixed(now)}, CacheOptions{
		MemoTTL: time.Minute,
		Clock: clock.Func(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}),
	})
	ctx := context.Background()

	_, err := c.Get(ctx, day(2025, 8, 21))
	require.NoError(t, err)
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	// 08-19 早于所有记录，解析到 08-22；写 memo 时清掉过期的 08-21
	_, err = c.Get(ctx, day(2025, 8, 19))
	require.NoError(t, err)

	c.mu.RLock()
	keys := make([]string, 0, len(c.memo))
	for k := range c.memo {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	assert.Equal(t, []string{"2025-08-19"}, keys)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, ok := c.memoGet(day(2025, 8, 19))
	assert.False(t, ok)
	c.mu.RLock()
	assert.Empty(t, c.memo)
	c.mu.RUnlock()
}

func TestCacheWarm(t *testing.T) {
	repo := newMemRepo()
	f := &fakeFetcher{body: []byte(feedTwoDays)}
	mon := monitor.New(monitor.DefaultConfig())
	c := NewCache(repo, &Ingestor{Fetcher: f, Monitor: mon}, CacheOptions{Monitor: mon})

	got, err := c.Warm(context.Background(), day(2025, 8, 20), day(2025, 8, 22))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day(2025, 8, 20), got[0].Date)
	assert.Equal(t, day(2025, 8, 22), got[1].Date)
	assert.Equal(t, 2, repo.Len())

	expected := `
# HELP td_desk_curve_ingestions_total 曲线摄取次数（feed/fallback）
# TYPE td_desk_curve_ingestions_total counter
td_desk_curve_ingestions_total{source="feed"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(mon.Registry(), strings.NewReader(expected), "td_desk_curve_ingestions_total"))
}
