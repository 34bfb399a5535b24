package curve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"treasury-desk/infrastructure/logger"
	"treasury-desk/infrastructure/monitor"
	"treasury-desk/internal/clock"
)

// Repository 是曲线的持久化边界：按日期读取、按日期插入（冲突忽略）。
type Repository interface {
	CurveByDate(ctx context.Context, date time.Time) (YieldCurve, bool, error)
	// PutCurve inserts c unless a curve for c.Date exists, and returns the
	// stored row either way. inserted reports whether this call wrote it.
	PutCurve(ctx context.Context, c YieldCurve) (stored YieldCurve, inserted bool, err error)
}

// Loader produces a curve for a requested date; it never fails.
type Loader interface {
	Ingest(ctx context.Context, date time.Time) YieldCurve
}

// CacheOptions 缓存可选项。
type CacheOptions struct {
	MemoTTL     time.Duration // requested date -> resolved curve
	WarmWorkers int
	Clock       clock.Clock
	Logger      *logger.Logger
	Monitor     *monitor.Monitor
}

type memoEntry struct {
	curve     YieldCurve
	expiresAt time.Time
}

// Cache 保证每个日期最多一条曲线。读路径：仓库 -> 内存 memo -> 摄取。
type Cache struct {
	repo   Repository
	loader Loader
	opts   CacheOptions

	group singleflight.Group

	mu   sync.RWMutex
	memo map[string]memoEntry
}

// NewCache wires a cache over repo, loading misses through loader.
func NewCache(repo Repository, loader Loader, opts CacheOptions) *Cache {
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = time.Hour
	}
	if opts.WarmWorkers <= 0 {
		opts.WarmWorkers = 4
	}
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Cache{
		repo:   repo,
		loader: loader,
		opts:   opts,
		memo:   make(map[string]memoEntry),
	}
}

// Get returns the curve for date. A stored row for that exact date wins;
// otherwise a miss runs ingestion once per date even under concurrent
// callers. Feed curves are stored under their own record date. Fallback
// curves are returned as-is and never stored or memoized.
func (c *Cache) Get(ctx context.Context, date time.Time) (YieldCurve, error) {
	day := clock.DateOf(date)

	stored, ok, err := c.repo.CurveByDate(ctx, day)
	if err != nil {
		return YieldCurve{}, fmt.Errorf("read curve %s: %w", day.Format(time.DateOnly), err)
	}
	if ok {
		c.opts.Monitor.RecordCacheHit()
		return stored, nil
	}
	if yc, ok := c.memoGet(day); ok {
		c.opts.Monitor.RecordCacheHit()
		return yc, nil
	}
	c.opts.Monitor.RecordCacheMiss()

	// 共享的摄取不随首个调用方取消，抓取本身有单次超时与重试上限；
	// 每个调用方只在自己的 ctx 上等待。
	key := day.Format(time.DateOnly)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.ingest(context.WithoutCancel(ctx), day)
	})
	select {
	case <-ctx.Done():
		return YieldCurve{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return YieldCurve{}, res.Err
		}
		return res.Val.(YieldCurve), nil
	}
}

func (c *Cache) ingest(ctx context.Context, day time.Time) (YieldCurve, error) {
	yc := c.loader.Ingest(ctx, day)
	if yc.Source == SourceFallback || yc.Empty() {
		return yc, nil
	}
	saved, err := c.Put(ctx, yc)
	if err != nil {
		return YieldCurve{}, err
	}
	c.memoSet(day, saved)
	return saved, nil
}

// Put stores curve unless its date already has one; the stored row is
// returned. Concurrent puts for one date leave exactly one row.
func (c *Cache) Put(ctx context.Context, yc YieldCurve) (YieldCurve, error) {
	yc.Date = clock.DateOf(yc.Date)
	stored, inserted, err := c.repo.PutCurve(ctx, yc)
	if err != nil {
		return YieldCurve{}, fmt.Errorf("store curve %s: %w", yc.Date.Format(time.DateOnly), err)
	}
	c.opts.Monitor.RecordCurveStore(inserted)
	c.opts.Logger.LogCurve("curve_cached", stored.Date, map[string]interface{}{
		"inserted": inserted,
	})
	return stored, nil
}

// Warm resolves every date with bounded parallelism. The first repository
// error cancels the rest.
func (c *Cache) Warm(ctx context.Context, dates ...time.Time) ([]YieldCurve, error) {
	out := make([]YieldCurve, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.WarmWorkers)
	for i, d := range dates {
		i, d := i, d
		g.Go(func() error {
			yc, err := c.Get(gctx, d)
			if err != nil {
				return err
			}
			out[i] = yc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Cleanup 删除已过期的 memo 条目，每次写入 memo 时顺带调用。
func (c *Cache) Cleanup() {
	now := c.opts.Clock.Now()
	c.mu.Lock()
	for k, e := range c.memo {
		if now.After(e.expiresAt) {
			delete(c.memo, k)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) memoGet(day time.Time) (YieldCurve, bool) {
	key := day.Format(time.DateOnly)
	c.mu.RLock()
	e, ok := c.memo[key]
	c.mu.RUnlock()
	if !ok {
		return YieldCurve{}, false
	}
	if c.opts.Clock.Now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.memo[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.memo, key)
		}
		c.mu.Unlock()
		return YieldCurve{}, false
	}
	return e.curve, true
}

func (c *Cache) memoSet(day time.Time, yc YieldCurve) {
	c.Cleanup()
	c.mu.Lock()
	c.memo[day.Format(time.DateOnly)] = memoEntry{
		curve:     yc,
		expiresAt: c.opts.Clock.Now().Add(c.opts.MemoTTL),
	}
	c.mu.Unlock()
}
