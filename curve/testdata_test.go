package curve

import (
	"context"
	"sync"
	"time"
)

// 两条 NEW_DATE 记录：08-20 与 08-22。
const feedTwoDays = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"
      xmlns:d="http://schemas.microsoft.com/ado/2007/08/dataservices"
      xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
  <entry>
    <content type="application/xml">
      <m:properties>
        <d:NEW_DATE>2025-08-20T00:00:00</d:NEW_DATE>
        <d:BC_1MONTH>5.10</d:BC_1MONTH>
        <d:BC_10YEAR>4.20</d:BC_10YEAR>
      </m:properties>
    </content>
  </entry>
  <entry>
    <content type="application/xml">
      <m:properties>
        <d:NEW_DATE>2025-08-22T00:00:00</d:NEW_DATE>
        <d:BC_1MONTH>5.12</d:BC_1MONTH>
        <d:BC_10YEAR>4.18</d:BC_10YEAR>
      </m:properties>
    </content>
  </entry>
</feed>
`

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeFetcher struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls int
	urls  []string
	delay time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.body, f.err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memRepo struct {
	mu     sync.Mutex
	curves map[string]YieldCurve
	err    error
}

func newMemRepo() *memRepo { return &memRepo{curves: make(map[string]YieldCurve)} }

func (r *memRepo) CurveByDate(_ context.Context, date time.Time) (YieldCurve, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return YieldCurve{}, false, r.err
	}
	c, ok := r.curves[date.Format(time.DateOnly)]
	return c, ok, nil
}

func (r *memRepo) PutCurve(_ context.Context, c YieldCurve) (YieldCurve, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return YieldCurve{}, false, r.err
	}
	key := c.Date.Format(time.DateOnly)
	if existing, ok := r.curves[key]; ok {
		return existing, false, nil
	}
	c.Source = SourceStore
	r.curves[key] = c
	return c, true, nil
}

func (r *memRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.curves)
}
