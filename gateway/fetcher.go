package gateway

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"time"

	"treasury-desk/infrastructure/logger"
	"treasury-desk/infrastructure/monitor"
)

const (
	defaultMaxAttempts = 4
	defaultTimeout     = 20 * time.Second
	defaultBackoffBase = 500 * time.Millisecond
	defaultJitterMax   = 200 * time.Millisecond

	maxBodyBytes = 16 << 20
)

// Fetcher 抽象一次 GET；曲线摄取只依赖这个接口。
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// RetryingFetcher 对瞬时失败做有限次数的指数退避重试。
// Client 只构造一次并复用，零值字段取默认值（4 次、20s、0.5s、0.2s）。
type RetryingFetcher struct {
	Client      *http.Client
	MaxAttempts int
	Timeout     time.Duration
	BackoffBase time.Duration
	JitterMax   time.Duration
	UserAgent   string
	Limiter     RateLimiter
	Monitor     *monitor.Monitor
	Logger      *logger.Logger

	// test hooks
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewDefaultHTTPClient 提供一个共享连接池的 http.Client；超时由每次尝试的 ctx 控制。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Fetch returns the body of the first 2xx response. Transport errors,
// per-attempt timeouts and 429/5xx gateway statuses are retried; any other
// status ends the loop at once. Cancelling ctx aborts between attempts.
func (f *RetryingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f == nil || f.Client == nil {
		return nil, ErrNilClient
	}
	attempts := f.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			f.Monitor.RecordFetchRetry()
			if err := f.wait(ctx, f.Backoff(attempt-1)); err != nil {
				return nil, &FetchError{URL: url, Attempts: attempt - 1, Err: err}
			}
		}
		if f.Limiter != nil {
			if err := f.Limiter.Wait(ctx); err != nil {
				return nil, &FetchError{URL: url, Attempts: attempt - 1, Err: err}
			}
		}

		start := time.Now()
		body, err := f.once(ctx, url)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			f.Monitor.RecordFetchAttempt("ok", elapsed)
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			f.Monitor.RecordFetchAttempt("cancelled", elapsed)
			return nil, &FetchError{URL: url, Attempts: attempt, Err: ctx.Err()}
		}
		if !isRetryable(err) {
			f.Monitor.RecordFetchAttempt("fatal", elapsed)
			return nil, &FetchError{URL: url, Attempts: attempt, Err: err}
		}
		f.Monitor.RecordFetchAttempt("retryable", elapsed)
		if f.Logger != nil {
			f.Logger.LogError(err, map[string]interface{}{
				"action":  "fetch",
				"url":     url,
				"attempt": attempt,
				"of":      attempts,
			})
		}
	}
	return nil, &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}

// Backoff 返回第 n 次尝试（n>=1）之后的等待时间：base*2^(n-1) + U[0, jitter)。
func (f *RetryingFetcher) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := f.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	jitterMax := f.JitterMax
	if jitterMax <= 0 {
		jitterMax = defaultJitterMax
	}
	rnd := rand.Float64
	if f.jitter != nil {
		rnd = f.jitter
	}
	wait := base << (n - 1)
	return wait + time.Duration(rnd()*float64(jitterMax))
}

func (f *RetryingFetcher) once(ctx context.Context, url string) ([]byte, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml, text/xml, */*")
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &transportError{err: err}
	}
	return body, nil
}

func (f *RetryingFetcher) wait(ctx context.Context, d time.Duration) error {
	if f.sleep != nil {
		return f.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transportError marks connection failures and per-attempt timeouts.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	switch e := err.(type) {
	case *transportError:
		return true
	case *StatusError:
		return e.Retryable()
	default:
		return false
	}
}
