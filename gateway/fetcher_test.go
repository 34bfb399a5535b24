package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(f *RetryingFetcher) *RetryingFetcher {
	f.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func TestFetchReturnsBodyOnSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<feed/>")
	}))
	defer ts.Close()

	f := noSleep(&RetryingFetcher{Client: ts.Client()})
	body, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "<feed/>", string(body))
}

func TestFetchRetriesTransientStatusThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			io.WriteString(w, "ok")
		}
	}))
	defer ts.Close()

	var waits []time.Duration
	f := &RetryingFetcher{Client: ts.Client()}
	f.jitter = func() float64 { return 0 }
	f.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	body, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, waits)
}

func TestFetchGivesUpAfterFourAttempts(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	f := noSleep(&RetryingFetcher{Client: ts.Client()})
	_, err := f.Fetch(context.Background(), ts.URL)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 4, fe.Attempts)
	assert.Equal(t, int32(4), calls.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.ErrorIs(t, err, ErrRetryableHTTP)
}

func TestFetchStopsOnNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := noSleep(&RetryingFetcher{Client: ts.Client()})
	_, err := f.Fetch(context.Background(), ts.URL)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.NotErrorIs(t, err, ErrRetryableHTTP)
}

func TestFetchRetriesConnectionFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := ts.URL
	ts.Close() // nothing listens any more

	f := noSleep(&RetryingFetcher{Client: &http.Client{}, MaxAttempts: 3})
	_, err := f.Fetch(context.Background(), addr)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
}

func TestFetchPerAttemptTimeoutIsRetryable(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		io.WriteString(w, "late but fine")
	}))
	defer ts.Close()

	f := noSleep(&RetryingFetcher{Client: ts.Client(), Timeout: 50 * time.Millisecond})
	body, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "late but fine", string(body))
}

func TestFetchAbortsWhenContextCancelledBetweenAttempts(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := &RetryingFetcher{Client: ts.Client()}
	f.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.Fetch(ctx, ts.URL)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), calls.Load())
}

func TestBackoffIsGeometricWithBoundedJitter(t *testing.T) {
	f := &RetryingFetcher{}
	f.jitter = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, f.Backoff(1))
	assert.Equal(t, time.Second, f.Backoff(2))
	assert.Equal(t, 2*time.Second, f.Backoff(3))

	f.jitter = func() float64 { return 0.999 }
	got := f.Backoff(1)
	assert.GreaterOrEqual(t, got, 500*time.Millisecond)
	assert.Less(t, got, 700*time.Millisecond)
}

func TestFetchNilClient(t *testing.T) {
	_, err := (&RetryingFetcher{}).Fetch(context.Background(), "http://x")
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestMonthURL(t *testing.T) {
	u := MonthURL("", time.Date(2025, 8, 21, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, DefaultTreasuryBaseURL+"?data=daily_treasury_yield_curve&field_tdr_date_value_month=202508", u)

	u = MonthURL("http://local/feed?x=1", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "http://local/feed?x=1&data=daily_treasury_yield_curve&field_tdr_date_value_month=202401", u)
}
