package curve

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"treasury-desk/gateway"
	"treasury-desk/infrastructure/logger"
	"treasury-desk/internal/clock"
)

func TestIngestHappyPath(t *testing.T) {
	f := &fakeFetcher{body: []byte(feedTwoDays)}
	in := &Ingestor{Fetcher: f, BaseURL: "http://feed.local/xmlview", Clock: clock.Fixed(day(2025, 8, 25))}

	c := in.Ingest(context.Background(), day(2025, 8, 22))
	assert.Equal(t, SourceFeed, c.Source)
	assert.Equal(t, day(2025, 8, 22), c.Date)
	assert.True(t, decimal.RequireFromString("5.12").Equal(c.Points["1 Mo"]))
	assert.True(t, decimal.RequireFromString("4.18").Equal(c.Points["10 Yr"]))

	require.Len(t, f.urls, 1)
	assert.True(t, strings.HasSuffix(f.urls[0], "field_tdr_date_value_month=202508"))
}

func TestIngestResolvesToEarlierRecord(t *testing.T) {
	in := &Ingestor{Fetcher: &fakeFetcher{body: []byte(feedTwoDays)}}
	c := in.Ingest(context.Background(), day(2025, 8, 21))
	assert.Equal(t, day(2025, 8, 20), c.Date)
}

func TestIngestFallsBackOnPersistentNetworkFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	fetchErr := &gateway.FetchError{URL: "x", Attempts: 4, Err: errors.New("connection refused")}
	in := &Ingestor{
		Fetcher: &fakeFetcher{err: fetchErr},
		Clock:   clock.Fixed(time.Date(2025, 8, 23, 15, 4, 0, 0, time.UTC)),
		Logger:  logger.FromZap(zap.New(core)),
	}

	c := in.Ingest(context.Background(), day(2025, 8, 22))
	assert.Equal(t, SourceFallback, c.Source)
	assert.Equal(t, day(2025, 8, 23), c.Date)
	assert.NotEmpty(t, c.Response().Points)

	entries := logs.FilterMessage("curve_fallback").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["reason"], "connection refused")
}

func TestIngestFallsBackOnBadDocumentOrNoRecords(t *testing.T) {
	today := clock.Fixed(day(2025, 8, 23))
	for name, body := range map[string]string{
		"malformed": "<html>maintenance",
		"empty":     `<feed xmlns="http://www.w3.org/2005/Atom"></feed>`,
	} {
		t.Run(name, func(t *testing.T) {
			in := &Ingestor{Fetcher: &fakeFetcher{body: []byte(body)}, Clock: today}
			c := in.Ingest(context.Background(), day(2025, 8, 22))
			assert.Equal(t, SourceFallback, c.Source)
			assert.Len(t, c.Points, 12)
		})
	}
}

func TestIngestWithoutFetcher(t *testing.T) {
	c := (&Ingestor{}).Ingest(context.Background(), day(2025, 8, 22))
	assert.Equal(t, SourceFallback, c.Source)
}

type recordingAlerter struct {
	messages []string
	fields   []map[string]interface{}
}

func (r *recordingAlerter) SendWarning(msg string, fields map[string]interface{}) error {
	r.messages = append(r.messages, msg)
	r.fields = append(r.fields, fields)
	return nil
}

func TestIngestAlertsOnlyOnFallback(t *testing.T) {
	alerts := &recordingAlerter{}
	f := &fakeFetcher{body: []byte(feedTwoDays)}
	in := &Ingestor{Fetcher: f, Clock: clock.Fixed(day(2025, 8, 23)), Alerts: alerts}

	c := in.Ingest(context.Background(), day(2025, 8, 22))
	require.Equal(t, SourceFeed, c.Source)
	assert.Empty(t, alerts.messages)

	f.body, f.err = nil, errors.New("upstream circuit open")
	c = in.Ingest(context.Background(), day(2025, 8, 22))
	require.Equal(t, SourceFallback, c.Source)
	require.Equal(t, []string{"curve fallback served"}, alerts.messages)
	assert.Equal(t, "2025-08-22", alerts.fields[0]["requested"])
	assert.Contains(t, alerts.fields[0]["reason"], "circuit open")
}
