package curve

import (
	"context"
	"fmt"
	"time"

	"treasury-desk/gateway"
	"treasury-desk/infrastructure/logger"
	"treasury-desk/infrastructure/monitor"
	"treasury-desk/internal/clock"
)

// Alerter 接收降级告警，infrastructure/alert.Manager 实现它。
type Alerter interface {
	SendWarning(message string, fields map[string]interface{}) error
}

// Ingestor 执行 fetch -> parse -> select 流水线，失败时退回样例曲线。
type Ingestor struct {
	Fetcher gateway.Fetcher
	BaseURL string
	Clock   clock.Clock
	Logger  *logger.Logger
	Monitor *monitor.Monitor
	Alerts  Alerter
}

// Ingest always returns a usable curve. Feed curves carry the date of the
// selected record, which may be earlier than date; fallback curves are
// dated today.
func (in *Ingestor) Ingest(ctx context.Context, date time.Time) YieldCurve {
	c, err := in.fromFeed(ctx, date)
	if err == nil {
		in.Monitor.RecordIngestion(string(SourceFeed))
		in.log().LogCurve("curve_ingest", c.Date, map[string]interface{}{
			"source":    string(SourceFeed),
			"points":    len(c.Points),
			"requested": date.Format(time.DateOnly),
		})
		return c
	}

	fb := Fallback(clock.Today(in.Clock))
	in.Monitor.RecordIngestion(string(SourceFallback))
	in.log().LogCurve("curve_fallback", fb.Date, map[string]interface{}{
		"reason":    err.Error(),
		"requested": date.Format(time.DateOnly),
	})
	if in.Alerts != nil {
		_ = in.Alerts.SendWarning("curve fallback served", map[string]interface{}{
			"requested": date.Format(time.DateOnly),
			"reason":    err.Error(),
		})
	}
	return fb
}

func (in *Ingestor) fromFeed(ctx context.Context, date time.Time) (YieldCurve, error) {
	if in.Fetcher == nil {
		return YieldCurve{}, fmt.Errorf("ingest: %w", gateway.ErrNilClient)
	}
	body, err := in.Fetcher.Fetch(ctx, gateway.MonthURL(in.BaseURL, date))
	if err != nil {
		return YieldCurve{}, err
	}
	records, err := Parse(body)
	if err != nil {
		return YieldCurve{}, err
	}
	rec, ok := Select(records, date)
	if !ok {
		return YieldCurve{}, ErrNoCurve
	}
	return fromRecord(rec, SourceFeed), nil
}

func (in *Ingestor) log() *logger.Logger {
	if in.Logger == nil {
		return logger.NewNop()
	}
	return in.Logger
}
