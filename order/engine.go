package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"treasury-desk/curve"
	"treasury-desk/infrastructure/logger"
	"treasury-desk/infrastructure/monitor"
	"treasury-desk/internal/clock"
	"treasury-desk/pricing"
)

// CurveSource 提供某日的收益率曲线，curve.Cache 实现它。
type CurveSource interface {
	Get(ctx context.Context, date time.Time) (curve.YieldCurve, error)
}

// EventSink 接收订单事件（成交、撤销），例如推送到 websocket。
type EventSink func(string, map[string]interface{})

// 撤单原因
const (
	ReasonUser       = "user"
	ReasonFOK        = "fok_unfilled"
	ReasonDayExpired = "day_expired"
)

// EngineConfig 撮合引擎依赖。
type EngineConfig struct {
	Clock   clock.Clock
	Logger  *logger.Logger
	Monitor *monitor.Monitor
	Sink    EventSink
}

// Engine 按当日曲线为单笔订单定价成交，是成交字段与状态的唯一写入方。
type Engine struct {
	curves CurveSource
	repo   Repository
	sm     *StateMachine
	cfg    EngineConfig
}

// NewEngine builds an engine pricing against curves and writing to repo.
func NewEngine(curves CurveSource, repo Repository, cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Engine{curves: curves, repo: repo, sm: NewStateMachine(), cfg: cfg}
}

// TryMatch attempts to fill o against today's curve.
//
// Orders that are not OPEN are returned unchanged. A market order fills at
// the published yield for its term; with no point for the term it stays
// OPEN. A limit order fills the same way when the published yield is at
// least its limit; otherwise FOK cancels and DAY/GTC stay OPEN. Only an
// unknown term or a repository/curve failure is returned as an error.
func (e *Engine) TryMatch(ctx context.Context, o Order) (Order, error) {
	if e.sm.IsFinalState(o.Status) {
		return o, nil
	}
	if _, err := pricing.TermDays(o.Term); err != nil {
		return o, err
	}

	today := clock.Today(e.cfg.Clock)
	yc, err := e.curves.Get(ctx, today)
	if err != nil {
		e.cfg.Monitor.RecordMatchError()
		return o, fmt.Errorf("match order %s: %w", o.ID, err)
	}

	y, ok := yc.Yield(o.Term)
	if o.Type == TypeLimit {
		met := ok && o.LimitPrice != nil && y.GreaterThanOrEqual(*o.LimitPrice)
		if !met {
			if o.Timing == TimingFOK {
				return e.cancel(ctx, o, ReasonFOK)
			}
			return o, nil
		}
	}
	if !ok {
		// 曲线里没有这个期限，保持 OPEN 等待下次撮合
		return o, nil
	}
	return e.fill(ctx, o, y, yc)
}

func (e *Engine) fill(ctx context.Context, o Order, y decimal.Decimal, yc curve.YieldCurve) (Order, error) {
	if err := e.sm.ValidateTransition(o.Status, StatusFilled); err != nil {
		return o, err
	}
	price, err := pricing.Price(o.Amount, y, o.Term)
	if err != nil {
		return o, err
	}

	updated, applied, err := e.repo.Fill(ctx, o.ID, y, price, e.cfg.Clock.Now())
	if err != nil {
		e.cfg.Monitor.RecordMatchError()
		return o, fmt.Errorf("fill order %s: %w", o.ID, err)
	}
	if !applied {
		// 并发下其他调用方已经改过状态，返回库中的版本
		return updated, nil
	}

	e.cfg.Monitor.RecordOrderFilled(string(o.Type))
	fields := map[string]interface{}{
		"term":            o.Term,
		"executed_price":  y.String(),
		"purchased_price": price.String(),
		"curve_date":      yc.Date.Format(time.DateOnly),
		"curve_source":    string(yc.Source),
	}
	e.cfg.Logger.LogOrder("order_filled", o.ID, copyFields(fields))
	e.emit("order_filled", updated, fields)
	return updated, nil
}

func (e *Engine) cancel(ctx context.Context, o Order, reason string) (Order, error) {
	if err := e.sm.ValidateTransition(o.Status, StatusCancelled); err != nil {
		return o, err
	}
	updated, applied, err := e.repo.CancelIfOpen(ctx, o.ID, e.cfg.Clock.Now())
	if err != nil {
		return o, fmt.Errorf("cancel order %s: %w", o.ID, err)
	}
	if !applied {
		return updated, nil
	}
	e.cfg.Monitor.RecordOrderCancelled(reason)
	fields := map[string]interface{}{"reason": reason}
	e.cfg.Logger.LogOrder("order_cancelled", o.ID, copyFields(fields))
	e.emit("order_cancelled", updated, fields)
	return updated, nil
}

func (e *Engine) emit(event string, o Order, fields map[string]interface{}) {
	if e.cfg.Sink == nil {
		return
	}
	payload := copyFields(fields)
	payload["order"] = o.View()
	e.cfg.Sink(event, payload)
}

func copyFields(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
