package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"treasury-desk/infrastructure/logger"
	"treasury-desk/infrastructure/monitor"
	"treasury-desk/internal/clock"
)

// Manager 是下单入口：校验、落库、触发撮合，以及显式的撤单/扫单操作。
type Manager struct {
	repo    Repository
	engine  *Engine
	sm      *StateMachine
	clock   clock.Clock
	logger  *logger.Logger
	monitor *monitor.Monitor
	sink    EventSink
	newID   func() string
}

// ManagerConfig 可选依赖，零值可用。
type ManagerConfig struct {
	Clock   clock.Clock
	Logger  *logger.Logger
	Monitor *monitor.Monitor
	Sink    EventSink
}

func NewManager(repo Repository, engine *Engine, cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Manager{
		repo:    repo,
		engine:  engine,
		sm:      NewStateMachine(),
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		monitor: cfg.Monitor,
		sink:    cfg.Sink,
		newID:   uuid.NewString,
	}
}

// Place validates req, persists a new OPEN order and tries to match it
// straight away. A failed match is logged and the order is returned as
// stored; only validation and persistence errors reach the caller.
func (m *Manager) Place(ctx context.Context, req Request) (Order, error) {
	o, err := req.normalize()
	if err != nil {
		return Order{}, err
	}
	now := m.clock.Now()
	o.ID = m.newID()
	o.Status = StatusOpen
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := m.repo.CreateOrder(ctx, o); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	m.monitor.RecordOrderPlaced(string(o.Type))
	m.logger.LogOrder("order_placed", o.ID, map[string]interface{}{
		"term":   o.Term,
		"type":   string(o.Type),
		"timing": string(o.Timing),
		"amount": o.Amount.String(),
	})
	if m.sink != nil {
		m.sink("order_placed", map[string]interface{}{"order": o.View()})
	}

	matched, err := m.engine.TryMatch(ctx, o)
	if err != nil {
		m.logger.LogError(err, map[string]interface{}{"action": "match", "order_id": o.ID})
		if o.Timing == TimingFOK {
			return m.killFOK(ctx, o), nil
		}
		return o, nil
	}
	return matched, nil
}

// killFOK 首次撮合失败的 FOK 订单直接撤销，不留到后续扫单。
func (m *Manager) killFOK(ctx context.Context, o Order) Order {
	got, err := m.engine.cancel(ctx, o, ReasonFOK)
	if err != nil {
		m.logger.LogError(err, map[string]interface{}{"action": "fok_cancel", "order_id": o.ID})
		return o
	}
	return got
}

// Get returns one order.
func (m *Manager) Get(ctx context.Context, id string) (Order, error) {
	return m.repo.GetOrder(ctx, id)
}

// List returns all orders, newest first.
func (m *Manager) List(ctx context.Context) ([]Order, error) {
	return m.repo.ListOrders(ctx)
}

// Cancel 撤销一笔 OPEN 订单；已撤销的订单幂等返回，已成交的返回 ErrIllegalTransition。
func (m *Manager) Cancel(ctx context.Context, id string) (Order, error) {
	o, err := m.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := m.sm.ValidateTransition(o.Status, StatusCancelled); err != nil {
		return o, err
	}
	if o.Status == StatusCancelled {
		return o, nil
	}
	updated, err := m.engine.cancel(ctx, o, ReasonUser)
	if err != nil {
		return o, err
	}
	if updated.Status != StatusCancelled {
		return updated, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, updated.Status, StatusCancelled)
	}
	return updated, nil
}

// MatchSummary 一次扫单的结果统计。
type MatchSummary struct {
	Checked   int `json:"checked"`
	Filled    int `json:"filled"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// MatchOpen re-runs matching for every OPEN order, oldest first. An OPEN
// FOK order already missed its only chance and is cancelled instead of
// matched. Failures of individual orders are counted and logged; the sweep
// continues.
func (m *Manager) MatchOpen(ctx context.Context) (MatchSummary, error) {
	open, err := m.repo.OpenOrders(ctx)
	if err != nil {
		return MatchSummary{}, fmt.Errorf("list open orders: %w", err)
	}
	var sum MatchSummary
	for _, o := range open {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Checked++
		var got Order
		if o.Timing == TimingFOK {
			got, err = m.engine.cancel(ctx, o, ReasonFOK)
		} else {
			got, err = m.engine.TryMatch(ctx, o)
		}
		if err != nil {
			sum.Failed++
			m.logger.LogError(err, map[string]interface{}{"action": "match_open", "order_id": o.ID})
			continue
		}
		switch got.Status {
		case StatusFilled:
			sum.Filled++
		case StatusCancelled:
			sum.Cancelled++
		}
	}
	return sum, nil
}

// ExpireDayOrders cancels OPEN DAY orders created on a calendar date before
// asOf's date. It returns how many were cancelled.
func (m *Manager) ExpireDayOrders(ctx context.Context, asOf time.Time) (int, error) {
	open, err := m.repo.OpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}
	cutoff := clock.DateOf(asOf)
	var errs []error
	n := 0
	for _, o := range open {
		if o.Timing != TimingDay || !clock.DateOf(o.CreatedAt).Before(cutoff) {
			continue
		}
		got, err := m.engine.cancel(ctx, o, ReasonDayExpired)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if got.Status == StatusCancelled {
			n++
		}
	}
	return n, errors.Join(errs...)
}
