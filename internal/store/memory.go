package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"treasury-desk/curve"
	"treasury-desk/order"
)

// EventSink 接收存储层写入事件，可为 nil。
type EventSink func(string, map[string]interface{})

// Memory 进程内实现，曲线与订单各自一把读写锁。
// 所有写操作在锁内完成检查与写入，等价于数据库的 insert-or-ignore 与 CAS 更新。
type Memory struct {
	curveMu sync.RWMutex
	curves  map[string]curve.YieldCurve

	orderMu sync.RWMutex
	orders  map[string]order.Order
	seq     map[string]int64 // 插入顺序，CreatedAt 相同时用于排序
	next    int64

	sink EventSink
}

// NewMemory returns an empty store.
func NewMemory(sink EventSink) *Memory {
	return &Memory{
		curves: make(map[string]curve.YieldCurve),
		orders: make(map[string]order.Order),
		seq:    make(map[string]int64),
		sink:   sink,
	}
}

func dateKey(t time.Time) string { return t.Format(time.DateOnly) }

// CurveByDate 按日历日读取曲线
func (m *Memory) CurveByDate(_ context.Context, date time.Time) (curve.YieldCurve, bool, error) {
	m.curveMu.RLock()
	defer m.curveMu.RUnlock()
	c, ok := m.curves[dateKey(date)]
	if !ok {
		return curve.YieldCurve{}, false, nil
	}
	return cloneCurve(c), true, nil
}

// PutCurve 同一日期只保留第一条
func (m *Memory) PutCurve(_ context.Context, c curve.YieldCurve) (curve.YieldCurve, bool, error) {
	key := dateKey(c.Date)
	m.curveMu.Lock()
	if existing, ok := m.curves[key]; ok {
		m.curveMu.Unlock()
		return cloneCurve(existing), false, nil
	}
	stored := cloneCurve(c)
	stored.Source = curve.SourceStore
	m.curves[key] = stored
	m.curveMu.Unlock()

	m.logEvent("curve_stored", map[string]interface{}{"date": key, "points": len(stored.Points)})
	return cloneCurve(stored), true, nil
}

// CreateOrder 新增订单，ID 重复时报错
func (m *Memory) CreateOrder(_ context.Context, o order.Order) error {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s", ErrDuplicate, o.ID)
	}
	m.orders[o.ID] = cloneOrder(o)
	m.next++
	m.seq[o.ID] = m.next
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (order.Order, error) {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("%w: %s", order.ErrUnknownOrder, id)
	}
	return cloneOrder(o), nil
}

func (m *Memory) ListOrders(_ context.Context) ([]order.Order, error) {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()
	out := make([]order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] > m.seq[out[j].ID] })
	return out, nil
}

func (m *Memory) OpenOrders(_ context.Context) ([]order.Order, error) {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()
	out := make([]order.Order, 0)
	for _, o := range m.orders {
		if o.Status == order.StatusOpen {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] < m.seq[out[j].ID] })
	return out, nil
}

// Fill 仅当订单仍为 OPEN 时一次性写入两个价格与状态
func (m *Memory) Fill(_ context.Context, id string, executed, purchased decimal.Decimal, at time.Time) (order.Order, bool, error) {
	m.orderMu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.orderMu.Unlock()
		return order.Order{}, false, fmt.Errorf("%w: %s", order.ErrUnknownOrder, id)
	}
	if o.Status != order.StatusOpen {
		m.orderMu.Unlock()
		return cloneOrder(o), false, nil
	}
	o.ExecutedPrice = &executed
	o.PurchasedPrice = &purchased
	o.Status = order.StatusFilled
	o.UpdatedAt = at
	m.orders[id] = o
	out := cloneOrder(o)
	m.orderMu.Unlock()

	m.logEvent("order_written", map[string]interface{}{"order_id": id, "status": string(order.StatusFilled)})
	return out, true, nil
}

// CancelIfOpen 仅当订单仍为 OPEN 时撤销
func (m *Memory) CancelIfOpen(_ context.Context, id string, at time.Time) (order.Order, bool, error) {
	m.orderMu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.orderMu.Unlock()
		return order.Order{}, false, fmt.Errorf("%w: %s", order.ErrUnknownOrder, id)
	}
	if o.Status != order.StatusOpen {
		m.orderMu.Unlock()
		return cloneOrder(o), false, nil
	}
	o.Status = order.StatusCancelled
	o.UpdatedAt = at
	m.orders[id] = o
	out := cloneOrder(o)
	m.orderMu.Unlock()

	m.logEvent("order_written", map[string]interface{}{"order_id": id, "status": string(order.StatusCancelled)})
	return out, true, nil
}

func (m *Memory) logEvent(event string, fields map[string]interface{}) {
	if m == nil || m.sink == nil {
		return
	}
	m.sink(event, fields)
}

func cloneCurve(c curve.YieldCurve) curve.YieldCurve {
	pts := make(map[string]decimal.Decimal, len(c.Points))
	for k, v := range c.Points {
		pts[k] = v
	}
	c.Points = pts
	return c
}

func cloneOrder(o order.Order) order.Order {
	o.LimitPrice = cloneDec(o.LimitPrice)
	o.ExecutedPrice = cloneDec(o.ExecutedPrice)
	o.PurchasedPrice = cloneDec(o.PurchasedPrice)
	return o
}

func cloneDec(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
