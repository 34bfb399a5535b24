package order

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRequest    = errors.New("invalid order request")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrIllegalTransition = errors.New("illegal state transition")
)

// Status represents order lifecycle.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// Type 订单类型。
type Type string

const (
	TypeMarket Type = "MARKET"
	TypeLimit  Type = "LIMIT"
)

// Timing 有效期。
type Timing string

const (
	TimingDay Timing = "DAY" // 当日有效，收盘未成交则撤销
	TimingGTC Timing = "GTC" // 撤销前一直有效
	TimingFOK Timing = "FOK" // 立即全部成交，否则立即撤销
)

// Order 一笔国债认购订单。LimitPrice 与成交字段均为收益率百分比，
// PurchasedPrice 为美元价格。ExecutedPrice/PurchasedPrice 只在 OPEN->FILLED 时一起写入。
type Order struct {
	ID             string
	Term           string
	Amount         decimal.Decimal
	Type           Type
	Timing         Timing
	LimitPrice     *decimal.Decimal
	ExecutedPrice  *decimal.Decimal
	PurchasedPrice *decimal.Decimal
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// View is the outward representation of an order. Decimals are plain JSON
// numbers; unset optionals are null.
type View struct {
	ID             string       `json:"id"`
	Term           string       `json:"term"`
	Amount         json.Number  `json:"amount"`
	OrderType      Type         `json:"order_type"`
	Timing         Timing       `json:"timing"`
	LimitPrice     *json.Number `json:"limit_price"`
	ExecutedPrice  *json.Number `json:"executed_price"`
	PurchasedPrice *json.Number `json:"purchased_price"`
	Status         Status       `json:"status"`
	CreatedAt      string       `json:"created_at"`
}

// View renders o for API consumers.
func (o Order) View() View {
	return View{
		ID:             o.ID,
		Term:           o.Term,
		Amount:         json.Number(o.Amount.String()),
		OrderType:      o.Type,
		Timing:         o.Timing,
		LimitPrice:     number(o.LimitPrice),
		ExecutedPrice:  number(o.ExecutedPrice),
		PurchasedPrice: number(o.PurchasedPrice),
		Status:         o.Status,
		CreatedAt:      o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Views renders a slice of orders.
func Views(orders []Order) []View {
	out := make([]View, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.View())
	}
	return out
}

func number(d *decimal.Decimal) *json.Number {
	if d == nil {
		return nil
	}
	n := json.Number(d.String())
	return &n
}
