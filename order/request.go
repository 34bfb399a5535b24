package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"treasury-desk/curve"
)

// limitScale 收益率限价最多 4 位小数，与存储列精度一致
const limitScale = 4

// Request 下单入参，字段为原始文本（表单或 JSON）。
type Request struct {
	Term       string `json:"term"`
	Amount     string `json:"amount"`
	OrderType  string `json:"order_type"`
	Timing     string `json:"timing"`
	LimitPrice string `json:"limit_price"`
}

// normalize validates r and returns the initial order fields. Type defaults
// to MARKET and timing to DAY; market orders are always DAY and carry no
// limit price.
func (r Request) normalize() (Order, error) {
	term := strings.TrimSpace(r.Term)
	if !curve.IsTerm(term) {
		return Order{}, fmt.Errorf("%w: unknown term %q", ErrInvalidRequest, r.Term)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
	if err != nil || !amount.IsPositive() {
		return Order{}, fmt.Errorf("%w: amount must be a positive decimal", ErrInvalidRequest)
	}

	typ := Type(upperOr(r.OrderType, string(TypeMarket)))
	timing := Timing(upperOr(r.Timing, string(TimingDay)))

	o := Order{Term: term, Amount: amount, Type: typ, Timing: timing}
	switch typ {
	case TypeMarket:
		o.Timing = TimingDay
	case TypeLimit:
		switch timing {
		case TimingDay, TimingGTC, TimingFOK:
		default:
			return Order{}, fmt.Errorf("%w: unknown timing %q", ErrInvalidRequest, r.Timing)
		}
		lp, err := decimal.NewFromString(strings.TrimSpace(r.LimitPrice))
		if err != nil || !lp.IsPositive() {
			return Order{}, fmt.Errorf("%w: limit orders need a positive limit_price", ErrInvalidRequest)
		}
		if !lp.Equal(lp.Round(limitScale)) {
			return Order{}, fmt.Errorf("%w: limit_price allows at most %d decimal places", ErrInvalidRequest, limitScale)
		}
		o.LimitPrice = &lp
	default:
		return Order{}, fmt.Errorf("%w: unknown order type %q", ErrInvalidRequest, r.OrderType)
	}
	return o, nil
}

func upperOr(s, def string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s
}
