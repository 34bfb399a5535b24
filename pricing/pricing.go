// Package pricing converts a discount yield into a purchase price using the
// money-market simple-interest convention on a fixed 365-day year.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnknownTerm 所有 UnknownTermError 都匹配它。
var ErrUnknownTerm = errors.New("pricing: unknown term")

// UnknownTermError is returned for a term outside the fixed term table.
type UnknownTermError struct {
	Term string
}

func (e *UnknownTermError) Error() string {
	return fmt.Sprintf("pricing: unknown term %q", e.Term)
}

func (e *UnknownTermError) Is(target error) bool { return target == ErrUnknownTerm }

// 期限 -> 到期天数。月度期限用日历天数，年度期限按 365 天/年，不做闰年调整。
var termDays = map[string]int64{
	"1 Mo":  30,
	"2 Mo":  60,
	"3 Mo":  91,
	"6 Mo":  182,
	"1 Yr":  365,
	"2 Yr":  2 * 365,
	"3 Yr":  3 * 365,
	"5 Yr":  5 * 365,
	"7 Yr":  7 * 365,
	"10 Yr": 10 * 365,
	"20 Yr": 20 * 365,
	"30 Yr": 30 * 365,
}

var (
	hundred  = decimal.NewFromInt(100)
	yearDays = decimal.NewFromInt(365)
)

// divisionPrecision 中间除法保留的小数位，远高于最终的两位。
const divisionPrecision = 16

// TermDays returns days to maturity for term.
func TermDays(term string) (int64, error) {
	d, ok := termDays[term]
	if !ok {
		return 0, &UnknownTermError{Term: term}
	}
	return d, nil
}

// Price computes face * (100 / (1 + y/100 * days/365)) / 100, rounded to cents.
func Price(face, yieldPercent decimal.Decimal, term string) (decimal.Decimal, error) {
	days, err := TermDays(term)
	if err != nil {
		return decimal.Zero, err
	}
	rate := yieldPercent.DivRound(hundred, divisionPrecision)
	frac := decimal.NewFromInt(days).DivRound(yearDays, divisionPrecision)
	denom := decimal.NewFromInt(1).Add(rate.Mul(frac))
	per100 := hundred.DivRound(denom, divisionPrecision)
	return face.Mul(per100).Div(hundred).Round(2), nil
}
