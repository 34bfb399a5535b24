package curve

import (
	"time"

	"github.com/shopspring/decimal"

	"treasury-desk/internal/clock"
)

// 上游不可用时使用的样例曲线。
var fallbackValues = map[string]string{
	"1 Mo": "5.30", "2 Mo": "5.28", "3 Mo": "5.25", "6 Mo": "5.15",
	"1 Yr": "4.95", "2 Yr": "4.60", "3 Yr": "4.40", "5 Yr": "4.20",
	"7 Yr": "4.10", "10 Yr": "4.05", "20 Yr": "4.25", "30 Yr": "4.15",
}

// Fallback returns the static sample curve dated today.
func Fallback(today time.Time) YieldCurve {
	pts := make(map[string]decimal.Decimal, len(fallbackValues))
	for term, v := range fallbackValues {
		pts[term] = decimal.RequireFromString(v)
	}
	return YieldCurve{Date: clock.DateOf(today), Points: pts, Source: SourceFallback}
}
