package curve

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoCurve 表示没有可选的记录，总是被 fallback 吸收，不会返回给调用方。
var ErrNoCurve = errors.New("curve: no record available")

// Source 标记一条曲线的来源。
type Source string

const (
	SourceFeed     Source = "feed"
	SourceFallback Source = "fallback"
	SourceStore    Source = "store"
)

// Record 是 feed 中的一条日记录。
type Record struct {
	Date   time.Time
	Values map[string]decimal.Decimal
}

// YieldCurve 某个日历日的收益率曲线，创建后不可变。
type YieldCurve struct {
	Date   time.Time                  // 00:00 UTC
	Points map[string]decimal.Decimal // term label -> yield percent
	Source Source
}

// Yield returns the yield for term, if the curve has one.
func (c YieldCurve) Yield(term string) (decimal.Decimal, bool) {
	v, ok := c.Points[term]
	return v, ok
}

// Empty reports whether the curve carries no points.
func (c YieldCurve) Empty() bool { return len(c.Points) == 0 }

// Point is one entry of the curve representation.
type Point struct {
	Term  string      `json:"term"`
	Value json.Number `json:"value"`
}

// Response 对外的曲线表示：日期 + 按期限顺序排列的点。
type Response struct {
	Date   string  `json:"date"`
	Points []Point `json:"points"`
}

// Response renders the curve in canonical term order, omitting missing terms.
func (c YieldCurve) Response() Response {
	pts := make([]Point, 0, len(c.Points))
	for _, t := range terms {
		if v, ok := c.Points[t.label]; ok {
			pts = append(pts, Point{Term: t.label, Value: json.Number(v.String())})
		}
	}
	return Response{Date: c.Date.Format(time.DateOnly), Points: pts}
}

func fromRecord(r Record, src Source) YieldCurve {
	pts := make(map[string]decimal.Decimal, len(r.Values))
	for k, v := range r.Values {
		pts[k] = v
	}
	return YieldCurve{Date: r.Date, Points: pts, Source: src}
}
