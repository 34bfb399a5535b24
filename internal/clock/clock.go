package clock

import "time"

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// System 使用本地时区的系统时间。
var System Clock = realClock{}

// Fixed 总是返回同一时刻，测试用。
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// DateOf truncates t to its calendar date, expressed as midnight UTC.
// Curves and orders are keyed by calendar date, so the wall-clock date in
// t's own location is what matters, not the instant.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today is DateOf(c.Now()).
func Today(c Clock) time.Time {
	if c == nil {
		c = System
	}
	return DateOf(c.Now())
}
