package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen 熔断期间直接拒绝抓取
var ErrCircuitOpen = errors.New("gateway: upstream circuit open")

// State 熔断器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 熔断，拒绝所有请求
	StateOpen
	// StateHalfOpen 冷却结束，放行有限次探测
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Threshold      int           // 连续失败多少次后熔断，默认 5
	Cooldown       time.Duration // 熔断持续时间，默认 1m
	HalfOpenMaxTry int           // 半开状态探测次数，默认 1
	// OnStateChange 在锁外回调
	OnStateChange func(from, to State)
}

// Breaker 按连续失败次数熔断上游。一次 Fetch（含内部重试）计为一次调用。
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	halfOpenTries   int
	halfOpenOK      int
	openedAt        time.Time
}

// NewBreaker 创建熔断器
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.HalfOpenMaxTry <= 0 {
		cfg.HalfOpenMaxTry = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow 调用前检查；冷却期满后转入半开并放行探测。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	var err error
	switch b.state {
	case StateOpen:
		if wait := b.cfg.Cooldown - b.now().Sub(b.openedAt); wait > 0 {
			err = fmt.Errorf("%w, retry in %v", ErrCircuitOpen, wait.Round(time.Second))
			break
		}
		b.state = StateHalfOpen
		b.halfOpenTries, b.halfOpenOK = 1, 0
	case StateHalfOpen:
		if b.halfOpenTries >= b.cfg.HalfOpenMaxTry {
			err = fmt.Errorf("%w, probe in flight", ErrCircuitOpen)
			break
		}
		b.halfOpenTries++
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return err
}

// Record 记录一次调用结果
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	from := b.state
	if err != nil {
		b.consecutiveFail++
		switch b.state {
		case StateClosed:
			if b.consecutiveFail >= b.cfg.Threshold {
				b.open()
			}
		case StateHalfOpen:
			// 半开状态下失败，立即重新打开
			b.open()
		}
	} else {
		b.consecutiveFail = 0
		if b.state == StateHalfOpen {
			b.halfOpenOK++
			if b.halfOpenOK >= b.cfg.HalfOpenMaxTry {
				b.state = StateClosed
			}
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// release 归还半开探测名额，不改变计数
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenTries > 0 {
		b.halfOpenTries--
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.halfOpenTries, b.halfOpenOK = 0, 0
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// State 获取当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerFetcher 在 Fetcher 外包一层熔断。调用方取消的请求不计入失败。
type BreakerFetcher struct {
	Next    Fetcher
	Breaker *Breaker
}

func (f *BreakerFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.Breaker.Allow(); err != nil {
		return nil, err
	}
	body, err := f.Next.Fetch(ctx, url)
	if err != nil && ctx.Err() != nil {
		f.Breaker.release()
		return nil, err
	}
	f.Breaker.Record(err)
	return body, err
}
