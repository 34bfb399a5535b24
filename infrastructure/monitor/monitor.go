package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
//
// 所有 Record 方法对 nil 接收者安全，未注入 monitor 的组件可直接调用。
type Monitor struct {
	registry *prometheus.Registry

	// 上游抓取指标
	fetchAttempts *prometheus.CounterVec
	fetchRetries  prometheus.Counter
	fetchLatency  prometheus.Histogram
	breakerState  prometheus.Gauge

	// 曲线指标
	ingestions  *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	curveStores *prometheus.CounterVec

	// 订单指标
	ordersPlaced    *prometheus.CounterVec
	ordersFilled    *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	matchErrors     prometheus.Counter

	// 系统指标
	wsClients prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "td",
		Subsystem: "desk",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,

		fetchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "fetch_attempts_total",
				Help:      "上游 XML 抓取尝试次数（按结果）",
			},
			[]string{"outcome"},
		),
		fetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fetch_retries_total",
			Help:      "退避后重试次数",
		}),
		fetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fetch_latency_seconds",
			Help:      "单次抓取延迟（秒）",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_breaker_state",
			Help:      "上游熔断器状态（0 关闭，1 打开，2 半开）",
		}),

		ingestions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "curve_ingestions_total",
				Help:      "曲线摄取次数（feed/fallback）",
			},
			[]string{"source"},
		),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "curve_cache_hits_total",
			Help:      "曲线缓存命中次数",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "curve_cache_misses_total",
			Help:      "曲线缓存未命中次数",
		}),
		curveStores: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "curve_stores_total",
				Help:      "曲线写入次数（inserted/conflict）",
			},
			[]string{"result"},
		),

		ordersPlaced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "orders_placed_total",
				Help:      "订单下单总数",
			},
			[]string{"type"},
		),
		ordersFilled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "orders_filled_total",
				Help:      "订单成交总数",
			},
			[]string{"type"},
		),
		ordersCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "orders_cancelled_total",
				Help:      "订单撤销总数（按原因）",
			},
			[]string{"reason"},
		),
		matchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "match_errors_total",
			Help:      "撮合失败次数",
		}),

		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_clients",
			Help:      "当前 WebSocket 订阅数",
		}),
	}

	return m
}

// 抓取相关方法
func (m *Monitor) RecordFetchAttempt(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(outcome).Inc()
	m.fetchLatency.Observe(seconds)
}

func (m *Monitor) RecordFetchRetry() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

func (m *Monitor) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

// 曲线相关方法
func (m *Monitor) RecordIngestion(source string) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(source).Inc()
}

func (m *Monitor) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Monitor) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Monitor) RecordCurveStore(inserted bool) {
	if m == nil {
		return
	}
	result := "conflict"
	if inserted {
		result = "inserted"
	}
	m.curveStores.WithLabelValues(result).Inc()
}

// 订单相关方法
func (m *Monitor) RecordOrderPlaced(orderType string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(orderType).Inc()
}

func (m *Monitor) RecordOrderFilled(orderType string) {
	if m == nil {
		return
	}
	m.ordersFilled.WithLabelValues(orderType).Inc()
}

func (m *Monitor) RecordOrderCancelled(reason string) {
	if m == nil {
		return
	}
	m.ordersCancelled.WithLabelValues(reason).Inc()
}

func (m *Monitor) RecordMatchError() {
	if m == nil {
		return
	}
	m.matchErrors.Inc()
}

// 系统相关方法
func (m *Monitor) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
