package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"treasury-desk/curve"
	"treasury-desk/infrastructure/logger"
	"treasury-desk/infrastructure/monitor"
	"treasury-desk/internal/clock"
	"treasury-desk/order"
)

// CurveService 曲线查询边界，curve.Cache 实现它。
type CurveService interface {
	Get(ctx context.Context, date time.Time) (curve.YieldCurve, error)
}

// OrderService 订单入口，order.Manager 实现它。
type OrderService interface {
	Place(ctx context.Context, req order.Request) (order.Order, error)
	Get(ctx context.Context, id string) (order.Order, error)
	List(ctx context.Context) ([]order.Order, error)
	Cancel(ctx context.Context, id string) (order.Order, error)
	MatchOpen(ctx context.Context) (order.MatchSummary, error)
	ExpireDayOrders(ctx context.Context, asOf time.Time) (int, error)
}

// Deps 构造 Server 所需依赖；Monitor、Hub、Health 可为空。
type Deps struct {
	Curves  CurveService
	Orders  OrderService
	Hub     *Hub
	Clock   clock.Clock
	Logger  *logger.Logger
	Monitor *monitor.Monitor
	Health  func(ctx context.Context) error
	// RequestTimeout bounds each non-websocket request; curve misses may
	// spend several fetch attempts upstream.
	RequestTimeout time.Duration
}

// Server exposes the curve and order operations over HTTP.
type Server struct {
	deps   Deps
	router chi.Router
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.System
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 90 * time.Second
	}
	s := &Server{deps: deps}
	s.router = s.buildRouter()
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.deps.Monitor != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Monitor.Handler())
	}
	if s.deps.Hub != nil {
		r.Get("/ws/orders", s.deps.Hub.ServeWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.deps.RequestTimeout))

		r.Get("/api/yield-curve", s.handleYieldCurve)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handleListOrders)
			r.Post("/", s.handlePlaceOrder)
			r.Post("/match", s.handleMatchOpen)
			r.Post("/expire", s.handleExpire)
			r.Get("/{id}", s.handleGetOrder)
			r.Post("/{id}/cancel", s.handleCancelOrder)
		})
	})
	return r
}

// requestLogger 用 zap 记录每个请求
func requestLogger(l *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Debug("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
