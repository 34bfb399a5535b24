package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"treasury-desk/internal/clock"
	"treasury-desk/order"
	"treasury-desk/pricing"
)

// parseDay 解析 YYYY-MM-DD，空串或非法日期回退到今天。
func (s *Server) parseDay(raw string) time.Time {
	if raw != "" {
		if d, err := time.Parse(time.DateOnly, strings.TrimSpace(raw)); err == nil {
			return d
		}
	}
	return clock.Today(s.deps.Clock)
}

func (s *Server) handleYieldCurve(w http.ResponseWriter, r *http.Request) {
	date := s.parseDay(r.URL.Query().Get("date"))
	yc, err := s.deps.Curves.Get(r.Context(), date)
	if err != nil {
		s.deps.Logger.LogError(err, map[string]interface{}{"action": "get_curve", "date": date.Format(time.DateOnly)})
		writeError(w, http.StatusInternalServerError, "curve unavailable")
		return
	}
	writeJSON(w, http.StatusOK, yc.Response())
}

// orderBody JSON 下单体；数字字段既可以是数字也可以是数字字符串。
type orderBody struct {
	Term       string      `json:"term"`
	Amount     json.Number `json:"amount"`
	OrderType  string      `json:"order_type"`
	Timing     string      `json:"timing"`
	LimitPrice json.Number `json:"limit_price"`
}

func decodeOrderRequest(r *http.Request) (order.Request, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body orderBody
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&body); err != nil {
			return order.Request{}, err
		}
		return order.Request{
			Term:       body.Term,
			Amount:     body.Amount.String(),
			OrderType:  body.OrderType,
			Timing:     body.Timing,
			LimitPrice: body.LimitPrice.String(),
		}, nil
	}
	if err := r.ParseForm(); err != nil {
		return order.Request{}, err
	}
	return order.Request{
		Term:       r.FormValue("term"),
		Amount:     r.FormValue("amount"),
		OrderType:  r.FormValue("order_type"),
		Timing:     r.FormValue("timing"),
		LimitPrice: r.FormValue("limit_price"),
	}, nil
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOrderRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed order body")
		return
	}
	o, err := s.deps.Orders.Place(r.Context(), req)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o.View())
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.deps.Orders.List(r.Context())
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order.Views(orders))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Orders.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

func (s *Server) handleMatchOpen(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Orders.MatchOpen(r.Context())
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	asOf := s.parseDay(r.URL.Query().Get("as_of"))
	n, err := s.deps.Orders.ExpireDayOrders(r.Context(), asOf)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"as_of":   asOf.Format(time.DateOnly),
		"expired": n,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeOrderError 把领域错误映射为 HTTP 状态码
func (s *Server) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrUnknownOrder):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pricing.ErrUnknownTerm):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.deps.Logger.LogError(err, map[string]interface{}{"action": "order_api"})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
