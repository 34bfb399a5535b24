package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"treasury-desk/infrastructure/logger"
)

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendAlert(Alert{
		Level:   LevelWarning,
		Message: "curve fallback served",
		Fields:  map[string]interface{}{"date": "2025-08-22"},
	})
	if err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.Count())
	}

	a := mock.GetAlerts()[0]
	if a.Level != LevelWarning {
		t.Errorf("level = %s, want WARNING", a.Level)
	}
	if a.Fields["date"] != "2025-08-22" {
		t.Errorf("field date = %v", a.Fields["date"])
	}
	if a.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestSendAlertLevels(t *testing.T) {
	tests := []struct {
		name   string
		sendFn func(*Manager) error
		want   Level
	}{
		{"SendInfo", func(m *Manager) error { return m.SendInfo("msg", nil) }, LevelInfo},
		{"SendWarning", func(m *Manager) error { return m.SendWarning("msg", nil) }, LevelWarning},
		{"SendError", func(m *Manager) error { return m.SendError("msg", nil) }, LevelError},
		{"SendCritical", func(m *Manager) error { return m.SendCritical("msg", nil) }, LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockChannel("mock")
			mgr := NewManager([]Channel{mock}, 5*time.Minute)
			if err := tt.sendFn(mgr); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			if got := mock.GetAlerts(); len(got) != 1 || got[0].Level != tt.want {
				t.Errorf("got %+v, want one %s alert", got, tt.want)
			}
		})
	}
}

func TestThrottling(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute)
	now := time.Date(2025, 8, 22, 9, 0, 0, 0, time.UTC)
	mgr.throttle.now = func() time.Time { return now }

	_ = mgr.SendError("upstream circuit open", nil)
	_ = mgr.SendError("upstream circuit open", nil)
	if mock.Count() != 1 {
		t.Errorf("throttled send should not increase count, got %d", mock.Count())
	}

	// 不同 level 或消息互不影响
	_ = mgr.SendWarning("upstream circuit open", nil)
	_ = mgr.SendError("another", nil)
	if mock.Count() != 3 {
		t.Errorf("expected 3 alerts, got %d", mock.Count())
	}

	now = now.Add(time.Minute)
	_ = mgr.SendError("upstream circuit open", nil)
	if mock.Count() != 4 {
		t.Errorf("after throttle period: expected 4 alerts, got %d", mock.Count())
	}

	mgr.ResetThrottle()
	_ = mgr.SendError("upstream circuit open", nil)
	if mock.Count() != 5 {
		t.Errorf("after reset: expected 5 alerts, got %d", mock.Count())
	}
}

func TestChannelFailures(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	good := NewMockChannel("good")

	mgr := NewManager([]Channel{bad}, time.Minute)
	if err := mgr.SendInfo("x", nil); err == nil {
		t.Error("expected error when all channels fail")
	}

	mgr = NewManager([]Channel{bad}, time.Minute)
	mgr.AddChannel(good)
	if err := mgr.SendInfo("x", nil); err != nil {
		t.Errorf("partial failure should not return error: %v", err)
	}
	if good.Count() != 1 {
		t.Errorf("good channel: expected 1 alert, got %d", good.Count())
	}
	if names := mgr.GetChannels(); len(names) != 2 || names[1] != "good" {
		t.Errorf("channels = %v", names)
	}
}

func TestNilManagerIsNoop(t *testing.T) {
	var mgr *Manager
	if err := mgr.SendWarning("ignored", nil); err != nil {
		t.Errorf("nil manager returned %v", err)
	}
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ch := NewLogChannel("log", logger.FromZap(zap.New(core)))

	_ = ch.Send(Alert{Level: LevelError, Message: "upstream circuit open", Fields: map[string]interface{}{"failures": 5}})
	_ = ch.Send(Alert{Level: LevelInfo, Message: "upstream recovered"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel || entries[0].Message != "alert: upstream circuit open" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
	if entries[0].ContextMap()["failures"] != int64(5) {
		t.Errorf("failures field = %v", entries[0].ContextMap()["failures"])
	}
	if entries[1].Level != zapcore.InfoLevel {
		t.Errorf("info alert logged at %s", entries[1].Level)
	}
}

func TestWebhookChannel(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("hook", srv.URL, srv.Client())
	if err := ch.Send(Alert{Level: LevelWarning, Message: "curve fallback served"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Level != LevelWarning || got.Message != "curve fallback served" {
		t.Errorf("webhook received %+v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	if err := NewWebhookChannel("hook", failing.URL, nil).Send(Alert{Level: LevelInfo}); err == nil {
		t.Error("expected error on 502")
	}
}

func TestConcurrentAlerts(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.SendWarning("same message", nil)
		}()
	}
	wg.Wait()

	if mock.Count() != 1 {
		t.Errorf("expected exactly 1 alert after throttling, got %d", mock.Count())
	}
}
