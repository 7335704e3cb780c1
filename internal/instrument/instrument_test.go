package instrument_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nanoassist/dashboard/internal/instrument"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *instrument.Metrics

	// None of these may panic.
	m.ObserveRequest("GET", "/healthz", 200, time.Millisecond)
	m.QueryFailed("calls")
	m.LoginAttempt("ok")
	m.RealtimeDropped("profiles")
	m.SubscriberAdded()
	m.SubscriberRemoved()
	m.WatchdogFired()
	m.ProfileFallback("degraded")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics handler, got %d", w.Code)
	}
}

func TestMetrics_HandlerExposesCounters(t *testing.T) {
	m := instrument.New()
	m.QueryFailed("snapshots")
	m.QueryFailed("snapshots")
	m.WatchdogFired()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		`nanoassist_chart_query_failures_total{stream="snapshots"} 2`,
		`nanoassist_resolver_watchdog_fired_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected exposition to contain %q", want)
		}
	}
}

func TestMetrics_GatherLoginAttempts(t *testing.T) {
	m := instrument.New()
	m.LoginAttempt("ok")
	m.LoginAttempt("rejected")
	m.LoginAttempt("rejected")

	n, err := testutil.GatherAndCount(m.Registry(), "nanoassist_login_attempts_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 label series, got %d", n)
	}
}
