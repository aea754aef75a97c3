package metric

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestMetricsExposed(t *testing.T) {
	m := New(func() int { return 7 })

	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
	m.ObserveCommand("SET", "ok", 0.001)
	m.ObserveCommand("GET", "error", 0.002)
	m.ExpiredKeysTotal.Add(3)
	m.FramingErrorsTotal.Inc()

	body := scrape(t, m)

	for _, want := range []string{
		"wisp_connections_total 1",
		"wisp_connections_active 1",
		`wisp_commands_total{command="SET",status="ok"} 1`,
		`wisp_commands_total{command="GET",status="error"} 1`,
		"wisp_expired_keys_total 3",
		"wisp_framing_errors_total 1",
		"wisp_keys 7",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestMetricsWithoutKeysFunc(t *testing.T) {
	m := New(nil)
	body := scrape(t, m)
	if strings.Contains(body, "wisp_keys ") {
		t.Error("wisp_keys registered without a sampler")
	}
}
