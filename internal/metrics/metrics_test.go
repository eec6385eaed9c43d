package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RegistrationAttempt("success")
	m.TokenAcquisition("error")
	m.InboundMessage("relay", "duplicate")
	m.Toast("EXAM")
	m.PlatformNotification("sent")
	m.PromptVisible(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.RegistrationAttempt("success")
	m.RegistrationAttempt("success")
	m.InboundMessage("foreground", "presented")
	m.PromptVisible(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	out := string(body)

	for _, want := range []string{
		`schoolpush_registration_attempts_total{result="success"} 2`,
		`schoolpush_inbound_messages_total{channel="foreground",outcome="presented"} 1`,
		`schoolpush_prompt_visible 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}
