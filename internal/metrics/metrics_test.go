package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"djtips-platform/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}

func TestLedgerPosted(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.LedgerPosted(domain.Transaction{Type: domain.TxDebit, Amount: -250})
	m.LedgerPosted(domain.Transaction{Type: domain.TxDebit, Amount: -50})

	body := scrape(t, m)
	if !strings.Contains(body, `djtips_ledger_postings_total{type="debit"} 2`) {
		t.Fatalf("expected 2 postings, got:\n%s", body)
	}
	if !strings.Contains(body, `djtips_ledger_amount_minor_total{type="debit"} 300`) {
		t.Fatalf("expected 300 minor units, got:\n%s", body)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.LedgerPosted(domain.Transaction{Type: domain.TxCredit, Amount: 1})
	m.CallbackOutcome("credited")
	m.TxRetry(1, nil)
}

func TestHandlerExposesCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())
	m.CallbackOutcome("replay")

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `djtips_gateway_callback_outcomes_total{outcome="replay"} 1`) {
		t.Fatalf("expected callback counter in output")
	}
}
