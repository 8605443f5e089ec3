package metrics

import (
	"net/http"
	"strconv"
	"time"

	"djtips-platform/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. Build one per registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	ledgerPostings     *prometheus.CounterVec
	ledgerAmount       *prometheus.CounterVec
	requestTransitions *prometheus.CounterVec
	withdrawals        *prometheus.CounterVec
	callbackOutcomes   *prometheus.CounterVec
	txRetries          prometheus.Counter
	notifications      *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		ledgerPostings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djtips_ledger_postings_total",
			Help: "Ledger transactions appended, by type.",
		}, []string{"type"}),
		ledgerAmount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djtips_ledger_amount_minor_total",
			Help: "Absolute minor units posted to the ledger, by type.",
		}, []string{"type"}),
		requestTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djtips_song_request_transitions_total",
			Help: "Song request state changes, by target status.",
		}, []string{"status"}),
		withdrawals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djtips_withdrawal_transitions_total",
			Help: "Withdrawal state changes, by target status.",
		}, []string{"status"}),
		callbackOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djtips_gateway_callback_outcomes_total",
			Help: "Payment gateway callback results.",
		}, []string{"outcome"}),
		txRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "djtips_store_tx_retries_total",
			Help: "Store units re-run after a transient conflict.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djtips_notifications_total",
			Help: "Notification dispatch results.",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "djtips_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "djtips_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Nil-safe recorders: a nil *Metrics records nothing.

func (m *Metrics) LedgerPosted(t domain.Transaction) {
	if m == nil {
		return
	}
	amt := t.Amount
	if amt < 0 {
		amt = -amt
	}
	m.ledgerPostings.WithLabelValues(string(t.Type)).Inc()
	m.ledgerAmount.WithLabelValues(string(t.Type)).Add(float64(amt))
}

func (m *Metrics) RequestTransition(to domain.RequestStatus) {
	if m == nil {
		return
	}
	m.requestTransitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) WithdrawalTransition(to domain.WithdrawalStatus) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) CallbackOutcome(outcome string) {
	if m == nil {
		return
	}
	m.callbackOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TxRetry(attempt int, err error) {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
