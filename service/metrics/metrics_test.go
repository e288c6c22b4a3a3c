package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordLedgerCall(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLedgerCall("icrc1_balance_of", "success", "ryjl3-tyaaa-aaaaa-aaaba-cai", 0.2)
	m.RecordLedgerCall("icrc1_balance_of", "success", "ryjl3-tyaaa-aaaaa-aaaba-cai", 0.3)
	m.RecordLedgerCall("icrc1_transfer", "error", "ryjl3-tyaaa-aaaaa-aaaba-cai", 1.0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ledgerCallsTotal.WithLabelValues("icrc1_balance_of", "success", "ryjl3-tyaaa-aaaaa-aaaba-cai")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ledgerCallsTotal.WithLabelValues("icrc1_transfer", "error", "ryjl3-tyaaa-aaaaa-aaaba-cai")))
}

func TestRecordTransferAndRefresh(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransfer("ok")
	m.RecordTransfer("ok")
	m.RecordTransfer("InsufficientFunds")
	m.RecordRefresh("balance", nil)
	m.RecordRefresh("history", errors.New("timeout"))
	m.RecordTransactionDecoded("mint")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.transfersTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transfersTotal.WithLabelValues("InsufficientFunds")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.refreshesTotal.WithLabelValues("balance", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.refreshesTotal.WithLabelValues("history", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transactionsDecodedTotal.WithLabelValues("mint")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/transfers")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/transfers", "POST", "4xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	})
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(201))
	assert.Equal(t, "3xx", statusCodeToString(304))
	assert.Equal(t, "4xx", statusCodeToString(409))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(99))
}
