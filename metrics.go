package main

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// HTTP metrics
var (
	httpRequestsTotal atomic.Int64
	httpErrorsTotal   atomic.Int64
)

// Invoice metrics
var (
	invoicesIssuedTotal atomic.Int64
)

// Zap watcher metrics
var (
	settlementsSeenTotal      atomic.Int64
	zapReceiptsPublishedTotal atomic.Int64
	zapReceiptsDroppedTotal   atomic.Int64
)

func metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{
		"http_requests_total":          httpRequestsTotal.Load(),
		"http_errors_total":            httpErrorsTotal.Load(),
		"invoices_issued_total":        invoicesIssuedTotal.Load(),
		"settlements_seen_total":       settlementsSeenTotal.Load(),
		"zap_receipts_published_total": zapReceiptsPublishedTotal.Load(),
		"zap_receipts_dropped_total":   zapReceiptsDroppedTotal.Load(),
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
