package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const reportQueueSize = 64

// Reporter delivers settlement reports to the facilitator from a background
// worker. Reports are advisory: when the queue is full or the facilitator is
// down they are dropped with a log line, and the request that produced them
// is never affected.
type Reporter struct {
	endpoint string
	client   *http.Client
	queue    chan SettlementReport
	log      *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewReporter starts the delivery worker. endpoint is the facilitator base
// URL; reports POST to its /settle route.
func NewReporter(facilitatorURL string, timeout time.Duration, log *slog.Logger) *Reporter {
	r := &Reporter{
		endpoint: facilitatorURL + "/settle",
		client:   &http.Client{Timeout: timeout},
		queue:    make(chan SettlementReport, reportQueueSize),
		log:      log,
	}
	r.done = make(chan struct{})
	go r.run()
	return r
}

// Report enqueues a settlement report without blocking. A full queue drops
// the report.
func (r *Reporter) Report(report SettlementReport) {
	select {
	case r.queue <- report:
	default:
		r.log.Warn("settlement report dropped, queue full", "tx", report.TxHash)
	}
}

// Close stops the worker after draining queued reports.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *Reporter) run() {
	defer close(r.done)
	for report := range r.queue {
		r.deliver(report)
	}
}

func (r *Reporter) deliver(report SettlementReport) {
	body, err := json.Marshal(report)
	if err != nil {
		r.log.Error("marshal settlement report", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		r.log.Error("build settlement request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("settlement report failed", "tx", report.TxHash, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		r.log.Warn("facilitator rejected settlement", "tx", report.TxHash, "status", resp.StatusCode)
		return
	}
	r.log.Debug("settlement reported", "tx", report.TxHash)
}
