package httptransport

import (
	"context"
	"net/http"
	"time"

	"qguard/internal/mempool"
	"qguard/internal/payment"
	"qguard/pkg/httputil"
)

const mevAnalysisDepth = 10

func (h *Handler) handleGasPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	snap, cacheHit, err := h.gas.Predict(ctx)
	if err != nil {
		h.log.Error("gas prediction failed", "error", err)
		httputil.WriteError(w, r, http.StatusBadGateway,
			string(payment.ReasonUpstreamUnavailable),
			"prediction source unavailable", nil)
		return
	}

	h.recordPayment(ctx, "/api/gas/prediction")
	h.analytics.RecordRequest(ctx, time.Since(start), cacheHit)

	writeData(w, r, snap, cacheHit, "ethereum-mainnet")
}

// handleMEVOpportunities scans the most recent pending transactions. Without
// a mempool subscription the endpoint still answers, with an empty set.
func (h *Handler) handleMEVOpportunities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	opportunities := []mempool.Opportunity{}
	if h.monitor != nil {
		pending := h.monitor.Snapshot()
		if len(pending) > mevAnalysisDepth {
			pending = pending[len(pending)-mevAnalysisDepth:]
		}
		for _, tx := range pending {
			if opp := h.detector.Analyze(tx); opp != nil {
				opportunities = append(opportunities, *opp)
			}
		}
	}
	h.log.Info("mev analysis complete", "opportunities", len(opportunities))

	h.recordPayment(ctx, "/api/mev/opportunities")
	h.analytics.RecordRequest(ctx, time.Since(start), false)

	writeData(w, r, opportunities, false, "ethereum-mempool")
}

// recordPayment books the price the gate actually charged for this request.
func (h *Handler) recordPayment(ctx context.Context, endpoint string) {
	quote, ok := payment.QuoteFrom(ctx)
	if !ok {
		return
	}
	payer := "anonymous"
	if res := payment.ResultFrom(ctx); res != nil {
		payer = res.Payer.Hex()
	}
	h.analytics.RecordPayment(ctx, quote.EffectivePriceCents, endpoint, payer)
}
