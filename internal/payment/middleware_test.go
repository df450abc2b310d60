package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qguard/internal/cache"
	"qguard/internal/platform/metrics"
	"qguard/internal/reputation"
	"qguard/pkg/httputil"
)

func newTestStack(t *testing.T, reader *fakeChain, scorer reputation.Scorer) http.Handler {
	t.Helper()

	met := metrics.NewWith(prometheus.NewRegistry())
	c := cache.New(nil, slog.Default(), met)
	oracle := reputation.NewOracle(scorer, c, slog.Default(), time.Hour)

	gate := NewGate(
		reader,
		Asset{Address: usdcAddr, Symbol: "USDC", Decimals: 6, Chain: "base-sepolia"},
		recipientAddr,
		"https://facilitator.example.com",
		nil,
		slog.Default(),
		met,
		5*time.Second,
	)

	mw := NewMiddleware(gate, oracle)
	paid := mw.Require(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := ResultFrom(r.Context())
		require.NotNil(t, res)
		w.WriteHeader(http.StatusOK)
	}))
	return Identity(paid)
}

func TestMiddlewareChallengesWithoutProof(t *testing.T) {
	h := newTestStack(t, paidChain(recipientAddr, 10000), reputation.NeutralScorer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, string(ReasonPaymentRequired), body.ErrorCode)

	instr, ok := body.PaymentInstructions.(map[string]any)
	require.True(t, ok, "challenge must carry payment instructions")
	pay := instr["payment"].(map[string]any)
	assert.Equal(t, "0.01", pay["amount"])
	assert.Equal(t, recipientAddr.Hex(), pay["recipient"])
	assert.Equal(t, "USDC", pay["asset"])
}

func TestMiddlewareAcceptsValidProof(t *testing.T) {
	h := newTestStack(t, paidChain(recipientAddr, 10000), reputation.NeutralScorer{})

	req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
	req.Header.Set(HeaderName, proofHash)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareAcceptsReplayedProof(t *testing.T) {
	// Flagged behavior: no proof-consumed ledger, so the same proof passes
	// on a second independent request.
	h := newTestStack(t, paidChain(recipientAddr, 10000), reputation.NeutralScorer{})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
		req.Header.Set(HeaderName, proofHash)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
	}
}

func TestMiddlewareRejectsMalformedProofWith400(t *testing.T) {
	h := newTestStack(t, paidChain(recipientAddr, 10000), reputation.NeutralScorer{})

	req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
	req.Header.Set(HeaderName, "not-a-hash")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, string(ReasonInvalidProof), body.ErrorCode)
	assert.Nil(t, body.PaymentInstructions)
}

func TestMiddlewareRejectsUnderpaymentWithChallenge(t *testing.T) {
	h := newTestStack(t, paidChain(recipientAddr, 9999), reputation.NeutralScorer{})

	req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
	req.Header.Set(HeaderName, proofHash)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, string(ReasonVerificationFailed), body.ErrorCode)
	assert.NotNil(t, body.PaymentInstructions, "payment-related rejection must re-issue the challenge")
}

type lowScorer struct{}

func (lowScorer) Score(context.Context, common.Address) (uint64, error) { return 50, nil }

func TestMiddlewareDeniesLowReputation(t *testing.T) {
	h := newTestStack(t, paidChain(recipientAddr, 10000), lowScorer{})

	req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
	req.Header.Set(AgentHeader, payerAddr.Hex())
	req.Header.Set(HeaderName, proofHash)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, string(ReasonInsufficientReputation), body.ErrorCode)
}

func TestMiddlewareDiscountsTrustedAgents(t *testing.T) {
	// A preferred-tier agent owes half price: 1 cent base floors to 0, so
	// the challenge asks for 0.00.
	scorer := reputation.NewStaticScorer(map[common.Address]uint64{payerAddr: 2000})
	h := newTestStack(t, paidChain(recipientAddr, 10000), scorer)

	req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
	req.Header.Set(AgentHeader, payerAddr.Hex())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	pay := body.PaymentInstructions.(map[string]any)["payment"].(map[string]any)
	assert.Equal(t, "0.00", pay["amount"])
}
