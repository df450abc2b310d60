package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qguard/internal/analytics"
	"qguard/internal/cache"
	"qguard/internal/gas"
	"qguard/internal/mempool"
	"qguard/internal/payment"
	"qguard/internal/platform/metrics"
	"qguard/internal/ratelimit"
	"qguard/internal/reputation"
)

var (
	usdcAddr      = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	recipientAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	payerAddr     = common.HexToAddress("0x2222222222222222222222222222222222222222")

	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	proofHash = "0xabcdef0011223344556677889900aabbccddeeff00112233445566778899aabb"
)

// stubChain serves both sides the gateway talks to: mainnet headers for the
// prediction engine and the payment transaction for the gate.
type stubChain struct {
	latest   uint64
	baseFees map[uint64]float64
	blockErr error

	tx      *types.Transaction
	receipt *types.Receipt
}

func (s *stubChain) BlockNumber(context.Context) (uint64, error) {
	return s.latest, s.blockErr
}

func (s *stubChain) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	num := n.Uint64()
	gwei, ok := s.baseFees[num]
	if !ok {
		return nil, errors.New("block unavailable")
	}
	wei := new(big.Int).SetUint64(uint64(gwei * 1e9))
	return &types.Header{Number: new(big.Int).SetUint64(num), BaseFee: wei}, nil
}

func (s *stubChain) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	if s.tx == nil {
		return nil, false, errors.New("not found")
	}
	return s.tx, false, nil
}

func (s *stubChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if s.receipt == nil {
		return nil, errors.New("not found")
	}
	return s.receipt, nil
}

// paidStub is a chain with 20 flat-fee blocks and a settled 10000-unit USDC
// transfer to the gateway.
func paidStub() *stubChain {
	fees := make(map[uint64]float64)
	for n := uint64(81); n <= 100; n++ {
		fees[n] = 25.0
	}
	return &stubChain{
		latest:   100,
		baseFees: fees,
		tx:       types.NewTx(&types.LegacyTx{To: &usdcAddr}),
		receipt: &types.Receipt{
			Status: types.ReceiptStatusSuccessful,
			Logs: []*types.Log{{
				Address: usdcAddr,
				Topics: []common.Hash{
					transferTopic,
					common.BytesToHash(common.LeftPadBytes(payerAddr.Bytes(), 32)),
					common.BytesToHash(common.LeftPadBytes(recipientAddr.Bytes(), 32)),
				},
				Data: common.LeftPadBytes(big.NewInt(10000).Bytes(), 32),
			}},
		},
	}
}

func newTestHandler(t *testing.T, reader *stubChain, perSecond float64, burst int) *Handler {
	t.Helper()

	log := slog.Default()
	met := metrics.NewWith(prometheus.NewRegistry())
	c := cache.New(nil, log, met)

	oracle := reputation.NewOracle(reputation.NewStaticScorer(nil), c, log, time.Hour)
	gate := payment.NewGate(
		reader,
		payment.Asset{Address: usdcAddr, Symbol: "USDC", Decimals: 6, Chain: "base-sepolia"},
		recipientAddr,
		"https://facilitator.example.com",
		nil,
		log,
		met,
		5*time.Second,
	)

	limiter := ratelimit.New(perSecond, burst, log)
	t.Cleanup(limiter.Close)

	return NewHandler(Deps{
		Log:           log,
		Cache:         c,
		Chain:         reader,
		Gas:           gas.NewEngine(reader, c, log, met, 12*time.Second),
		Detector:      mempool.NewDetector(),
		Analytics:     analytics.New(c, log, met),
		Payment:       payment.NewMiddleware(gate, oracle),
		Limiter:       limiter,
		Version:       "1.0.0",
		GasPriceCents: 1,
		MEVPriceCents: 10,
	})
}

func TestHealthDegradedWithoutRedis(t *testing.T) {
	h := newTestHandler(t, paidStub(), 100, 100)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.True(t, body.EthereumRPC)
	assert.False(t, body.Redis)
	assert.Equal(t, "1.0.0", body.Version)
}

func TestHealthUnhealthyWithoutRPC(t *testing.T) {
	reader := paidStub()
	reader.blockErr = errors.New("rpc down")
	h := newTestHandler(t, reader, 100, 100)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
}

func TestStatsEndpoint(t *testing.T) {
	h := newTestHandler(t, paidStub(), 100, 100)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body analytics.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.TotalPayments)
}

func TestGasPredictionChallengesUnpaidRequest(t *testing.T) {
	h := newTestHandler(t, paidStub(), 100, 100)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body struct {
		Success             bool   `json:"success"`
		ErrorCode           string `json:"error_code"`
		RequestID           string `json:"request_id"`
		PaymentInstructions struct {
			Type    string `json:"type"`
			Payment struct {
				Amount    string `json:"amount"`
				Recipient string `json:"recipient"`
			} `json:"payment"`
		} `json:"payment_instructions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "PAYMENT_REQUIRED", body.ErrorCode)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, "x402.payment_required", body.PaymentInstructions.Type)
	assert.Equal(t, "0.01", body.PaymentInstructions.Payment.Amount)
	assert.Equal(t, recipientAddr.Hex(), body.PaymentInstructions.Payment.Recipient)
}

func TestGasPredictionServesPaidRequest(t *testing.T) {
	h := newTestHandler(t, paidStub(), 100, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
	req.Header.Set(payment.HeaderName, proofHash)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success    bool   `json:"success"`
		DataSource string `json:"data_source"`
		CacheHit   bool   `json:"cache_hit"`
		RequestID  string `json:"request_id"`
		Data       struct {
			BaseFeeGwei     float64 `json:"base_fee_gwei"`
			MaxFeeGwei      float64 `json:"max_fee_gwei"`
			PriorityFeeGwei float64 `json:"priority_fee_gwei"`
			Confidence      float64 `json:"confidence"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "ethereum-mainnet", body.DataSource)
	assert.False(t, body.CacheHit)
	assert.NotEmpty(t, body.RequestID)
	assert.InDelta(t, 25.0, body.Data.BaseFeeGwei, 1e-9)
	assert.InDelta(t, 25.0*1.2+2.0, body.Data.MaxFeeGwei, 1e-9)
	assert.InDelta(t, 2.0, body.Data.PriorityFeeGwei, 1e-9)
	assert.InDelta(t, 1.0, body.Data.Confidence, 1e-9)

	// The settled payment shows up in the stats surface.
	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var stats analytics.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.TotalPayments)
	assert.InDelta(t, 0.01, stats.RevenueTodayUSD, 1e-9)
}

func TestGasPredictionCacheHitOnSecondCall(t *testing.T) {
	h := newTestHandler(t, paidStub(), 100, 100)
	router := h.Router()

	for i, wantHit := range []bool{false, true} {
		req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
		req.Header.Set(payment.HeaderName, proofHash)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i)

		var body struct {
			CacheHit bool `json:"cache_hit"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, wantHit, body.CacheHit, "call %d", i)
	}
}

func TestMEVRejectsUnderpaidProof(t *testing.T) {
	h := newTestHandler(t, paidStub(), 100, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/mev/opportunities", nil)
	req.Header.Set(payment.HeaderName, proofHash)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	// The canned transfer covers $0.01; the MEV endpoint quotes $0.10.
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestMEVOpportunitiesServesPaidRequest(t *testing.T) {
	reader := paidStub()
	reader.receipt.Logs[0].Data = common.LeftPadBytes(big.NewInt(100000).Bytes(), 32)
	h := newTestHandler(t, reader, 100, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/mev/opportunities", nil)
	req.Header.Set(payment.HeaderName, proofHash)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success    bool                  `json:"success"`
		DataSource string                `json:"data_source"`
		Data       []mempool.Opportunity `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "ethereum-mempool", body.DataSource)
	assert.Empty(t, body.Data, "no monitor configured, no opportunities")
}

func TestRateLimitOnPaidRoutes(t *testing.T) {
	h := newTestHandler(t, paidStub(), 1, 1)
	router := h.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
	req.RemoteAddr = "10.0.0.7:1234"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPaymentRequired, rec.Code, "first request reaches the gate")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body struct {
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ratelimit.CodeRateLimited, body.ErrorCode)
}

func TestOperationalRoutesAreNotRateLimited(t *testing.T) {
	h := newTestHandler(t, paidStub(), 1, 1)
	router := h.Router()

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
}

func TestDashboardStreamsStats(t *testing.T) {
	h := newTestHandler(t, paidStub(), 100, 100)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/dashboard"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var stats analytics.Stats
	require.NoError(t, conn.ReadJSON(&stats))
	assert.Zero(t, stats.TotalPayments)
}

func TestMetricsEndpointExposed(t *testing.T) {
	h := newTestHandler(t, paidStub(), 100, 100)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
