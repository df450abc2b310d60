// Package payer is the client side of the payment gate: it signs USDC
// transfers and walks the challenge loop (request, read the 402, settle,
// resubmit with the proof header). cmd/testagent drives it end to end.
package payer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"qguard/internal/payment"
)

const erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Backend is the chain surface the client needs: contract calls, transaction
// submission, and receipt polling. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Payer settles a quoted USD amount on chain and returns the transaction
// hash to present as proof.
type Payer interface {
	Pay(ctx context.Context, amountUSD string, recipient common.Address) (common.Hash, error)
}

// Client signs ERC-20 transfers from a single wallet.
type Client struct {
	backend  Backend
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	decimals uint8
	log      *slog.Logger
}

// NewClient binds the asset contract and derives the sending address from
// privateKeyHex (with or without the 0x prefix).
func NewClient(backend Backend, privateKeyHex string, asset common.Address, decimals uint8, chainID *big.Int, log *slog.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Client{
		backend:  backend,
		contract: bind.NewBoundContract(asset, parsed, backend, backend, backend),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		decimals: decimals,
		log:      log,
	}, nil
}

// From is the wallet address transfers are sent from.
func (c *Client) From() common.Address {
	return c.from
}

// Balance reads the wallet's asset balance in smallest units.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", c.from); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("balanceOf returned no value")
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned unusable value")
	}
	return bal, nil
}

// Pay transfers amountUSD worth of the asset to recipient and waits for the
// transfer to mine. It fails before submitting when the wallet balance does
// not cover the amount.
func (c *Client) Pay(ctx context.Context, amountUSD string, recipient common.Address) (common.Hash, error) {
	cents, err := parseUSDCents(amountUSD)
	if err != nil {
		return common.Hash{}, err
	}
	units := centsToUnits(cents, c.decimals)

	balance, err := c.Balance(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if balance.Cmp(units) < 0 {
		return common.Hash{}, fmt.Errorf("insufficient balance: have %s units, need %s", balance, units)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, "transfer", recipient, units)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send transfer: %w", err)
	}
	c.log.Info("transfer submitted", "tx", tx.Hash().Hex(), "units", units.String(), "recipient", recipient.Hex())

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wait for transfer: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("transfer reverted: %s", tx.Hash().Hex())
	}
	return tx.Hash(), nil
}

// Fetch requests a paid endpoint, settles the 402 challenge it answers with,
// and resubmits the request carrying the proof header. It returns the data
// payload of the success envelope.
func Fetch(ctx context.Context, httpc *http.Client, baseURL, endpoint string, p Payer, log *slog.Logger) (json.RawMessage, error) {
	url := baseURL + endpoint

	challenge, err := fetchChallenge(ctx, httpc, url)
	if err != nil {
		return nil, err
	}
	log.Info("payment required",
		"amount_usd", challenge.Payment.Amount,
		"recipient", challenge.Payment.Recipient,
		"chain", challenge.Payment.Chain,
	)

	txHash, err := p.Pay(ctx, challenge.Payment.Amount, common.HexToAddress(challenge.Payment.Recipient))
	if err != nil {
		return nil, fmt.Errorf("settle challenge: %w", err)
	}
	log.Info("payment settled", "tx", txHash.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(payment.HeaderName, txHash.Hex())
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resubmit with proof: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proof not accepted: status %d: %s", resp.StatusCode, body)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("gateway reported failure: %s", body)
	}
	return envelope.Data, nil
}

func fetchChallenge(ctx context.Context, httpc *http.Client, url string) (payment.Instructions, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return payment.Instructions{}, err
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return payment.Instructions{}, fmt.Errorf("initial request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		return payment.Instructions{}, fmt.Errorf("expected 402 Payment Required, got %d", resp.StatusCode)
	}

	var envelope struct {
		Error               string               `json:"error"`
		PaymentInstructions payment.Instructions `json:"payment_instructions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return payment.Instructions{}, fmt.Errorf("decode challenge: %w", err)
	}
	if envelope.PaymentInstructions.Payment.Recipient == "" || envelope.PaymentInstructions.Payment.Amount == "" {
		return payment.Instructions{}, fmt.Errorf("challenge missing payment details: %s", envelope.Error)
	}
	return envelope.PaymentInstructions, nil
}

// parseUSDCents converts a USD amount string ("0.01", "$1.50") to integer
// cents, rejecting fractional cents.
func parseUSDCents(amount string) (int64, error) {
	cleaned := strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(amount), "$"), ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("invalid usd amount %q: %w", amount, err)
	}
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() || cents.IsNegative() {
		return 0, fmt.Errorf("usd amount %q is not a whole, non-negative number of cents", amount)
	}
	return cents.IntPart(), nil
}

func centsToUnits(cents int64, decimals uint8) *big.Int {
	if decimals < 2 {
		divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(2-decimals)), nil)
		return new(big.Int).Div(big.NewInt(cents), divisor)
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)-2), nil)
	return new(big.Int).Mul(big.NewInt(cents), factor)
}
