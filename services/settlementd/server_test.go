package settlementd

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web5lab/payout-ai/core/types"
	"github.com/web5lab/payout-ai/crypto"
	"github.com/web5lab/payout-ai/native/invest"
	"github.com/web5lab/payout-ai/storage"
)

var (
	adminAddr    = [20]byte{0x01}
	ownerAddr    = [20]byte{0x02}
	investorAddr = [20]byte{0x03}
	vaultAddr    = [20]byte{0x04}
	treasuryAddr = [20]byte{0x05}
	poolAddr     = [20]byte{0x06}
	saleTreasury = [20]byte{0x07}
)

const testChainID = uint64(4217)

func hexAddr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

type harness struct {
	node   *Node
	server *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	node, err := NewNode(NodeParams{
		DB:             storage.NewMemDB(),
		ChainID:        testChainID,
		Admin:          adminAddr,
		Vault:          vaultAddr,
		Treasury:       treasuryAddr,
		Pool:           poolAddr,
		SaleTreasury:   saleTreasury,
		PrincipalAsset: "PAI",
		PayoutRateBps:  500,
		PenaltyBps:     2_000,
		PayoutPeriod:   30 * 24 * 3600,
		MaturityDelay:  365 * 24 * 3600,
	})
	require.NoError(t, err)

	srv := NewServer(node, nil, NewRateLimiter(1_000, 1_000), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{node: node, server: ts}
}

func (h *harness) post(t *testing.T, path string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (h *harness) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

// fund credits an account balance directly in state.
func (h *harness) fund(t *testing.T, addr [20]byte, asset string, amount *big.Int) {
	t.Helper()
	account, err := h.node.State.GetAccount(addr[:])
	require.NoError(t, err)
	if account == nil {
		account = types.NewAccount()
	}
	account.SetBalance(asset, amount)
	require.NoError(t, h.node.State.PutAccount(addr[:], account))
}

func (h *harness) createOffering(t *testing.T, payoutEnabled bool) string {
	t.Helper()
	now := time.Now().Unix()
	resp, body := h.post(t, "/v1/offerings", map[string]interface{}{
		"owner":          hexAddr(ownerAddr),
		"saleAsset":      "PAI",
		"minInvestment":  "100",
		"softCap":        "5000",
		"fundraisingCap": "10000",
		"pricePerToken":  "0.5",
		"startTime":      now - 10,
		"endTime":        now + 3600,
		"payoutEnabled":  payoutEnabled,
		"paymentAssets":  map[string]uint8{"USDC": 6},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", body)
	id, ok := body["id"].(string)
	require.True(t, ok)
	return id
}

func (h *harness) signCredential(t *testing.T, key *crypto.PrivateKey, investor [20]byte, nonce uint64, expiry int64) string {
	t.Helper()
	digest := invest.Credential{
		Domain:   invest.CredentialDomain,
		ChainID:  testChainID,
		Manager:  h.node.InvestModule(),
		Investor: investor,
		Nonce:    nonce,
		Expiry:   expiry,
	}.Hash()
	sig, err := key.Sign(digest[:])
	require.NoError(t, err)
	return hex.EncodeToString(sig)
}

func (h *harness) addValidator(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	resp, body := h.post(t, "/v1/validators", map[string]interface{}{
		"caller":    hexAddr(adminAddr),
		"validator": hexAddr(key.PubKey().Address().Array()),
		"action":    "add",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	return key
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvestmentFlowOverHTTP(t *testing.T) {
	h := newHarness(t)
	id := h.createOffering(t, false)
	key := h.addValidator(t)

	// Publish a $1.00 USDC quote.
	resp, body := h.post(t, "/v1/oracle/quotes", map[string]string{"caller": hexAddr(adminAddr), "asset": "USDC", "price": "1.00"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)

	// 1000 USDC in 6-decimal base units.
	amount := new(big.Int).Mul(big.NewInt(1_000), big.NewInt(1_000_000))
	h.fund(t, investorAddr, "USDC", amount)

	expiry := time.Now().Unix() + 3600
	sig := h.signCredential(t, key, investorAddr, 1, expiry)
	resp, body = h.post(t, "/v1/invest", map[string]interface{}{
		"offeringId":   id,
		"paymentAsset": "USDC",
		"investor":     hexAddr(investorAddr),
		"amount":       amount.String(),
		"nonce":        1,
		"expiry":       expiry,
		"signature":    sig,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)

	// Replaying the same credential is rejected with 409.
	resp, _ = h.post(t, "/v1/invest", map[string]interface{}{
		"offeringId":   id,
		"paymentAsset": "USDC",
		"investor":     hexAddr(investorAddr),
		"amount":       amount.String(),
		"nonce":        1,
		"expiry":       expiry,
		"signature":    sig,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, status := h.get(t, "/v1/offerings/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wantRaised := new(big.Int).Mul(big.NewInt(1_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	require.Equal(t, wantRaised.String(), status["raised"])
	require.Equal(t, true, status["active"])

	// The deposit moved into the vault.
	vault, err := h.node.State.GetAccount(vaultAddr[:])
	require.NoError(t, err)
	require.Zero(t, vault.Balance("USDC").Cmp(amount))
}

func TestCancelAndRefundOverHTTP(t *testing.T) {
	h := newHarness(t)
	id := h.createOffering(t, false)
	key := h.addValidator(t)
	h.post(t, "/v1/oracle/quotes", map[string]string{"caller": hexAddr(adminAddr), "asset": "USDC", "price": "1.00"})

	amount := new(big.Int).Mul(big.NewInt(500), big.NewInt(1_000_000))
	h.fund(t, investorAddr, "USDC", amount)
	expiry := time.Now().Unix() + 3600
	resp, body := h.post(t, "/v1/invest", map[string]interface{}{
		"offeringId":   id,
		"paymentAsset": "USDC",
		"investor":     hexAddr(investorAddr),
		"amount":       amount.String(),
		"nonce":        2,
		"expiry":       expiry,
		"signature":    h.signCredential(t, key, investorAddr, 2, expiry),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)

	// Refund before cancellation is rejected.
	resp, _ = h.post(t, "/v1/refunds", map[string]string{
		"offeringId": id,
		"investor":   hexAddr(investorAddr),
		"asset":      "USDC",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Only the owner cancels.
	resp, _ = h.post(t, "/v1/offerings/"+id+"/cancel", map[string]string{"caller": hexAddr(investorAddr)})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = h.post(t, "/v1/offerings/"+id+"/cancel", map[string]string{"caller": hexAddr(ownerAddr)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.post(t, "/v1/refunds", map[string]string{
		"offeringId": id,
		"investor":   hexAddr(investorAddr),
		"asset":      "USDC",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	investor, err := h.node.State.GetAccount(investorAddr[:])
	require.NoError(t, err)
	require.Zero(t, investor.Balance("USDC").Cmp(amount))
}

func TestInvestRejectsForgedCredential(t *testing.T) {
	h := newHarness(t)
	id := h.createOffering(t, false)
	h.addValidator(t)
	h.post(t, "/v1/oracle/quotes", map[string]string{"caller": hexAddr(adminAddr), "asset": "USDC", "price": "1.00"})

	stranger, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	amount := new(big.Int).Mul(big.NewInt(500), big.NewInt(1_000_000))
	h.fund(t, investorAddr, "USDC", amount)
	expiry := time.Now().Unix() + 3600
	resp, _ := h.post(t, "/v1/invest", map[string]interface{}{
		"offeringId":   id,
		"paymentAsset": "USDC",
		"investor":     hexAddr(investorAddr),
		"amount":       amount.String(),
		"nonce":        3,
		"expiry":       expiry,
		"signature":    h.signCredential(t, stranger, investorAddr, 3, expiry),
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRateLimiterRejectsBursts(t *testing.T) {
	h := newHarness(t)
	srv := NewServer(h.node, nil, NewRateLimiter(1, 1), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestOracleQuoteRequiresAdmin(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.post(t, "/v1/oracle/quotes", map[string]string{
		"caller": hexAddr(investorAddr),
		"asset":  "USDC",
		"price":  "99.00",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The rejected quote never reached the oracle.
	_, err := h.node.Oracle.Price("USDC")
	require.Error(t, err)

	resp, _ = h.post(t, "/v1/oracle/quotes", map[string]string{
		"caller": hexAddr(adminAddr),
		"asset":  "USDC",
		"price":  "1.00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownOfferingReturns404(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.get(t, "/v1/offerings/"+fmt.Sprintf("%064x", 0xFF))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
