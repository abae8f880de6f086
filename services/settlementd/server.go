package settlementd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web5lab/payout-ai/config"
	"github.com/web5lab/payout-ai/explorer"
	"github.com/web5lab/payout-ai/native/common"
	"github.com/web5lab/payout-ai/native/escrow"
	"github.com/web5lab/payout-ai/native/invest"
	"github.com/web5lab/payout-ai/native/offering"
	"github.com/web5lab/payout-ai/native/payout"
	"github.com/web5lab/payout-ai/observability"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Server is the HTTP front-end over the settlement engines.
type Server struct {
	node    *Node
	indexer *explorer.Indexer
	limiter *RateLimiter
	log     *slog.Logger
	nowFn   func() time.Time
}

// NewServer builds the HTTP surface. The indexer is optional; explorer
// routes return 404 without it.
func NewServer(node *Node, indexer *explorer.Indexer, limiter *RateLimiter, log *slog.Logger) *Server {
	if node == nil {
		panic("settlementd: node required")
	}
	if limiter == nil {
		limiter = NewRateLimiter(50, 100)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		node:    node,
		indexer: indexer,
		limiter: limiter,
		log:     log,
		nowFn:   time.Now,
	}
}

// Handler assembles the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Method(http.MethodPost, "/offerings", metricsMiddleware("offerings_create", http.HandlerFunc(s.handleCreateOffering)))
		v1.Method(http.MethodGet, "/offerings/{id}", metricsMiddleware("offerings_status", http.HandlerFunc(s.handleOfferingStatus)))
		v1.Method(http.MethodPost, "/offerings/{id}/finalize", metricsMiddleware("offerings_finalize", http.HandlerFunc(s.handleFinalize)))
		v1.Method(http.MethodPost, "/offerings/{id}/cancel", metricsMiddleware("offerings_cancel", http.HandlerFunc(s.handleCancel)))
		v1.Method(http.MethodPost, "/offerings/{id}/claim", metricsMiddleware("offerings_claim", http.HandlerFunc(s.handleClaimTokens)))
		v1.Method(http.MethodPost, "/invest", metricsMiddleware("invest", http.HandlerFunc(s.handleInvest)))
		v1.Method(http.MethodPost, "/refunds", metricsMiddleware("refunds", http.HandlerFunc(s.handleClaimRefund)))
		v1.Method(http.MethodPost, "/validators", metricsMiddleware("validators", http.HandlerFunc(s.handleValidators)))
		v1.Method(http.MethodPost, "/payouts/claim", metricsMiddleware("payouts_claim", http.HandlerFunc(s.handlePayoutClaim)))
		v1.Method(http.MethodPost, "/payouts/final", metricsMiddleware("payouts_final", http.HandlerFunc(s.handlePayoutFinal)))
		v1.Method(http.MethodPost, "/payouts/unlock", metricsMiddleware("payouts_unlock", http.HandlerFunc(s.handlePayoutUnlock)))
		v1.Method(http.MethodGet, "/payouts/{id}/{investor}", metricsMiddleware("payouts_position", http.HandlerFunc(s.handlePayoutPosition)))
		v1.Method(http.MethodPost, "/oracle/quotes", metricsMiddleware("oracle_quotes", http.HandlerFunc(s.handleOracleQuote)))
		v1.Get("/explorer/investments", s.handleExplorerInvestments)
		v1.Get("/explorer/payouts", s.handleExplorerPayouts)
		v1.Get("/explorer/refunds", s.handleExplorerRefunds)
	})
	return r
}

// --- helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeEngineError maps engine sentinels onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, offering.ErrNotFound), errors.Is(err, payout.ErrNoPosition):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, offering.ErrUnauthorizedRouter),
		errors.Is(err, payout.ErrUnauthorizedRegistrar),
		errors.Is(err, invest.ErrUnknownSigner),
		errors.Is(err, invest.ErrUnauthorizedOffering):
		status = http.StatusForbidden
	case errors.Is(err, invest.ErrCredentialUsed):
		status = http.StatusConflict
	case errors.Is(err, common.ErrReentrantCall):
		status = http.StatusLocked
	}
	s.writeError(w, status, err)
}

func parseOfferingID(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid offering id: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("offering id must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

// --- offerings ---

type createOfferingRequest struct {
	Owner          string           `json:"owner"`
	SaleAsset      string           `json:"saleAsset"`
	MinInvestment  string           `json:"minInvestment"`
	MaxInvestment  string           `json:"maxInvestment"`
	SoftCap        string           `json:"softCap"`
	FundraisingCap string           `json:"fundraisingCap"`
	PricePerToken  string           `json:"pricePerToken"`
	StartTime      int64            `json:"startTime"`
	EndTime        int64            `json:"endTime"`
	PayoutEnabled  bool             `json:"payoutEnabled"`
	PaymentAssets  map[string]uint8 `json:"paymentAssets"`
}

func (s *Server) handleCreateOffering(w http.ResponseWriter, r *http.Request) {
	var req createOfferingRequest
	if !s.decode(w, r, &req) {
		return
	}
	def, err := seedToOffering(config.OfferingSeed{
		Owner:          req.Owner,
		SaleAsset:      req.SaleAsset,
		MinInvestment:  req.MinInvestment,
		MaxInvestment:  req.MaxInvestment,
		SoftCap:        req.SoftCap,
		FundraisingCap: req.FundraisingCap,
		PricePerToken:  req.PricePerToken,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		PayoutEnabled:  req.PayoutEnabled,
		PaymentAssets:  req.PaymentAssets,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	start := time.Now()
	created, err := s.node.CreateOffering(def)
	observability.Settlement().Observe("offering", "create", err, time.Since(start))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":        hex.EncodeToString(created.ID[:]),
		"saleAsset": created.SaleAsset,
		"endTime":   created.EndTime,
	})
}

func (s *Server) handleOfferingStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseOfferingID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	snapshot, err := s.node.Offerings.Status(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             hex.EncodeToString(snapshot.ID[:]),
		"active":         snapshot.Active,
		"closed":         snapshot.Closed,
		"finalized":      snapshot.Finalized,
		"cancelled":      snapshot.Cancelled,
		"softCapReached": snapshot.SoftCapReached,
		"raised":         snapshot.Raised.String(),
		"cap":            snapshot.Cap.String(),
		"endTime":        snapshot.EndTime,
	})
}

type lifecycleRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op string, apply func(caller [20]byte, id [32]byte) error) {
	id, err := parseOfferingID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req lifecycleRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	start := time.Now()
	err = apply(caller, id)
	observability.Settlement().Observe("offering", op, err, time.Since(start))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "finalize", s.node.Offerings.Finalize)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "cancel", s.node.Offerings.Cancel)
}

type claimTokensRequest struct {
	Investor string `json:"investor"`
}

func (s *Server) handleClaimTokens(w http.ResponseWriter, r *http.Request) {
	id, err := parseOfferingID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req claimTokensRequest
	if !s.decode(w, r, &req) {
		return
	}
	investor, err := config.ParseAddress(req.Investor)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	start := time.Now()
	err = s.node.Offerings.ClaimTokens(id, investor)
	observability.Settlement().Observe("offering", "claim_tokens", err, time.Since(start))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- invest ---

type investRequest struct {
	OfferingID   string `json:"offeringId"`
	PaymentAsset string `json:"paymentAsset"`
	Investor     string `json:"investor"`
	Amount       string `json:"amount"`
	Nonce        uint64 `json:"nonce"`
	Expiry       int64  `json:"expiry"`
	Signature    string `json:"signature"`
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	var req investRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := parseOfferingID(req.OfferingID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	investor, err := config.ParseAddress(req.Investor)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Signature), "0x"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid signature encoding: %w", err))
		return
	}
	start := time.Now()
	err = s.node.Manager.RouteInvestmentWithCredential(id, req.PaymentAsset, investor, amount, req.Nonce, req.Expiry, sig)
	observability.Settlement().Observe("invest", "route", err, time.Since(start))
	observability.Settlement().ObserveCredential(err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- refunds ---

type refundRequest struct {
	OfferingID string `json:"offeringId"`
	Investor   string `json:"investor"`
	Asset      string `json:"asset"`
}

func (s *Server) handleClaimRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := parseOfferingID(req.OfferingID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	investor, err := config.ParseAddress(req.Investor)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	start := time.Now()
	err = s.node.Manager.ClaimRefund(id, investor, req.Asset)
	observability.Settlement().Observe("invest", "refund", err, time.Since(start))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- validators ---

type validatorRequest struct {
	Caller    string `json:"caller"`
	Validator string `json:"validator"`
	Action    string `json:"action"`
}

func (s *Server) handleValidators(w http.ResponseWriter, r *http.Request) {
	var req validatorRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	validator, err := config.ParseAddress(req.Validator)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "add":
		err = s.node.Manager.AddKYBValidator(caller, validator)
	case "remove":
		err = s.node.Manager.RemoveKYBValidator(caller, validator)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("action must be add or remove"))
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- payouts ---

type payoutRequest struct {
	OfferingID string `json:"offeringId"`
	Investor   string `json:"investor"`
}

func (s *Server) payoutOp(w http.ResponseWriter, r *http.Request, op string, apply func(id [32]byte, investor [20]byte) error) {
	var req payoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := parseOfferingID(req.OfferingID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	investor, err := config.ParseAddress(req.Investor)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	start := time.Now()
	err = apply(id, investor)
	observability.Settlement().Observe("payout", op, err, time.Since(start))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePayoutClaim(w http.ResponseWriter, r *http.Request) {
	s.payoutOp(w, r, "claim", s.node.Payouts.ClaimPayout)
}

func (s *Server) handlePayoutFinal(w http.ResponseWriter, r *http.Request) {
	s.payoutOp(w, r, "final", s.node.Payouts.ClaimFinalTokens)
}

func (s *Server) handlePayoutUnlock(w http.ResponseWriter, r *http.Request) {
	s.payoutOp(w, r, "unlock", s.node.Payouts.EmergencyUnlock)
}

func (s *Server) handlePayoutPosition(w http.ResponseWriter, r *http.Request) {
	id, err := parseOfferingID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	investor, err := config.ParseAddress(chi.URLParam(r, "investor"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	pos, err := s.node.Payouts.PositionOf(id, investor)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if pos == nil {
		s.writeError(w, http.StatusNotFound, payout.ErrNoPosition)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"offeringId":     hex.EncodeToString(pos.OfferingID[:]),
		"investor":       hex.EncodeToString(pos.Investor[:]),
		"principal":      pos.Principal.String(),
		"asset":          pos.Asset,
		"frequency":      pos.PayoutFrequency,
		"lastPayoutTime": pos.LastPayoutTime,
		"totalClaimed":   pos.TotalPayoutsClaimed.String(),
		"perPeriod":      pos.PayoutAmountPerPeriod.String(),
		"claimedFinal":   pos.ClaimedFinal,
	})
}

// --- oracle ---

type oracleQuoteRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Price  string `json:"price"`
}

// handleOracleQuote publishes a manual price override. Quotes value every
// investment, so only administrators may post them.
func (s *Server) handleOracleQuote(w http.ResponseWriter, r *http.Request) {
	var req oracleQuoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.Authority.Require(common.RoleAdmin, caller); err != nil {
		s.writeEngineError(w, err)
		return
	}
	symbol, err := escrow.NormalizeAsset(req.Asset)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.Oracle.SetDecimal(symbol, req.Price, s.nowFn()); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	quote, err := s.node.Oracle.Price(symbol)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":      symbol,
		"price":      quote.Price.String(),
		"observedAt": quote.ObservedAt.Unix(),
	})
}

// --- explorer ---

func (s *Server) handleExplorerInvestments(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		http.NotFound(w, r)
		return
	}
	records, err := s.indexer.Investments(100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleExplorerPayouts(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		http.NotFound(w, r)
		return
	}
	records, err := s.indexer.Payouts(100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleExplorerRefunds(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		http.NotFound(w, r)
		return
	}
	records, err := s.indexer.Refunds(100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}
