// server.go - HTTP ingest and health surface for the ledger daemon.
//
// The daemon accepts raw transactions over HTTP, runs them through the
// validation/apply pipeline, and reports structured rejection reasons.
// Query surfaces beyond health and the state root live in external
// collaborators.
package main

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ledgercore/internal/checked"
	"ledgercore/internal/hasher"
	"ledgercore/internal/ledger"
	"ledgercore/internal/proof"
	"ledgercore/internal/swap"
	"ledgercore/internal/tx"
	"ledgercore/internal/validate"
)

const version = "0.3.1"

// Server wires the core pipeline behind HTTP handlers.
type Server struct {
	cfg       *Config
	log       *zap.Logger
	metrics   *Metrics
	validator *validate.Validator
	applier   *ledger.Applier
	coord     *swap.Coordinator
	limiter   *ClientRateLimiter
	started   time.Time
}

// NewServer builds the HTTP surface over an already-wired pipeline.
func NewServer(cfg *Config, log *zap.Logger, m *Metrics, v *validate.Validator, a *ledger.Applier, c *swap.Coordinator) *Server {
	return &Server{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		validator: v,
		applier:   a,
		coord:     c,
		limiter:   NewClientRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSec),
		started:   time.Now(),
	}
}

// Handler returns the daemon's HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tx", s.handleTx)
	mux.HandleFunc("/swap/propose", s.handleSwapPropose)
	mux.HandleFunc("/swap/lock", s.handleSwapLock)
	mux.HandleFunc("/swap/redeem", s.handleSwapRedeem)
	mux.HandleFunc("/swap/refund", s.handleSwapRefund)
	mux.HandleFunc("/swap/status", s.handleSwapStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/root", s.handleRoot)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// txResponse is the structured verdict returned for a submitted
// transaction.
type txResponse struct {
	TxID   string `json:"txid,omitempty"`
	Root   string `json:"root,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	client, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		client = r.RemoteAddr
	}
	if !s.limiter.Allow(client) {
		s.metrics.RateLimited.Inc()
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	var t tx.Transaction
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeJSON(w, http.StatusBadRequest, txResponse{Reason: "malformed transaction"})
		return
	}

	verdict, err := s.validator.Validate(&t)
	if err != nil {
		s.metrics.TxRejected.WithLabelValues(reasonLabel(err)).Inc()
		writeJSON(w, http.StatusUnprocessableEntity, txResponse{Reason: err.Error()})
		return
	}
	s.metrics.TxAccepted.Inc()

	root, rejected, err := s.applier.ApplyBatch([]*validate.Accepted{verdict})
	if err != nil {
		// Persistence failure during batch apply: nothing committed.
		s.log.Error("batch apply failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, txResponse{Reason: "apply failed"})
		return
	}
	if len(rejected) > 0 {
		s.metrics.BatchRejected.Inc()
		s.metrics.TxRejected.WithLabelValues(reasonLabel(rejected[0].Err)).Inc()
		writeJSON(w, http.StatusConflict, txResponse{
			TxID:   verdict.TxID.String(),
			Reason: rejected[0].Err.Error(),
		})
		return
	}
	s.metrics.BatchesApplied.Inc()
	writeJSON(w, http.StatusOK, txResponse{TxID: verdict.TxID.String(), Root: root.String()})
}

// swapResponse is the structured state returned for a swap operation.
type swapResponse struct {
	SwapID string `json:"swap_id,omitempty"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type swapProposeRequest struct {
	LegA     *tx.Transaction `json:"leg_a"`
	LegB     *tx.Transaction `json:"leg_b"`
	HashLock hasher.Digest   `json:"hash_lock"`
	Expiry   uint64          `json:"expiry"`
}

type swapActionRequest struct {
	SwapID uuid.UUID `json:"swap_id"`
	Secret []byte    `json:"secret,omitempty"`
	Height uint64    `json:"height"`
}

func (s *Server) handleSwapPropose(w http.ResponseWriter, r *http.Request) {
	var req swapProposeRequest
	if !s.decodeSwapBody(w, r, &req) {
		return
	}
	sw, err := s.coord.Propose(req.LegA, req.LegB, req.HashLock, req.Expiry)
	s.writeSwap(w, sw, err)
}

func (s *Server) handleSwapLock(w http.ResponseWriter, r *http.Request) {
	var req swapActionRequest
	if !s.decodeSwapBody(w, r, &req) {
		return
	}
	sw, err := s.coord.Lock(req.SwapID, req.Height)
	s.writeSwap(w, sw, err)
}

func (s *Server) handleSwapRedeem(w http.ResponseWriter, r *http.Request) {
	var req swapActionRequest
	if !s.decodeSwapBody(w, r, &req) {
		return
	}
	sw, err := s.coord.Redeem(req.SwapID, req.Secret, req.Height)
	s.writeSwap(w, sw, err)
}

func (s *Server) handleSwapRefund(w http.ResponseWriter, r *http.Request) {
	var req swapActionRequest
	if !s.decodeSwapBody(w, r, &req) {
		return
	}
	sw, err := s.coord.Refund(req.SwapID, req.Height)
	s.writeSwap(w, sw, err)
}

func (s *Server) handleSwapStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, swapResponse{Reason: "malformed swap id"})
		return
	}
	sw, err := s.coord.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, swapResponse{Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, swapResponse{SwapID: sw.ID.String(), Status: string(sw.Status)})
}

func (s *Server) decodeSwapBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, swapResponse{Reason: "malformed request"})
		return false
	}
	return true
}

// writeSwap reports a swap transition outcome. Failed redemptions still
// carry the swap's (possibly advanced) status, so a caller learns about an
// expiry transition from the same response that rejects the redeem.
func (s *Server) writeSwap(w http.ResponseWriter, sw swap.Swap, err error) {
	resp := swapResponse{Status: string(sw.Status)}
	if sw.ID != uuid.Nil {
		resp.SwapID = sw.ID.String()
	}
	if err != nil {
		resp.Reason = err.Error()
		writeJSON(w, swapStatusCode(err), resp)
		return
	}
	s.metrics.SwapsByStatus.WithLabelValues(string(sw.Status)).Inc()
	writeJSON(w, http.StatusOK, resp)
}

func swapStatusCode(err error) int {
	switch {
	case errors.Is(err, swap.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, swap.ErrSecretMismatch):
		return http.StatusForbidden
	case errors.Is(err, swap.ErrSwapExpired), errors.Is(err, swap.ErrNotExpired),
		errors.Is(err, swap.ErrBadTransition), errors.Is(err, ledger.ErrDoubleSpend):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": version,
		"uptime":  time.Since(s.started).String(),
		"root":    s.applier.Root().String(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"root": s.applier.Root().String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// reasonLabel maps a rejection to a bounded metric label.
func reasonLabel(err error) string {
	switch {
	case errors.Is(err, validate.ErrConservationViolation):
		return "conservation_violation"
	case errors.Is(err, validate.ErrTooManyElements):
		return "too_many_elements"
	case errors.Is(err, validate.ErrFeeTooLow):
		return "fee_too_low"
	case errors.Is(err, validate.ErrDuplicateInput):
		return "duplicate_input"
	case errors.Is(err, ledger.ErrDoubleSpend):
		return "double_spend"
	case errors.Is(err, proof.ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, checked.ErrOverflow):
		return "arithmetic_overflow"
	case errors.Is(err, checked.ErrUnderflow):
		return "arithmetic_underflow"
	case errors.Is(err, checked.ErrPrecisionLoss):
		return "precision_loss"
	default:
		return "other"
	}
}
