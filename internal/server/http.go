package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"CoreVault/internal/asset"
	"CoreVault/internal/observability"
	"CoreVault/internal/query"
	"CoreVault/internal/vault"
)

// HTTPServer serves the vault's JSON API: deposits, redemptions, and
// read-side queries, plus health and metrics endpoints.
type HTTPServer struct {
	engine  *vault.Engine
	queries *query.Service
	health  *observability.HealthChecker
	log     zerolog.Logger
	srv     *http.Server
}

func NewHTTPServer(addr string, engine *vault.Engine, queries *query.Service,
	health *observability.HealthChecker, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		engine:  engine,
		queries: queries,
		health:  health,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/deposits", s.handleDeposit)
	mux.HandleFunc("POST /v1/redemptions", s.handleRedeem)
	mux.HandleFunc("POST /v1/redemptions/emergency", s.handleEmergencyRedeem)
	mux.HandleFunc("POST /v1/preview-redeem", s.handlePreviewRedeem)
	mux.HandleFunc("GET /v1/users/{id}", s.handleGetUser)
	mux.HandleFunc("GET /v1/users/{id}/redemptions", s.handleGetRedemptions)
	mux.HandleFunc("GET /v1/epochs/{number}", s.handleGetEpoch)
	mux.HandleFunc("GET /v1/epochs", s.handleEpochHistory)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/integrity", s.handleIntegrity)

	if health != nil {
		mux.HandleFunc("/healthz", health.LivenessHandler)
		mux.HandleFunc("/readyz", health.ReadinessHandler)
	}
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the context is canceled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- write endpoints ---

type depositRequest struct {
	UserID          string `json:"user_id"`
	PrimaryAmount   string `json:"primary_amount"`
	SecondaryAsset  string `json:"secondary_asset"`
	SecondaryAmount string `json:"secondary_amount"`
}

type depositResponse struct {
	Minted string `json:"minted"`
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse user_id: %w", err))
		return
	}
	primary, err := parseAmount(req.PrimaryAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse primary_amount: %w", err))
		return
	}
	secondary, err := parseAmount(req.SecondaryAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse secondary_amount: %w", err))
		return
	}
	secondaryID, ok := asset.Lookup(req.SecondaryAsset)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown asset: %q", req.SecondaryAsset))
		return
	}

	minted, err := s.engine.Deposit(userID, primary, secondary, secondaryID)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, depositResponse{Minted: minted.String()})
}

type redeemRequest struct {
	UserID         string `json:"user_id"`
	Amount         string `json:"amount"`
	SecondaryAsset string `json:"secondary_asset"`
}

type redeemResponse struct {
	RequestID string `json:"request_id"`
}

func (s *HTTPServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	userID, amount, secondaryID, ok := s.decodeRedeem(w, r)
	if !ok {
		return
	}

	requestID, err := s.engine.Redeem(userID, amount, secondaryID)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, redeemResponse{RequestID: requestID.String()})
}

type emergencyRedeemResponse struct {
	PrimaryPaid   string `json:"primary_paid"`
	SecondaryPaid string `json:"secondary_paid"`
}

func (s *HTTPServer) handleEmergencyRedeem(w http.ResponseWriter, r *http.Request) {
	userID, amount, secondaryID, ok := s.decodeRedeem(w, r)
	if !ok {
		return
	}

	primaryPaid, secondaryPaid, err := s.engine.EmergencyRedeem(userID, amount, secondaryID)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, emergencyRedeemResponse{
		PrimaryPaid:   primaryPaid.String(),
		SecondaryPaid: secondaryPaid.String(),
	})
}

func (s *HTTPServer) handlePreviewRedeem(w http.ResponseWriter, r *http.Request) {
	userID, amount, secondaryID, ok := s.decodeRedeem(w, r)
	if !ok {
		return
	}

	preview, err := s.queries.PreviewRedeem(r.Context(), userID, amount, secondaryID)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

func (s *HTTPServer) decodeRedeem(w http.ResponseWriter, r *http.Request) (uuid.UUID, *big.Int, asset.ID, bool) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return uuid.Nil, nil, 0, false
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse user_id: %w", err))
		return uuid.Nil, nil, 0, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse amount: %w", err))
		return uuid.Nil, nil, 0, false
	}
	secondaryID, ok := asset.Lookup(req.SecondaryAsset)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown asset: %q", req.SecondaryAsset))
		return uuid.Nil, nil, 0, false
	}

	return userID, amount, secondaryID, true
}

// --- read endpoints ---

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse user id: %w", err))
		return
	}

	resp, err := s.queries.GetUser(r.Context(), userID)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetRedemptions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse user id: %w", err))
		return
	}

	resp, err := s.queries.GetRedemptions(r.Context(), userID, queryLimit(r))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetEpoch(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseUint(r.PathValue("number"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse epoch number: %w", err))
		return
	}

	resp, err := s.queries.GetEpoch(r.Context(), number)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleEpochHistory(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetEpochHistory(r.Context(), queryLimit(r))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetStatus(r.Context())
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// writeVaultError maps engine sentinel errors to HTTP status codes.
func writeVaultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrUnknownUser),
		errors.Is(err, vault.ErrUnknownEpoch):
		writeError(w, http.StatusNotFound, err)

	case errors.Is(err, vault.ErrNotOperator),
		errors.Is(err, vault.ErrNotOwner):
		writeError(w, http.StatusForbidden, err)

	case errors.Is(err, vault.ErrEpochNotFinished),
		errors.Is(err, vault.ErrAlreadyClosed),
		errors.Is(err, vault.ErrEpochNotClosed),
		errors.Is(err, vault.ErrYieldAlreadyNotified),
		errors.Is(err, vault.ErrYieldNotNotified),
		errors.Is(err, vault.ErrYieldAlreadyDistributed),
		errors.Is(err, vault.ErrNotDistributed):
		writeError(w, http.StatusConflict, err)

	case errors.Is(err, vault.ErrZeroAmount),
		errors.Is(err, vault.ErrBelowMinimum),
		errors.Is(err, vault.ErrAssetNotWhitelisted),
		errors.Is(err, vault.ErrInvalidAddress),
		errors.Is(err, vault.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, err)

	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
