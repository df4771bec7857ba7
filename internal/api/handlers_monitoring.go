package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-monitor/internal/models"
	"github.com/portfolio-monitor/internal/types"
)

// addWalletRequest is the request body for registering a wallet for
// monitoring. Durations are accepted in seconds.
type addWalletRequest struct {
	WalletAddress        string             `json:"walletAddress"`
	Enabled              *bool              `json:"enabled,omitempty"`
	CheckIntervalSeconds int64              `json:"checkIntervalSeconds"`
	DriftThreshold       float64            `json:"driftThresholdPercent"`
	MaxDailyTrades       int                `json:"maxDailyTrades"`
	RiskProfile          string             `json:"riskProfile"`
	AutoExecute          bool               `json:"autoExecute"`
	SlippageTolerance    float64            `json:"slippageTolerance"`
	MinPortfolioValueUSD float64            `json:"minPortfolioValueUsd"`
	TargetAllocation     map[string]float64 `json:"targetAllocation,omitempty"`
}

// handleAddWallet handles POST /api/monitoring/wallets
func (s *Server) handleAddWallet(w http.ResponseWriter, r *http.Request) {
	var req addWalletRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	profile, err := types.ParseRiskProfile(req.RiskProfile)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	cfg := &models.MonitoringConfig{
		WalletAddress:         req.WalletAddress,
		Enabled:               enabled,
		CheckInterval:         time.Duration(req.CheckIntervalSeconds) * time.Second,
		DriftThresholdPercent: req.DriftThreshold,
		MaxDailyTrades:        req.MaxDailyTrades,
		RiskProfile:           profile,
		AutoExecute:           req.AutoExecute,
		SlippageTolerance:     req.SlippageTolerance,
		MinPortfolioValueUSD:  req.MinPortfolioValueUSD,
		CreatedAt:             time.Now().UTC(),
	}

	if err := s.monitor.AddWallet(r.Context(), cfg); err != nil {
		respondServiceError(w, err)
		return
	}

	// An inline target allocation becomes the wallet's strategy.
	if len(req.TargetAllocation) > 0 {
		strategy := &models.Strategy{
			WalletAddress:    req.WalletAddress,
			Name:             "monitoring target",
			TargetAllocation: req.TargetAllocation,
			CreatedAt:        time.Now().UTC(),
		}
		if err := s.strategies.Save(r.Context(), strategy); err != nil {
			respondServiceError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusCreated, cfg)
}

// handleWalletStatus handles GET /api/monitoring/wallets/{address}
func (s *Server) handleWalletStatus(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	status, err := s.monitor.GetStatus(r.Context(), address)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// handleRemoveWallet handles DELETE /api/monitoring/wallets/{address}
func (s *Server) handleRemoveWallet(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	if err := s.monitor.RemoveWallet(r.Context(), address); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"walletAddress": address,
		"status":        "removed",
	})
}

// handleForceCheck handles POST /api/monitoring/wallets/{address}/check
func (s *Server) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	result, err := s.monitor.ForceCheck(r.Context(), address)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleServiceStatus handles GET /api/monitoring/status
func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.monitor.GetServiceStatus(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleStart handles POST /api/monitoring/start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Start(r.Context()); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// handleStop handles POST /api/monitoring/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.monitor.Stop()
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleRecentActions handles GET /api/monitoring/actions
func (s *Server) handleRecentActions(w http.ResponseWriter, r *http.Request) {
	records, err := s.actionLogs.Recent(r.Context(), parseLimit(r, 50))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"actions": records,
		"count":   len(records),
	})
}

// handleDriftHistory handles GET /api/monitoring/wallets/{address}/drift-history
func (s *Server) handleDriftHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	events, err := s.driftHistory.RecentByWallet(r.Context(), address, parseLimit(r, 100))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"walletAddress": address,
		"events":        events,
		"count":         len(events),
	})
}

// parseLimit reads a bounded ?limit= query parameter.
func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
