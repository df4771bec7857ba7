package api

import (
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/models"
)

type saveStrategyRequest struct {
	WalletAddress    string             `json:"walletAddress"`
	Name             string             `json:"name"`
	TargetAllocation map[string]float64 `json:"targetAllocation"`
}

// handleSaveStrategy handles POST /api/strategies
func (s *Server) handleSaveStrategy(w http.ResponseWriter, r *http.Request) {
	var req saveStrategyRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.WalletAddress == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "walletAddress is required", nil)
		return
	}
	if err := validateAllocation(req.TargetAllocation); err != nil {
		respondServiceError(w, err)
		return
	}

	strategy := &models.Strategy{
		WalletAddress:    req.WalletAddress,
		Name:             req.Name,
		TargetAllocation: req.TargetAllocation,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.strategies.Save(r.Context(), strategy); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, strategy)
}

// handleLatestStrategy handles GET /api/strategies/{address}
func (s *Server) handleLatestStrategy(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	strategy, err := s.strategies.LatestByWallet(r.Context(), address)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if strategy == nil {
		respondServiceError(w, apperrors.NewNotFoundError("strategy", address))
		return
	}

	respondJSON(w, http.StatusOK, strategy)
}

// validateAllocation checks that allocation percentages are positive
// and sum to 100 within a half-point tolerance.
func validateAllocation(allocation map[string]float64) error {
	if len(allocation) == 0 {
		return apperrors.NewInvalidParameterError("targetAllocation", "must not be empty")
	}

	sum := 0.0
	for symbol, pct := range allocation {
		if pct < 0 {
			return apperrors.NewInvalidParameterError("targetAllocation",
				"allocation for "+symbol+" is negative")
		}
		sum += pct
	}
	if math.Abs(sum-100) > 0.5 {
		return apperrors.NewInvalidParameterError("targetAllocation", "percentages must sum to 100")
	}
	return nil
}
