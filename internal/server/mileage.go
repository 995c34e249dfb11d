package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/zombor/caretrack/internal/mileage"
)

type mileageRequest struct {
	mileage.Route
	// Optional per-mile rate used to price the trip
	RatePerMile *decimal.Decimal `json:"ratePerMile,omitempty"`
}

type mileageResponse struct {
	*mileage.Distance
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

func (s *Server) handleMileage(w http.ResponseWriter, r *http.Request) {
	if s.services.Mileage == nil {
		writeMessage(w, http.StatusServiceUnavailable, "Mileage lookup is not configured")
		return
	}

	var req mileageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	d, err := s.services.Mileage.Distance(r.Context(), req.Route)
	if err != nil {
		var me *mileage.Error
		status := http.StatusInternalServerError
		body := errorResponse{Error: "Could not calculate the distance"}
		if errors.As(err, &me) {
			body.Error, body.Details = me.Message, me.Details
		}
		if errors.Is(err, mileage.ErrMissingAddress) {
			status = http.StatusBadRequest
		}
		slog.Warn("Mileage lookup failed", "error", err)
		writeJSON(w, status, body)
		return
	}

	resp := mileageResponse{Distance: d}
	if req.RatePerMile != nil {
		amount := d.Amount(*req.RatePerMile)
		resp.Amount = &amount
	}
	writeJSON(w, http.StatusOK, resp)
}
