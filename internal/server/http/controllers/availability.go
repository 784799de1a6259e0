package controllers

import (
	"net/http"

	"github.com/rzbill/roomledger/internal/query"
	"github.com/rzbill/roomledger/internal/validate"
	"github.com/rzbill/roomledger/pkg/log"
)

// AvailabilityController serves the read API.
type AvailabilityController struct {
	svc    *query.Service
	logger log.Logger
}

func NewAvailabilityController(svc *query.Service, logger log.Logger) *AvailabilityController {
	return &AvailabilityController{svc: svc, logger: logger}
}

func (c *AvailabilityController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/availability/{roomId}", c.handleList)
}

// handleList returns the per-day rows for a room:
// GET /api/availability/{roomId}?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD
func (c *AvailabilityController) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := c.svc.ListAvailabilityStrings(r.Context(), r.PathValue("roomId"), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		if validate.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.logger.Error("http.availability_failed", log.Str("roomId", r.PathValue("roomId")), log.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to read availability")
		return
	}
	writeJSON(w, rows)
}
