package controllers

import (
	"net/http"

	"github.com/rzbill/roomledger/internal/runtime"
	"github.com/rzbill/roomledger/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general      *GeneralController
	availability *AvailabilityController
	bookings     *BookingsController
}

// NewControllerRegistry creates a new controller registry backed by rt.
func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general:      NewGeneralController(rt),
		availability: NewAvailabilityController(rt.Query(), logger),
		bookings:     NewBookingsController(rt.Bookings(), rt.Metrics(), logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This covers the operational endpoints under /v1 and the booking and
// availability API under /api.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.availability.RegisterRoutes(mux)
	r.bookings.RegisterRoutes(mux)
}
