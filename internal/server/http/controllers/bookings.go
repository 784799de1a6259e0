package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/rzbill/roomledger/internal/booking"
	"github.com/rzbill/roomledger/internal/validate"
	"github.com/rzbill/roomledger/pkg/log"
)

// bookingCounter is notified of accepted bookings.
type bookingCounter interface {
	IncBookingCreated()
}

// BookingsController serves the booking API.
type BookingsController struct {
	svc     *booking.Service
	counter bookingCounter
	logger  log.Logger
}

func NewBookingsController(svc *booking.Service, counter bookingCounter, logger log.Logger) *BookingsController {
	return &BookingsController{svc: svc, counter: counter, logger: logger}
}

func (c *BookingsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/bookings", c.handleCreate)
	mux.HandleFunc("GET /api/bookings/room/{roomId}", c.handleListByRoom)
}

// handleCreate accepts roomId, startDate and endDate from the query string or,
// when absent there, from a JSON body. Returns 201 with the stored booking.
func (c *BookingsController) handleCreate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := bookingRequest{RoomID: q.Get("roomId"), StartDate: q.Get("startDate"), EndDate: q.Get("endDate")}
	if req.RoomID == "" && req.StartDate == "" && req.EndDate == "" && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	start, end, err := validate.DateRange(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := c.svc.Create(r.Context(), req.RoomID, start, end)
	if err != nil {
		if validate.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.logger.Error("http.booking_failed", log.Str("roomId", req.RoomID), log.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to create booking")
		return
	}
	if c.counter != nil {
		c.counter.IncBookingCreated()
	}
	writeCreated(w, b)
}

// handleListByRoom returns the bookings of one room as a JSON array.
func (c *BookingsController) handleListByRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	list, err := c.svc.ListByRoom(r.Context(), roomID)
	if err != nil {
		if validate.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.logger.Error("http.booking_list_failed", log.Str("roomId", roomID), log.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to list bookings")
		return
	}
	writeJSON(w, list)
}
