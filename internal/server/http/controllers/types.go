package controllers

import "github.com/rzbill/roomledger/internal/consumer"

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// bookingRequest is the JSON body accepted by POST /api/bookings when the
// query string does not carry the fields.
type bookingRequest struct {
	RoomID    string `json:"roomId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type deadLettersResponse struct {
	Group       string                `json:"group"`
	Total       uint64                `json:"total"`
	DeadLetters []consumer.DeadLetter `json:"deadLetters"`
}

type pendingEntry struct {
	ID             string `json:"id"`
	Consumer       string `json:"consumer"`
	Deliveries     int    `json:"deliveries"`
	LastDeliveryMs int64  `json:"lastDeliveryMs"`
}

type pendingResponse struct {
	Group   string         `json:"group"`
	Pending []pendingEntry `json:"pending"`
}
