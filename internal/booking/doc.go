// Package booking defines the booking event wire format and the producer side
// that persists bookings and publishes their "created" events.
package booking
