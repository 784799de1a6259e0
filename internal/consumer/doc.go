// Package consumer runs the consumer-group poll loop that feeds booking
// events to the reconciliation engine. Each delivery ends in an explicit
// Decision: acknowledge, leave pending for redelivery, or move to the group's
// dead-letter log.
package consumer
