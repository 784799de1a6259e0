// Package stream implements the booking event stream: a partitioned
// append-log with consumer groups.
//
// Every group keeps a durable cursor per partition (the last delivered
// sequence) and a pending entries list (PEL) of delivered but unacknowledged
// entries. Poll hands out idle pending entries again once they have been
// unacknowledged for ClaimIdle, which gives at-least-once delivery: a consumer
// that crashes or declines to acknowledge will see the entry again.
//
// Keys:
//   - stream/{name}/group/{group}                      group metadata (JSON)
//   - stream/{name}/pel/{group}/{part_be4}{seq_be8}    pending record (JSON)
//   - log/... and cursor/...                           see package eventlog
//
// Message IDs have the form "<partition>-<seq>" and increase within a partition.
package stream
