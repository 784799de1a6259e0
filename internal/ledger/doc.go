// Package ledger holds the two stores the reconciliation engine writes to:
// the availability ledger of per-(room, date) counters guarded by a version
// token, and the dedup ledger of (consumer group, message ID) pairs.
//
// Two backends implement Store. PebbleStore shares the process's Pebble
// database; SQLiteStore uses modernc.org/sqlite. Both record an applied mark
// in the same atomic write as each day's row, and both expire dedup records
// and marks through Sweep.
package ledger
