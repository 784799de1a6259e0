// Package reconcile applies booking events to the availability ledger.
//
// Each message is checked against the dedup ledger, filtered to "created"
// events, expanded to one increment per calendar day, and written with a
// bounded optimistic-concurrency retry. The dedup record is committed only
// after every day succeeds. Each day write also stores an applied mark for the
// message so a redelivery after a partial failure skips days already counted.
package reconcile
