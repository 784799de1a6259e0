// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// snapshots, batches, prefix scans and a metrics hook.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/store",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("avail/deluxe-101/2025-01-01"), row, nil)
//	_ = db.CommitBatch(ctx, b)
//	b.Close()
//
//	_ = db.ScanPrefix([]byte("dedup/availability/"), func(k, v []byte) error { return nil })
package pebblestore
