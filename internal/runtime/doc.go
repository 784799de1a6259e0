// Package runtime wires storage, config and services into a single-node
// roomledger instance. It exposes Open/Close, health checks and the
// constructed services; nothing is looked up globally.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Storage.DataDir = "./data"
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	b, _ := rt.Bookings().Create(ctx, "deluxe-101", start, end)
package runtime
