// Package serverrun exposes the Run entrypoint used by the CLI to start the
// RoomLedger runtime: the availability consumer, the retention sweeper and
// the gRPC and HTTP servers, with lifecycle and graceful shutdown.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Storage.DataDir = "./data"
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
