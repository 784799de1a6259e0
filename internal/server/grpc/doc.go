// Package grpcserver hosts the gRPC server for RoomLedger. It exposes the
// standard grpc.health.v1 service backed by the runtime's storage health
// check, plus server reflection for tooling such as grpcurl.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := grpcserver.New(rt)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
