// Package client contains Cobra CLI commands that talk to a running
// RoomLedger server over HTTP and gRPC.
package client
