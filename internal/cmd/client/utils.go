package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// APIURLFromEnv returns the HTTP API base from ROOMLEDGER_HTTP or a default.
func APIURLFromEnv() string {
	if v := os.Getenv("ROOMLEDGER_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// grpcAddrFromEnv returns the gRPC server address from ROOMLEDGER_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("ROOMLEDGER_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

// dialGRPC creates a client for the RoomLedger gRPC endpoint with insecure
// transport for local/dev.
func dialGRPC() (*grpc.ClientConn, error) {
	return grpc.NewClient(grpcAddrFromEnv(), grpc.WithTransportCredentials(insecure.NewCredentials()))
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

type apiError struct {
	Error string `json:"error"`
}

// doJSON sends body (if non-nil) as JSON and decodes a 2xx response into out.
// Non-2xx responses are turned into errors carrying the server's message.
func doJSON(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		var e apiError
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("http %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("http error: %s", resp.Status)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
