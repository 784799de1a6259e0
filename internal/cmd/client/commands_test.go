package client

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startAPI(t *testing.T, h http.HandlerFunc) BaseURLFunc {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return func() string { return srv.URL }
}

func TestBookingCreatePostsJSON(t *testing.T) {
	var got map[string]string
	base := startAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/bookings" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"bookingId":9,"roomId":"deluxe-101","startDate":"2025-01-01","endDate":"2025-01-03","createdAt":"2025-01-01T00:00:00Z"}`))
	})

	cmd := NewBookingCommand(base)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"create", "--room", "deluxe-101", "--start", "2025-01-01", "--end", "2025-01-03"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got["roomId"] != "deluxe-101" || got["startDate"] != "2025-01-01" || got["endDate"] != "2025-01-03" {
		t.Fatalf("unexpected body: %v", got)
	}
	if !strings.Contains(buf.String(), `"bookingId": 9`) {
		t.Fatalf("expected booking in output, got: %s", buf.String())
	}
}

func TestBookingListByRoom(t *testing.T) {
	base := startAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/bookings/room/deluxe-101" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"bookingId":4,"roomId":"deluxe-101","startDate":"2025-01-01","endDate":"2025-01-02","createdAt":"2025-01-01T00:00:00Z"}]`))
	})

	cmd := NewBookingCommand(base)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"list", "deluxe-101"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), `"bookingId": 4`) {
		t.Fatalf("expected booking in output, got: %s", buf.String())
	}
}

func TestAvailabilityGetPrintsTable(t *testing.T) {
	base := startAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/availability/deluxe-101" || r.URL.Query().Get("startDate") != "2025-01-01" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"roomId":"deluxe-101","date":"2025-01-01","capacity":5,"booked":2}]`))
	})

	cmd := NewAvailabilityCommand(base)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"get", "deluxe-101", "--start", "2025-01-01", "--end", "2025-01-02"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "DATE") || !strings.Contains(out, "2025-01-01") || !strings.Contains(out, "2") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestAvailabilityGetSurfacesValidationError(t *testing.T) {
	base := startAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"endDate: must be on or after startDate"}`))
	})

	cmd := NewAvailabilityCommand(base)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"get", "deluxe-101", "--start", "2025-01-03", "--end", "2025-01-01"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "must be on or after startDate") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeadLettersList(t *testing.T) {
	base := startAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"group":"availability","total":1,"deadLetters":[{"messageId":"0-3","reason":"decode"}]}`))
	})

	cmd := NewDeadLettersCommand(base)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"list", "--limit", "5"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), `"total": 1`) {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestHealthOverGRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()
	t.Setenv("ROOMLEDGER_GRPC", lis.Addr().String())

	cmd := NewHealthCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), "SERVING") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}
