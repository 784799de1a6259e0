package client

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/roomledger/internal/booking"
	"github.com/rzbill/roomledger/internal/consumer"
	"github.com/rzbill/roomledger/internal/query"
)

// NewBookingCommand constructs the `booking` command group.
func NewBookingCommand(baseURL BaseURLFunc) *cobra.Command {
	bookingCmd := &cobra.Command{Use: "booking", Short: "Booking operations"}
	bookingCmd.AddCommand(newBookingCreateCommand(baseURL))
	bookingCmd.AddCommand(newBookingListCommand(baseURL))
	return bookingCmd
}

func newBookingListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list ROOM",
		Short: "List the bookings of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []booking.Booking
			target := fmt.Sprintf("%s/api/bookings/room/%s", baseURL(), url.PathEscape(args[0]))
			if err := doJSON(cmd.Context(), http.MethodGet, target, nil, &list); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
}

func newBookingCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a booking and publish its created event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			room, _ := cmd.Flags().GetString("room")
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			body := map[string]string{"roomId": room, "startDate": start, "endDate": end}
			var b booking.Booking
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/api/bookings", body, &b); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	cmd.Flags().String("room", "", "Room id")
	cmd.Flags().String("start", "", "First night (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Last night (YYYY-MM-DD), inclusive")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// NewAvailabilityCommand constructs the `availability` command group.
func NewAvailabilityCommand(baseURL BaseURLFunc) *cobra.Command {
	availCmd := &cobra.Command{Use: "availability", Short: "Availability queries"}
	getCmd := &cobra.Command{
		Use:   "get ROOM",
		Short: "List per-day capacity and booked counts for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			asJSON, _ := cmd.Flags().GetBool("json")
			q := url.Values{"startDate": {start}, "endDate": {end}}
			target := fmt.Sprintf("%s/api/availability/%s?%s", baseURL(), url.PathEscape(args[0]), q.Encode())
			var rows []query.Row
			if err := doJSON(cmd.Context(), http.MethodGet, target, nil, &rows); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tCAPACITY\tBOOKED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", r.Date, r.Capacity, r.Booked)
			}
			return tw.Flush()
		},
	}
	getCmd.Flags().String("start", "", "Start date (YYYY-MM-DD)")
	getCmd.Flags().String("end", "", "End date (YYYY-MM-DD), inclusive")
	getCmd.Flags().Bool("json", false, "Print rows as JSON")
	availCmd.AddCommand(getCmd)
	return availCmd
}

// NewDeadLettersCommand constructs the `deadletters` command group.
func NewDeadLettersCommand(baseURL BaseURLFunc) *cobra.Command {
	dlCmd := &cobra.Command{Use: "deadletters", Short: "Dead-lettered booking events"}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			var out struct {
				Group       string                `json:"group"`
				Total       uint64                `json:"total"`
				DeadLetters []consumer.DeadLetter `json:"deadLetters"`
			}
			target := fmt.Sprintf("%s/v1/deadletters?limit=%d", baseURL(), limit)
			if err := doJSON(cmd.Context(), http.MethodGet, target, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	listCmd.Flags().Int("limit", 20, "Maximum entries to print")
	dlCmd.AddCommand(listCmd)
	return dlCmd
}

// NewHealthCommand checks server health over gRPC.
func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dialGRPC()
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			res, err := healthpb.NewHealthClient(conn).Check(cmd.Context(), &healthpb.HealthCheckRequest{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status:", res.GetStatus().String())
			if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("server is %s", res.GetStatus())
			}
			return nil
		},
	}
}
