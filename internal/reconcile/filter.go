package reconcile

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/roomledger/internal/booking"
	"github.com/rzbill/roomledger/internal/ledger"
)

// eventFilter evaluates an optional CEL expression against a created event.
// An empty expression admits everything.
type eventFilter struct {
	prog    cel.Program
	enabled bool
}

func newEventFilter(expr string) (eventFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return eventFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("roomId", cel.StringType),
		cel.Variable("startDate", cel.StringType),
		cel.Variable("endDate", cel.StringType),
		cel.Variable("eventType", cel.StringType),
		cel.Variable("nights", cel.IntType),
		// -1 when the event carried no usable booking id
		cel.Variable("bookingId", cel.IntType),
	)
	if err != nil {
		return eventFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return eventFilter{}, fmt.Errorf("compile filter: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return eventFilter{}, fmt.Errorf("filter must evaluate to bool, got %v", ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return eventFilter{}, err
	}
	return eventFilter{prog: prog, enabled: true}, nil
}

// Eval reports whether ev passes. Evaluation errors reject the event.
func (f eventFilter) Eval(ev booking.Event) (bool, error) {
	if !f.enabled {
		return true, nil
	}
	id := int64(-1)
	if ev.BookingID != nil {
		id = *ev.BookingID
	}
	out, _, err := f.prog.Eval(map[string]any{
		"roomId":    ev.RoomID,
		"startDate": ledger.FormatDate(ev.StartDate),
		"endDate":   ledger.FormatDate(ev.EndDate),
		"eventType": ev.EventType,
		"nights":    int64(ev.Nights()),
		"bookingId": id,
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}
