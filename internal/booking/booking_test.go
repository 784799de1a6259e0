package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/roomledger/internal/ledger"
	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
	"github.com/rzbill/roomledger/internal/validate"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ledger.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestDecodeFields(t *testing.T) {
	ev, err := DecodeFields(map[string]string{
		"bookingId": "42",
		"roomId":    "deluxe-101",
		"startDate": "2025-01-01",
		"endDate":   "2025-01-03",
		"eventType": "created",
	})
	require.NoError(t, err)
	require.NotNil(t, ev.BookingID)
	assert.Equal(t, int64(42), *ev.BookingID)
	assert.Equal(t, "deluxe-101", ev.RoomID)
	assert.Equal(t, 3, ev.Nights())
	assert.Equal(t, EventCreated, ev.EventType)
}

func TestDecodeFieldsBookingIDIsBestEffort(t *testing.T) {
	for _, raw := range []string{"abc", "", "4.2"} {
		ev, err := DecodeFields(map[string]string{
			"bookingId": raw, "roomId": "r", "startDate": "2025-01-01",
			"endDate": "2025-01-01", "eventType": "created",
		})
		require.NoError(t, err, raw)
		assert.Nil(t, ev.BookingID, raw)
	}
}

func TestDecodeFieldsRejects(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{
			"roomId": "r", "startDate": "2025-01-01", "endDate": "2025-01-02", "eventType": "created",
		}
	}
	cases := map[string]func(map[string]string){
		"roomId":    func(f map[string]string) { delete(f, "roomId") },
		"startDate": func(f map[string]string) { f["startDate"] = "not-a-date" },
		"endDate":   func(f map[string]string) { f["endDate"] = "2024-12-31" },
		"eventType": func(f map[string]string) { delete(f, "eventType") },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			f := base()
			mutate(f)
			_, err := DecodeFields(f)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, field, de.Field)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	_, err := DecodePayload([]byte("{not json"))
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	id := int64(7)
	in := Event{BookingID: &id, RoomID: "r1", StartDate: day(t, "2025-02-01"), EndDate: day(t, "2025-02-02"), EventType: "cancelled"}
	f := in.Fields()
	ev, err := DecodeFields(f)
	require.NoError(t, err)
	assert.Equal(t, in, ev)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	sent []map[string]string
	fail error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, fields map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	p.keys = append(p.keys, key)
	p.sent = append(p.sent, fields)
	return "0-1", nil
}

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestServiceCreatePublishesCreated(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(openStore(t), pub, nil)

	b1, err := svc.Create(context.Background(), "deluxe-101", day(t, "2025-01-01"), day(t, "2025-01-03"))
	require.NoError(t, err)
	b2, err := svc.Create(context.Background(), "deluxe-101", day(t, "2025-01-05"), day(t, "2025-01-05"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), b1.ID)
	assert.Equal(t, int64(2), b2.ID)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, []string{"deluxe-101", "deluxe-101"}, pub.keys)
	assert.Equal(t, map[string]string{
		"bookingId": "1",
		"roomId":    "deluxe-101",
		"startDate": "2025-01-01",
		"endDate":   "2025-01-03",
		"eventType": "created",
	}, pub.sent[0])

	got, err := svc.store.Get(b2.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-05", got.StartDate)
}

func TestServiceCreateSurvivesPublishFailure(t *testing.T) {
	store := openStore(t)
	svc := NewService(store, &recordingPublisher{fail: errors.New("broker down")}, nil)

	b, err := svc.Create(context.Background(), "r1", day(t, "2025-01-01"), day(t, "2025-01-01"))
	require.NoError(t, err)
	_, err = store.Get(b.ID)
	assert.NoError(t, err)
}

func TestServiceCreateValidates(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(openStore(t), pub, nil)

	_, err := svc.Create(context.Background(), " ", day(t, "2025-01-01"), day(t, "2025-01-01"))
	assert.True(t, validate.IsValidation(err))
	_, err = svc.Create(context.Background(), "r1", day(t, "2025-01-02"), day(t, "2025-01-01"))
	assert.True(t, validate.IsValidation(err))
	assert.Empty(t, pub.sent)

	_, err = svc.store.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByRoom(t *testing.T) {
	store := openStore(t)
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	for _, room := range []string{"deluxe-101", "suite-7", "deluxe-101", "deluxe-1010"} {
		_, err := svc.Create(ctx, room, day(t, "2025-01-01"), day(t, "2025-01-02"))
		require.NoError(t, err)
	}

	got, err := svc.ListByRoom(ctx, "deluxe-101")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
	for _, b := range got {
		assert.Equal(t, "deluxe-101", b.RoomID)
	}

	got, err = store.ListByRoom("nobody")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, err = svc.ListByRoom(ctx, "  ")
	assert.True(t, validate.IsValidation(err))
}
