package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements Store on a SQLite database. Conditional writes are a
// version-checked UPDATE (or an INSERT that must not conflict for a new row)
// executed in the same transaction as the applied mark.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// OpenSQLite opens or creates the database at path (":memory:" is accepted)
// and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Get(ctx context.Context, roomID string, date time.Time) (Day, bool, error) {
	date = Normalize(date)
	d := Day{RoomID: roomID, Date: date}
	err := s.db.QueryRowContext(ctx,
		`SELECT capacity, booked, version FROM availability WHERE room_id = ? AND day = ?`,
		roomID, FormatDate(date),
	).Scan(&d.Capacity, &d.Booked, &d.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Day{}, false, nil
	}
	if err != nil {
		return Day{}, false, fmt.Errorf("get %s %s: %w", roomID, FormatDate(date), err)
	}
	return d, true, nil
}

func (s *SQLiteStore) GetRange(ctx context.Context, roomID string, start, end time.Time) ([]Day, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, capacity, booked, version FROM availability
		WHERE room_id = ? AND day >= ? AND day <= ?
		ORDER BY day`,
		roomID, FormatDate(Normalize(start)), FormatDate(Normalize(end)),
	)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", roomID, err)
	}
	defer rows.Close()

	var out []Day
	for rows.Next() {
		var day string
		d := Day{RoomID: roomID}
		if err := rows.Scan(&day, &d.Capacity, &d.Booked, &d.Version); err != nil {
			return nil, err
		}
		if d.Date, err = ParseDate(day); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ConditionalWrite(ctx context.Context, day Day, expectedVersion uint64, mark *Mark) (WriteResult, error) {
	day.Date = Normalize(day.Date)
	dayStr := FormatDate(day.Date)
	nowMs := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if mark != nil {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO applied_days (grp, message_id, room_id, day, applied_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			mark.Group, mark.MessageID, day.RoomID, dayStr, nowMs,
		)
		if err != nil {
			return 0, fmt.Errorf("mark %s: %w", mark.MessageID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return WriteAlreadyApplied, nil
		}
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO availability (room_id, day, capacity, booked, version, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(room_id, day) DO NOTHING`,
			day.RoomID, dayStr, day.Capacity, day.Booked, nowMs,
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE availability SET capacity = ?, booked = ?, version = ?, updated_at = ?
			WHERE room_id = ? AND day = ? AND version = ?`,
			day.Capacity, day.Booked, expectedVersion+1, nowMs, day.RoomID, dayStr, expectedVersion,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("write %s %s: %w", day.RoomID, dayStr, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return WriteVersionConflict, nil
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return WriteOK, nil
}

func (s *SQLiteStore) Applied(ctx context.Context, mark Mark, roomID string, date time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM applied_days WHERE grp = ? AND message_id = ? AND room_id = ? AND day = ?`,
		mark.Group, mark.MessageID, roomID, FormatDate(Normalize(date)),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) Exists(ctx context.Context, group, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_messages WHERE grp = ? AND message_id = ?`, group, messageID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) Insert(ctx context.Context, group, messageID string) (InsertResult, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_messages (grp, message_id, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(grp, message_id) DO NOTHING`,
		group, messageID, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("dedup insert %s/%s: %w", group, messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (SweepStats, error) {
	var stats SweepStats
	cutMs := cutoff.UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_messages WHERE processed_at < ?`, cutMs)
	if err != nil {
		return stats, fmt.Errorf("sweep dedup: %w", err)
	}
	n, _ := res.RowsAffected()
	stats.Dedup = int(n)
	res, err = s.db.ExecContext(ctx, `DELETE FROM applied_days WHERE applied_at < ?`, cutMs)
	if err != nil {
		return stats, fmt.Errorf("sweep applied: %w", err)
	}
	n, _ = res.RowsAffected()
	stats.Applied = int(n)
	return stats, nil
}

var _ Store = (*SQLiteStore)(nil)
