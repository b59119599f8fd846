package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

const selectColumns = `id, device_id, session_id, request_id, outcome, error_code,
	chunks, audio_bytes_in, audio_bytes_out, transcript, duration_ms,
	cost_estimate, created_at`

// SQLiteRepository implements Repository on the exchanges table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an exchange.
func (r *SQLiteRepository) Record(ctx context.Context, ex Exchange) error {
	if ex.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidExchange)
	}
	if !validOutcome(ex.Outcome) {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidExchange, ex.Outcome)
	}
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO exchanges (`+selectColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID,
		ex.DeviceID,
		ex.SessionID,
		ex.RequestID,
		ex.Outcome,
		ex.ErrorCode,
		ex.Chunks,
		ex.AudioBytesIn,
		ex.AudioBytesOut,
		ex.Transcript,
		ex.DurationMS,
		ex.CostEstimate,
		formatTimestamp(ex.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}
	return nil
}

// Recent returns the newest exchanges, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Exchange, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+`
		 FROM exchanges
		 ORDER BY created_at DESC
		 LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	return scanExchanges(rows)
}

// ByDevice returns the newest exchanges for a device, newest first.
func (r *SQLiteRepository) ByDevice(ctx context.Context, deviceID string, limit int) ([]Exchange, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+`
		 FROM exchanges
		 WHERE device_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		deviceID,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying device exchanges: %w", err)
	}
	return scanExchanges(rows)
}

// Prune deletes exchanges created before olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM exchanges WHERE created_at < ?",
		formatTimestamp(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting exchanges: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

func scanExchanges(rows *sql.Rows) ([]Exchange, error) {
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var (
			ex        Exchange
			createdAt string
		)
		if err := rows.Scan(
			&ex.ID,
			&ex.DeviceID,
			&ex.SessionID,
			&ex.RequestID,
			&ex.Outcome,
			&ex.ErrorCode,
			&ex.Chunks,
			&ex.AudioBytesIn,
			&ex.AudioBytesOut,
			&ex.Transcript,
			&ex.DurationMS,
			&ex.CostEstimate,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}

		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		ex.CreatedAt = ts
		out = append(out, ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchanges: %w", err)
	}
	return out, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(timestampLayout, value)
	if err == nil {
		return ts, nil
	}
	if fallback, fallbackErr := time.Parse(time.RFC3339Nano, value); fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
