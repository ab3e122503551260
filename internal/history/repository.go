package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/chatstudio/internal/domain"
)

// Repository is the CRUD surface over history records. There is no
// update: a record is written once at session close and amended only by
// delete plus recreate. Implemented by the SQLite store and by the HTTP
// client against a remote instance of it.
type Repository interface {
	// Create stores a new record and returns it with its server-assigned id.
	Create(ctx context.Context, rec domain.HistoryRecord) (domain.HistoryRecord, error)

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (domain.HistoryRecord, error)

	// List returns all records, most recently started first.
	List(ctx context.Context) ([]domain.HistoryRecord, error)

	// Delete removes the record, returning it; an absent id yields
	// ErrNotFound on every call.
	Delete(ctx context.Context, id string) (domain.HistoryRecord, error)
}

// SQLiteRepository implements Repository backed by SQLite.
type SQLiteRepository struct {
	db *DB
}

// NewSQLiteRepository creates a repository using the given database.
func NewSQLiteRepository(db *DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, rec domain.HistoryRecord) (domain.HistoryRecord, error) {
	if err := validateRecord(rec.UserID, rec.Topic, len(rec.Messages)); err != nil {
		return domain.HistoryRecord{}, err
	}

	rec.ID = uuid.New().String()
	if rec.StartTime.IsZero() {
		rec.StartTime = time.Now().UTC()
	}

	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	var endTime sql.NullString
	if rec.EndTime != nil {
		endTime = sql.NullString{String: rec.EndTime.Format(time.RFC3339Nano), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (id, user_id, topic, start_time, end_time) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Topic, rec.StartTime.Format(time.RFC3339Nano), endTime,
	); err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("inserting record: %w", err)
	}

	for _, ex := range rec.Messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exchanges (record_id, message, response, timestamp) VALUES (?, ?, ?, ?)`,
			rec.ID, ex.Message, ex.Response, ex.Timestamp.Format(time.RFC3339Nano),
		); err != nil {
			return domain.HistoryRecord{}, fmt.Errorf("inserting exchange: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("commit create: %w", err)
	}

	r.db.log.Info().Str("id", rec.ID).Str("topic", rec.Topic).Int("exchanges", len(rec.Messages)).Msg("record created")
	return rec, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (domain.HistoryRecord, error) {
	rec, err := r.scanRecord(ctx, id)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	rec.Messages, err = r.loadExchanges(ctx, id)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	return rec, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]domain.HistoryRecord, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT id, user_id, topic, start_time, end_time FROM records ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var recs []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recs {
		recs[i].Messages, err = r.loadExchanges(ctx, recs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) (domain.HistoryRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return domain.HistoryRecord{}, err
	}

	// ON DELETE CASCADE removes the exchanges.
	if _, err := r.db.sql.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("deleting record: %w", err)
	}

	r.db.log.Info().Str("id", id).Msg("record deleted")
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordRow(row rowScanner) (domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	var startTime string
	var endTime sql.NullString

	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Topic, &startTime, &endTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.HistoryRecord{}, ErrNotFound
		}
		return domain.HistoryRecord{}, fmt.Errorf("scanning record: %w", err)
	}

	rec.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	if endTime.Valid {
		t, err := time.Parse(time.RFC3339Nano, endTime.String)
		if err == nil {
			rec.EndTime = &t
		}
	}
	return rec, nil
}

func (r *SQLiteRepository) scanRecord(ctx context.Context, id string) (domain.HistoryRecord, error) {
	row := r.db.sql.QueryRowContext(ctx,
		`SELECT id, user_id, topic, start_time, end_time FROM records WHERE id = ?`, id)
	return scanRecordRow(row)
}

func (r *SQLiteRepository) loadExchanges(ctx context.Context, recordID string) ([]domain.Exchange, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT message, response, timestamp FROM exchanges WHERE record_id = ? ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("loading exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []domain.Exchange
	for rows.Next() {
		var ex domain.Exchange
		var ts string
		if err := rows.Scan(&ex.Message, &ex.Response, &ts); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		ex.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}
