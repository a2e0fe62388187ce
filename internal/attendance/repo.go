package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"rollcall/internal/store"
)

var sessionColumns = []string{"id", "secret_code", "active", "start_time", "end_time"}

// Repository persists sessions and attendance records.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// ActiveSession returns the active session, or nil. Should storage ever
// hold more than one, the latest start wins.
func (r *Repository) ActiveSession(ctx context.Context) (*Session, error) {
	query, args, err := r.db.Builder().Select(sessionColumns...).
		From("attendance_sessions").
		Where(squirrel.Eq{"active": true}).
		OrderBy("start_time DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build active session query: %w", err)
	}
	s, err := scanSession(r.db.Client.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	return &s, nil
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	query, args, err := r.db.Builder().Select(sessionColumns...).
		From("attendance_sessions").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return Session{}, fmt.Errorf("build session query: %w", err)
	}
	s, err := scanSession(r.db.Client.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session %d: %w", id, err)
	}
	return s, nil
}

// ListSessions returns sessions newest first.
func (r *Repository) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := r.db.Builder().Select(sessionColumns...).
		From("attendance_sessions").
		OrderBy("start_time DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session list: %w", err)
	}
	rows, err := r.db.Client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// InsertActiveSession writes a new active session. A unique violation means
// another session is already active.
func (r *Repository) InsertActiveSession(ctx context.Context, code string, start time.Time) (Session, error) {
	query, args, err := r.db.Builder().Insert("attendance_sessions").
		Columns("secret_code", "active", "start_time").
		Values(code, true, start).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return Session{}, fmt.Errorf("build session insert: %w", err)
	}
	s := Session{SecretCode: code, Active: true, StartTime: start}
	if err := r.db.Client.QueryRowContext(ctx, query, args...).Scan(&s.ID); err != nil {
		if store.IsUniqueViolation(err) {
			return Session{}, ErrAlreadyActive
		}
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// CloseSession deactivates the session if it is still active. It reports
// false when the session was not active anymore.
func (r *Repository) CloseSession(ctx context.Context, id int64, end time.Time) (bool, error) {
	query, args, err := r.db.Builder().Update("attendance_sessions").
		Set("active", false).
		Set("end_time", end).
		Where(squirrel.Eq{"id": id, "active": true}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build session close: %w", err)
	}
	res, err := r.db.Client.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("close session %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close session %d: %w", id, err)
	}
	return n == 1, nil
}

// FindRecord returns the record for (session, student), or nil.
func (r *Repository) FindRecord(ctx context.Context, sessionID, studentID int64) (*Record, error) {
	query, args, err := r.db.Builder().Select("id", "session_id", "student_id", "timestamp").
		From("attendance_records").
		Where(squirrel.Eq{"session_id": sessionID, "student_id": studentID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build record lookup: %w", err)
	}
	var rec Record
	err = r.db.Client.QueryRowContext(ctx, query, args...).Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup record: %w", err)
	}
	return &rec, nil
}

// InsertRecord writes a record unless one already exists for the pair. It
// reports false, without error, when the pair was already recorded.
func (r *Repository) InsertRecord(ctx context.Context, rec *Record) (bool, error) {
	query, args, err := r.db.Builder().Insert("attendance_records").
		Columns("session_id", "student_id", "timestamp").
		Values(rec.SessionID, rec.StudentID, rec.Timestamp).
		Suffix("ON CONFLICT (session_id, student_id) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build record insert: %w", err)
	}
	err = r.db.Client.QueryRowContext(ctx, query, args...).Scan(&rec.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows), store.IsUniqueViolation(err):
		return false, nil
	default:
		return false, fmt.Errorf("insert record: %w", err)
	}
}

// RecordTimes maps student id to check-in time for one session.
func (r *Repository) RecordTimes(ctx context.Context, sessionID int64) (map[int64]time.Time, error) {
	query, args, err := r.db.Builder().Select("student_id", "timestamp").
		From("attendance_records").
		Where(squirrel.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build record list: %w", err)
	}
	rows, err := r.db.Client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	out := map[int64]time.Time{}
	for rows.Next() {
		var studentID int64
		var ts time.Time
		if err := rows.Scan(&studentID, &ts); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out[studentID] = ts.UTC()
	}
	return out, rows.Err()
}

// CountRecords returns how many students checked into a session.
func (r *Repository) CountRecords(ctx context.Context, sessionID int64) (int, error) {
	query, args, err := r.db.Builder().Select("COUNT(*)").
		From("attendance_records").
		Where(squirrel.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build record count: %w", err)
	}
	var n int
	if err := r.db.Client.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var end sql.NullTime
	if err := row.Scan(&s.ID, &s.SecretCode, &s.Active, &s.StartTime, &end); err != nil {
		return Session{}, err
	}
	s.StartTime = s.StartTime.UTC()
	if end.Valid {
		t := end.Time.UTC()
		s.EndTime = &t
	}
	return s, nil
}
