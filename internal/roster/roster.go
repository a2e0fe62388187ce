package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"

	"rollcall/internal/store"
)

// Student is a registered student. RollNo and Section are stored trimmed
// and upper-cased.
type Student struct {
	ID      int64  `json:"id"`
	RollNo  string `json:"roll_no"`
	Name    string `json:"name"`
	Section string `json:"section"`
}

// ImportSummary counts the effect of a Replace call.
type ImportSummary struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Removed  int `json:"removed"`
}

// NormalizeRollNo trims and upper-cases a roll number.
func NormalizeRollNo(rollNo string) string {
	return strings.ToUpper(strings.TrimSpace(rollNo))
}

// NormalizeSection trims and upper-cases a section name.
func NormalizeSection(section string) string {
	return strings.ToUpper(strings.TrimSpace(section))
}

var studentColumns = []string{"id", "roll_no", "name", "section"}

// Repository persists the roster.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// ByRollNo returns the student with the normalized roll number, or nil.
func (r *Repository) ByRollNo(ctx context.Context, rollNo string) (*Student, error) {
	rollNo = NormalizeRollNo(rollNo)
	if rollNo == "" {
		return nil, nil
	}
	query, args, err := r.db.Builder().Select(studentColumns...).
		From("students").
		Where(squirrel.Eq{"roll_no": rollNo}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build student lookup: %w", err)
	}
	var s Student
	if err := r.db.Client.QueryRowContext(ctx, query, args...).Scan(&s.ID, &s.RollNo, &s.Name, &s.Section); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup student %s: %w", rollNo, err)
	}
	return &s, nil
}

// ListBySection returns the students of a section ordered by roll number.
func (r *Repository) ListBySection(ctx context.Context, section string) ([]Student, error) {
	return r.list(ctx, r.db.Builder().Select(studentColumns...).
		From("students").
		Where(squirrel.Eq{"section": NormalizeSection(section)}).
		OrderBy("roll_no ASC"))
}

// ListAll returns every student ordered by section, then roll number.
func (r *Repository) ListAll(ctx context.Context) ([]Student, error) {
	return r.list(ctx, r.db.Builder().Select(studentColumns...).
		From("students").
		OrderBy("section ASC", "roll_no ASC"))
}

func (r *Repository) list(ctx context.Context, q squirrel.SelectBuilder) ([]Student, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build student list: %w", err)
	}
	rows, err := r.db.Client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()
	students := []Student{}
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.RollNo, &s.Name, &s.Section); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// Count returns the roster size.
func (r *Repository) Count(ctx context.Context) (int, error) {
	query, args, err := r.db.Builder().Select("COUNT(*)").From("students").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build student count: %w", err)
	}
	var n int
	if err := r.db.Client.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return n, nil
}

// Replace makes the roster equal to students in one transaction. Existing
// roll numbers keep their id (and attendance history); roll numbers absent
// from students are deleted along with their records.
func (r *Repository) Replace(ctx context.Context, students []Student) (ImportSummary, error) {
	var summary ImportSummary
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		existing, err := r.rollNos(ctx, tx)
		if err != nil {
			return err
		}

		keep := make([]string, 0, len(students))
		seen := make(map[string]bool, len(students))
		for _, s := range students {
			s.RollNo = NormalizeRollNo(s.RollNo)
			s.Section = NormalizeSection(s.Section)
			s.Name = strings.TrimSpace(s.Name)
			if s.RollNo == "" || s.Name == "" {
				return fmt.Errorf("%w: roll_no and name are required", ErrInvalidRow)
			}
			if err := r.upsert(ctx, tx, s); err != nil {
				return err
			}
			if seen[s.RollNo] {
				continue
			}
			seen[s.RollNo] = true
			keep = append(keep, s.RollNo)
			if existing[s.RollNo] {
				summary.Updated++
			} else {
				summary.Inserted++
			}
		}

		query, args, err := r.db.Builder().Delete("students").
			Where(squirrel.NotEq{"roll_no": keep}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build roster prune: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("prune roster: %w", err)
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("prune roster: %w", err)
		}
		summary.Removed = int(removed)
		return nil
	})
	if err != nil {
		return ImportSummary{}, err
	}
	return summary, nil
}

func (r *Repository) rollNos(ctx context.Context, q store.Querier) (map[string]bool, error) {
	query, args, err := r.db.Builder().Select("roll_no").From("students").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build roll number list: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list roll numbers: %w", err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var rollNo string
		if err := rows.Scan(&rollNo); err != nil {
			return nil, fmt.Errorf("scan roll number: %w", err)
		}
		out[rollNo] = true
	}
	return out, rows.Err()
}

func (r *Repository) upsert(ctx context.Context, q store.Querier, s Student) error {
	query, args, err := r.db.Builder().Insert("students").
		Columns("roll_no", "name", "section").
		Values(s.RollNo, s.Name, s.Section).
		Suffix("ON CONFLICT (roll_no) DO UPDATE SET name = excluded.name, section = excluded.section").
		ToSql()
	if err != nil {
		return fmt.Errorf("build student upsert: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert student %s: %w", s.RollNo, err)
	}
	return nil
}
