package attendance

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"rollcall/internal/roster"
)

// Report statuses.
const (
	StatusPresent = "Present"
	StatusAbsent  = "Absent"
)

// CSVHeader is the first row of every export.
var CSVHeader = []string{"roll_no", "name", "section", "status", "timestamp_utc"}

// LiveEntry is one student in the live view.
type LiveEntry struct {
	RollNo  string `json:"roll_no"`
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

// LiveStatus is the live view of one section.
type LiveStatus struct {
	Section  string      `json:"section"`
	Active   bool        `json:"active"`
	Students []LiveEntry `json:"students"`
}

// ReportRow is one student in an export. Timestamp is nil for absentees.
type ReportRow struct {
	RollNo    string     `json:"roll_no"`
	Name      string     `json:"name"`
	Section   string     `json:"section"`
	Status    string     `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// RosterReader lists students for reports.
type RosterReader interface {
	ListBySection(ctx context.Context, section string) ([]roster.Student, error)
	ListAll(ctx context.Context) ([]roster.Student, error)
}

// Reporter computes presence views over the roster.
type Reporter struct {
	sessions *Manager
	students RosterReader
	repo     *Repository
}

// NewReporter wires a reporter.
func NewReporter(sessions *Manager, students RosterReader, repo *Repository) *Reporter {
	return &Reporter{sessions: sessions, students: students, repo: repo}
}

// LiveStatus lists the section's students by roll number with their
// presence in the active session. Everyone is absent when no session runs.
func (r *Reporter) LiveStatus(ctx context.Context, section string) (LiveStatus, error) {
	section = roster.NormalizeSection(section)
	students, err := r.students.ListBySection(ctx, section)
	if err != nil {
		return LiveStatus{}, err
	}
	active, err := r.sessions.ActiveSession(ctx)
	if err != nil {
		return LiveStatus{}, err
	}
	present := map[int64]time.Time{}
	if active != nil {
		if present, err = r.repo.RecordTimes(ctx, active.ID); err != nil {
			return LiveStatus{}, err
		}
	}

	out := LiveStatus{Section: section, Active: active != nil, Students: make([]LiveEntry, 0, len(students))}
	for _, s := range students {
		_, ok := present[s.ID]
		out.Students = append(out.Students, LiveEntry{RollNo: s.RollNo, Name: s.Name, Present: ok})
	}
	return out, nil
}

// ExportReport returns one row per registered student, ordered by section
// then roll number, marking presence in the given session.
func (r *Reporter) ExportReport(ctx context.Context, session Session) ([]ReportRow, error) {
	students, err := r.students.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	present, err := r.repo.RecordTimes(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	rows := make([]ReportRow, 0, len(students))
	for _, s := range students {
		row := ReportRow{RollNo: s.RollNo, Name: s.Name, Section: s.Section, Status: StatusAbsent}
		if ts, ok := present[s.ID]; ok {
			row.Status = StatusPresent
			row.Timestamp = &ts
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV writes the header and rows. Timestamps are RFC 3339 in UTC.
func WriteCSV(w io.Writer, rows []ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		ts := ""
		if row.Timestamp != nil {
			ts = row.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		if err := cw.Write([]string{row.RollNo, row.Name, row.Section, row.Status, ts}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFilename names the CSV download for a session.
func ExportFilename(s Session) string {
	return fmt.Sprintf("attendance_session_%d.csv", s.ID)
}
