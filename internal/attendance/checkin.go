package attendance

import (
	"context"
	"fmt"

	"rollcall/internal/roster"
)

// Outcome classifies a check-in attempt. Every outcome except Recorded
// leaves storage untouched.
type Outcome int

const (
	OutcomeRecorded Outcome = iota
	OutcomeAlreadyRecorded
	OutcomeNoActiveSession
	OutcomeInvalidCode
	OutcomeUnregisteredStudent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecorded:
		return "recorded"
	case OutcomeAlreadyRecorded:
		return "already_recorded"
	case OutcomeNoActiveSession:
		return "no_active_session"
	case OutcomeInvalidCode:
		return "invalid_code"
	case OutcomeUnregisteredStudent:
		return "unregistered_student"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Status is the UI tag for the outcome: success, info, warning or danger.
func (o Outcome) Status() string {
	switch o {
	case OutcomeRecorded:
		return "success"
	case OutcomeAlreadyRecorded:
		return "info"
	case OutcomeNoActiveSession:
		return "warning"
	default:
		return "danger"
	}
}

// Result is what a check-in produced. Student is set whenever the roll
// number resolved; Record only for OutcomeRecorded.
type Result struct {
	Outcome Outcome
	Student *roster.Student
	Session *Session
	Record  *Record
}

// Message renders the result for the student.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeRecorded:
		return fmt.Sprintf("Thanks %s! Your attendance is recorded.", r.studentName())
	case OutcomeAlreadyRecorded:
		return fmt.Sprintf("Hi %s, your attendance is already recorded.", r.studentName())
	case OutcomeNoActiveSession:
		return "No active attendance session right now."
	case OutcomeInvalidCode:
		return "Invalid secret code. Please try again."
	case OutcomeUnregisteredStudent:
		return "Unregistered student. Contact your faculty."
	default:
		return "Unknown check-in result."
	}
}

func (r Result) studentName() string {
	if r.Student == nil {
		return "there"
	}
	return r.Student.Name
}

// StudentLookup resolves roll numbers to students.
type StudentLookup interface {
	ByRollNo(ctx context.Context, rollNo string) (*roster.Student, error)
}

// Recorder records check-ins against the active session.
type Recorder struct {
	sessions *Manager
	students StudentLookup
	repo     *Repository
}

// NewRecorder wires a recorder.
func NewRecorder(sessions *Manager, students StudentLookup, repo *Repository) *Recorder {
	return &Recorder{sessions: sessions, students: students, repo: repo}
}

// CheckIn records the student's presence in the active session. Only
// storage failures are returned as errors; every user mistake is an Outcome.
func (r *Recorder) CheckIn(ctx context.Context, rollNo, code string) (Result, error) {
	rollNo = roster.NormalizeRollNo(rollNo)

	session, err := r.sessions.ActiveSession(ctx)
	if err != nil {
		return Result{}, err
	}
	if session == nil {
		return Result{Outcome: OutcomeNoActiveSession}, nil
	}
	if code != session.SecretCode {
		return Result{Outcome: OutcomeInvalidCode, Session: session}, nil
	}

	student, err := r.students.ByRollNo(ctx, rollNo)
	if err != nil {
		return Result{}, err
	}
	if student == nil {
		return Result{Outcome: OutcomeUnregisteredStudent, Session: session}, nil
	}

	res := Result{Student: student, Session: session}
	existing, err := r.repo.FindRecord(ctx, session.ID, student.ID)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		res.Outcome = OutcomeAlreadyRecorded
		return res, nil
	}

	rec := &Record{SessionID: session.ID, StudentID: student.ID, Timestamp: r.sessions.clock()}
	inserted, err := r.repo.InsertRecord(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		// Lost a race with a concurrent submission for the same student.
		res.Outcome = OutcomeAlreadyRecorded
		return res, nil
	}
	res.Outcome = OutcomeRecorded
	res.Record = rec
	return res, nil
}
