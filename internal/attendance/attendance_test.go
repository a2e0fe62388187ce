package attendance_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/roster"
	"rollcall/internal/store/storetest"
)

type fixture struct {
	students *roster.Repository
	repo     *attendance.Repository
	manager  *attendance.Manager
	recorder *attendance.Recorder
	reporter *attendance.Reporter
}

func newFixture(t *testing.T, code string, students ...roster.Student) fixture {
	t.Helper()
	db := storetest.Open(t)
	f := fixture{students: roster.NewRepository(db), repo: attendance.NewRepository(db)}
	if _, err := f.students.Replace(context.Background(), students); err != nil {
		t.Fatalf("seed roster: %v", err)
	}
	f.manager = attendance.NewManager(f.repo, attendance.WithCodeGenerator(func() (string, error) { return code, nil }))
	f.recorder = attendance.NewRecorder(f.manager, f.students, f.repo)
	f.reporter = attendance.NewReporter(f.manager, f.students, f.repo)
	return f
}

var alice = roster.Student{RollNo: "A1", Name: "Alice", Section: "CSE-A"}

func TestRandomCodeRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := attendance.RandomCode()
		if err != nil {
			t.Fatalf("random code: %v", err)
		}
		if len(code) != 6 || code < "100000" || code > "999999" {
			t.Fatalf("code %q outside 100000-999999", code)
		}
	}
}

func TestStartAndStopLifecycle(t *testing.T) {
	f := newFixture(t, "123456")
	ctx := context.Background()

	if active, err := f.manager.ActiveSession(ctx); err != nil || active != nil {
		t.Fatalf("active before start = %+v, %v; want nil, nil", active, err)
	}

	started, err := f.manager.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !started.Active || started.SecretCode != "123456" || started.EndTime != nil {
		t.Fatalf("started = %+v", started)
	}

	active, err := f.manager.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active == nil || active.ID != started.ID {
		t.Fatalf("active = %+v, want id %d", active, started.ID)
	}

	stopped, err := f.manager.Stop(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Active || stopped.EndTime == nil || stopped.EndTime.Before(stopped.StartTime) {
		t.Fatalf("stopped = %+v", stopped)
	}

	if active, err := f.manager.ActiveSession(ctx); err != nil || active != nil {
		t.Fatalf("active after stop = %+v, %v; want nil, nil", active, err)
	}
	stored, err := f.manager.Get(ctx, started.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Active || stored.EndTime == nil || stored.EndTime.Before(stored.StartTime) {
		t.Fatalf("stored = %+v", stored)
	}

	if _, err := f.manager.Stop(ctx); !errors.Is(err, attendance.ErrNoActiveSession) {
		t.Fatalf("second stop err = %v, want ErrNoActiveSession", err)
	}
}

func TestStartWhileActiveLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t, "123456")
	ctx := context.Background()

	first, err := f.manager.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.manager.Start(ctx); !errors.Is(err, attendance.ErrAlreadyActive) {
		t.Fatalf("second start err = %v, want ErrAlreadyActive", err)
	}
	again, err := f.manager.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !again.Active || again.SecretCode != first.SecretCode || !again.StartTime.Equal(first.StartTime) || again.EndTime != nil {
		t.Fatalf("session changed: before %+v after %+v", first, again)
	}
}

func TestConcurrentStartsYieldOneActiveSession(t *testing.T) {
	f := newFixture(t, "123456")
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Start(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, attendance.ErrAlreadyActive):
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successful starts = %d, want 1", ok)
	}
	sessions, err := f.manager.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
}

func TestStopClampsEndTimeToStart(t *testing.T) {
	db := storetest.Open(t)
	repo := attendance.NewRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	clock := base
	m := attendance.NewManager(repo, attendance.WithClock(func() time.Time { return clock }))
	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock = base.Add(-time.Minute)
	stopped, err := m.Stop(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !stopped.EndTime.Equal(base) {
		t.Fatalf("end = %s, want %s", stopped.EndTime, base)
	}
}

func TestGetUnknownSession(t *testing.T) {
	f := newFixture(t, "123456")
	if _, err := f.manager.Get(context.Background(), 42); !errors.Is(err, attendance.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestCheckInScenario(t *testing.T) {
	f := newFixture(t, "123456", alice)
	ctx := context.Background()

	session, err := f.manager.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	steps := []struct {
		roll, code string
		want       attendance.Outcome
	}{
		{"a1", "123456", attendance.OutcomeRecorded},
		{"A1", "123456", attendance.OutcomeAlreadyRecorded},
		{"A1", "000000", attendance.OutcomeInvalidCode},
		{"Z9", "123456", attendance.OutcomeUnregisteredStudent},
		{"A1", " 123456", attendance.OutcomeInvalidCode},
	}
	for _, step := range steps {
		res, err := f.recorder.CheckIn(ctx, step.roll, step.code)
		if err != nil {
			t.Fatalf("check-in(%q, %q): %v", step.roll, step.code, err)
		}
		if res.Outcome != step.want {
			t.Fatalf("check-in(%q, %q) = %s, want %s", step.roll, step.code, res.Outcome, step.want)
		}
	}

	n, err := f.repo.CountRecords(ctx, session.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("records = %d, want 1", n)
	}

	rows, err := f.reporter.ExportReport(ctx, session)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != attendance.StatusPresent || rows[0].Timestamp == nil {
		t.Fatalf("rows = %+v, want Alice present with timestamp", rows)
	}
}

func TestCheckInMessages(t *testing.T) {
	f := newFixture(t, "123456", alice)
	ctx := context.Background()

	res, err := f.recorder.CheckIn(ctx, "A1", "123456")
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if res.Outcome != attendance.OutcomeNoActiveSession || res.Outcome.Status() != "warning" {
		t.Fatalf("no session result = %s/%s", res.Outcome, res.Outcome.Status())
	}

	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, _ = f.recorder.CheckIn(ctx, "A1", "123456")
	if res.Message() != "Thanks Alice! Your attendance is recorded." || res.Outcome.Status() != "success" {
		t.Fatalf("recorded = %q/%s", res.Message(), res.Outcome.Status())
	}
	if res.Record == nil || res.Record.ID == 0 {
		t.Fatalf("record = %+v, want persisted record", res.Record)
	}
	res, _ = f.recorder.CheckIn(ctx, "A1", "123456")
	if res.Message() != "Hi Alice, your attendance is already recorded." || res.Outcome.Status() != "info" {
		t.Fatalf("already = %q/%s", res.Message(), res.Outcome.Status())
	}
	res, _ = f.recorder.CheckIn(ctx, "", "")
	if res.Outcome != attendance.OutcomeInvalidCode || res.Outcome.Status() != "danger" {
		t.Fatalf("empty input = %s/%s", res.Outcome, res.Outcome.Status())
	}
}

func TestCheckInWithoutSessionWritesNothing(t *testing.T) {
	f := newFixture(t, "123456", alice)
	ctx := context.Background()

	for _, code := range []string{"", "123456", "anything"} {
		res, err := f.recorder.CheckIn(ctx, "A1", code)
		if err != nil {
			t.Fatalf("check-in: %v", err)
		}
		if res.Outcome != attendance.OutcomeNoActiveSession {
			t.Fatalf("outcome = %s, want no_active_session", res.Outcome)
		}
	}
	live, err := f.reporter.LiveStatus(ctx, "CSE-A")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if live.Active || len(live.Students) != 1 || live.Students[0].Present || live.Students[0].Name != "Alice" {
		t.Fatalf("live = %+v, want Alice absent and no session", live)
	}
}

func TestConcurrentCheckInsRecordOnce(t *testing.T) {
	f := newFixture(t, "123456", alice)
	ctx := context.Background()
	session, err := f.manager.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	outcomes := make(chan attendance.Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.recorder.CheckIn(ctx, "a1", "123456")
			if err != nil {
				t.Errorf("check-in: %v", err)
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	recorded := 0
	for o := range outcomes {
		switch o {
		case attendance.OutcomeRecorded:
			recorded++
		case attendance.OutcomeAlreadyRecorded:
		default:
			t.Fatalf("unexpected outcome %s", o)
		}
	}
	if recorded != 1 {
		t.Fatalf("recorded = %d, want 1", recorded)
	}
	if count, _ := f.repo.CountRecords(ctx, session.ID); count != 1 {
		t.Fatalf("records = %d, want 1", count)
	}
}

func TestInsertRecordReportsDuplicate(t *testing.T) {
	f := newFixture(t, "123456", alice)
	ctx := context.Background()
	session, err := f.manager.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	student, _ := f.students.ByRollNo(ctx, "A1")

	rec := &attendance.Record{SessionID: session.ID, StudentID: student.ID, Timestamp: time.Now().UTC()}
	if ok, err := f.repo.InsertRecord(ctx, rec); err != nil || !ok {
		t.Fatalf("first insert = %v, %v; want true, nil", ok, err)
	}
	dup := &attendance.Record{SessionID: session.ID, StudentID: student.ID, Timestamp: time.Now().UTC()}
	if ok, err := f.repo.InsertRecord(ctx, dup); err != nil || ok {
		t.Fatalf("duplicate insert = %v, %v; want false, nil", ok, err)
	}
}

func TestLiveStatusBySection(t *testing.T) {
	f := newFixture(t, "123456",
		roster.Student{RollNo: "B2", Name: "Bob", Section: "CSE-A"},
		alice,
		roster.Student{RollNo: "C3", Name: "Carol", Section: "CSE-B"},
	)
	ctx := context.Background()
	if _, err := f.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.recorder.CheckIn(ctx, "B2", "123456"); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	live, err := f.reporter.LiveStatus(ctx, " cse-a ")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if live.Section != "CSE-A" || !live.Active {
		t.Fatalf("live = %+v", live)
	}
	want := []attendance.LiveEntry{
		{RollNo: "A1", Name: "Alice", Present: false},
		{RollNo: "B2", Name: "Bob", Present: true},
	}
	if len(live.Students) != len(want) {
		t.Fatalf("students = %+v, want %+v", live.Students, want)
	}
	for i := range want {
		if live.Students[i] != want[i] {
			t.Fatalf("student[%d] = %+v, want %+v", i, live.Students[i], want[i])
		}
	}

	empty, err := f.reporter.LiveStatus(ctx, "NOPE")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if len(empty.Students) != 0 {
		t.Fatalf("unknown section students = %+v", empty.Students)
	}
}

func TestExportCoversWholeRoster(t *testing.T) {
	f := newFixture(t, "123456",
		roster.Student{RollNo: "C3", Name: "Carol", Section: "CSE-B"},
		roster.Student{RollNo: "B2", Name: "Bob", Section: "CSE-A"},
		alice,
	)
	ctx := context.Background()
	session, err := f.manager.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, roll := range []string{"C3", "A1"} {
		if _, err := f.recorder.CheckIn(ctx, roll, "123456"); err != nil {
			t.Fatalf("check-in %s: %v", roll, err)
		}
	}

	rows, err := f.reporter.ExportReport(ctx, session)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	total, _ := f.students.Count(ctx)
	if len(rows) != total {
		t.Fatalf("rows = %d, want roster size %d", len(rows), total)
	}
	seen := map[string]bool{}
	present, absent := 0, 0
	for _, r := range rows {
		if seen[r.RollNo] {
			t.Fatalf("duplicate row for %s", r.RollNo)
		}
		seen[r.RollNo] = true
		switch r.Status {
		case attendance.StatusPresent:
			present++
			if r.Timestamp == nil {
				t.Fatalf("present row %s lacks timestamp", r.RollNo)
			}
		case attendance.StatusAbsent:
			absent++
			if r.Timestamp != nil {
				t.Fatalf("absent row %s has timestamp", r.RollNo)
			}
		default:
			t.Fatalf("status %q", r.Status)
		}
	}
	if present != 2 || absent != 1 {
		t.Fatalf("present/absent = %d/%d, want 2/1", present, absent)
	}
	order := []string{rows[0].RollNo, rows[1].RollNo, rows[2].RollNo}
	if strings.Join(order, ",") != "A1,B2,C3" {
		t.Fatalf("order = %v, want section then roll number", order)
	}

	var buf bytes.Buffer
	if err := attendance.WriteCSV(&buf, rows); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "roll_no,name,section,status,timestamp_utc" {
		t.Fatalf("header = %q", lines[0])
	}
	if len(lines) != 4 {
		t.Fatalf("csv lines = %d, want 4", len(lines))
	}
	if lines[2] != "B2,Bob,CSE-A,Absent," {
		t.Fatalf("absent line = %q", lines[2])
	}
	if !strings.HasPrefix(lines[1], "A1,Alice,CSE-A,Present,") || !strings.HasSuffix(lines[1], "Z") {
		t.Fatalf("present line = %q", lines[1])
	}
	if attendance.ExportFilename(session) != "attendance_session_1.csv" {
		t.Fatalf("filename = %q", attendance.ExportFilename(session))
	}
}

func TestExportOfStoppedSessionKeepsPresence(t *testing.T) {
	f := newFixture(t, "123456", alice)
	ctx := context.Background()
	session, _ := f.manager.Start(ctx)
	if _, err := f.recorder.CheckIn(ctx, "A1", "123456"); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if _, err := f.manager.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rows, err := f.reporter.ExportReport(ctx, session)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if rows[0].Status != attendance.StatusPresent {
		t.Fatalf("status = %q, want Present", rows[0].Status)
	}
}
