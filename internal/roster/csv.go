package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidRow reports a roster row that cannot be imported.
var ErrInvalidRow = errors.New("invalid roster row")

// ParseCSV reads a delimited roster file. The first row must name the
// roll_no, name and section columns (any order, any case); blank lines are
// skipped.
func ParseCSV(r io.Reader, delimiter rune) ([]Student, error) {
	reader := csv.NewReader(r)
	if delimiter != 0 {
		reader.Comma = delimiter
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", ErrInvalidRow)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, want := range []string{"roll_no", "name", "section"} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("%w: header lacks %q column", ErrInvalidRow, want)
		}
	}

	field := func(rec []string, name string) string {
		i := cols[name]
		if i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var students []Student
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		line, _ := reader.FieldPos(0)
		s := Student{
			RollNo:  NormalizeRollNo(field(rec, "roll_no")),
			Name:    strings.TrimSpace(field(rec, "name")),
			Section: NormalizeSection(field(rec, "section")),
		}
		if s.RollNo == "" && s.Name == "" && s.Section == "" {
			continue
		}
		if s.RollNo == "" || s.Name == "" {
			return nil, fmt.Errorf("%w: line %d needs roll_no and name", ErrInvalidRow, line)
		}
		students = append(students, s)
	}
	return students, nil
}
