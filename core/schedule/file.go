package schedule

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrScheduleFile marks malformed schedule or target files.
var ErrScheduleFile = errors.New("invalid schedule file")

// FileHeader is the JSON document on the first line of a schedule file.
type FileHeader struct {
	StartTime       string   `json:"start_time"`
	IntervalMinutes int      `json:"interval_minutes"`
	Schedules       int      `json:"schedules"`
	Cols            []string `json:"cols"`
}

// Declared returns the number of schedules the header announces.
func (h FileHeader) Declared() int {
	if h.Schedules > 0 {
		return h.Schedules
	}
	return len(h.Cols)
}

// ReadHeader parses only the header of the schedule file at path.
func ReadHeader(path string) (FileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHeader{}, err
	}
	defer f.Close()
	hdr, _, err := readHeader(bufio.NewReader(f))
	return hdr, err
}

// ReadFile loads the initial schedules and envelopes stored at path.
func ReadFile(path string, h Horizon) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := Parse(f, h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Parse reads a schedule file: a JSON header line followed by one CSV row
// per interval holding value,min,max for every declared schedule.
func Parse(r io.Reader, h Horizon) ([]Entry, error) {
	hdr, body, err := readHeader(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	n := hdr.Declared()
	if n == 0 {
		return nil, fmt.Errorf("%w: header declares no schedules", ErrScheduleFile)
	}
	if len(hdr.Cols) != n {
		return nil, fmt.Errorf("%w: header declares %d schedules but names %d", ErrScheduleFile, n, len(hdr.Cols))
	}
	if err := checkGrid(hdr.IntervalMinutes, hdr.StartTime, h); err != nil {
		return nil, err
	}
	rows, err := readRows(body, 3*n)
	if err != nil {
		return nil, err
	}
	if len(rows) != h.Intervals {
		return nil, fmt.Errorf("%w: %d rows for %d intervals", ErrScheduleFile, len(rows), h.Intervals)
	}
	entries := make([]Entry, n)
	for j, id := range hdr.Cols {
		entries[j] = Entry{
			ID:       id,
			Schedule: h.Zero(),
			Envelope: Envelope{Min: make([]float64, h.Intervals), Max: make([]float64, h.Intervals)},
		}
	}
	for i, row := range rows {
		for j := range entries {
			entries[j].Schedule.Values[i] = row[3*j]
			entries[j].Envelope.Min[i] = row[3*j+1]
			entries[j].Envelope.Max[i] = row[3*j+2]
		}
	}
	return entries, nil
}

// ReadTargetFile loads target values and weights from path. The first line
// is a JSON header with interval_minutes, then one value,weight row per
// interval.
func ReadTargetFile(path string, h Horizon) (values, weights []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	values, weights, err = ParseTarget(f, h)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return values, weights, nil
}

// ParseTarget is ReadTargetFile on an open reader.
func ParseTarget(r io.Reader, h Horizon) (values, weights []float64, err error) {
	hdr, body, err := readHeader(bufio.NewReader(r))
	if err != nil {
		return nil, nil, err
	}
	if err := checkGrid(hdr.IntervalMinutes, hdr.StartTime, h); err != nil {
		return nil, nil, err
	}
	rows, err := readRows(body, 2)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) != h.Intervals {
		return nil, nil, fmt.Errorf("%w: %d target rows for %d intervals", ErrScheduleFile, len(rows), h.Intervals)
	}
	values = make([]float64, len(rows))
	weights = make([]float64, len(rows))
	for i, row := range rows {
		if row[1] < 0 {
			return nil, nil, fmt.Errorf("%w: negative weight on row %d", ErrScheduleFile, i+1)
		}
		values[i], weights[i] = row[0], row[1]
	}
	return values, weights, nil
}

func readHeader(br *bufio.Reader) (FileHeader, *bufio.Reader, error) {
	line, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return FileHeader{}, nil, fmt.Errorf("%w: missing header", ErrScheduleFile)
	}
	var hdr FileHeader
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &hdr); err != nil {
		return FileHeader{}, nil, fmt.Errorf("%w: header: %v", ErrScheduleFile, err)
	}
	return hdr, br, nil
}

func checkGrid(minutes int, start string, h Horizon) error {
	if minutes > 0 && time.Duration(minutes)*time.Minute != h.Step {
		return fmt.Errorf("%w: interval of %d minutes does not match step %s", ErrScheduleFile, minutes, h.Step)
	}
	if start == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return fmt.Errorf("%w: start_time: %v", ErrScheduleFile, err)
	}
	if !t.Equal(h.Start) {
		return fmt.Errorf("%w: start_time %s does not match horizon start %s", ErrScheduleFile, t.Format(time.RFC3339), h.Start.Format(time.RFC3339))
	}
	return nil
}

func readRows(r io.Reader, width int) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	var rows [][]float64
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScheduleFile, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != width {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrScheduleFile, line, len(rec), width)
		}
		row := make([]float64, width)
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %d: %v", ErrScheduleFile, line, i+1, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}
