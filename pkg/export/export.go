// Package export derives analysis views from recorded negotiations.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/dernego/core/recorder"
)

// View names a derived table.
type View string

const (
	ViewConvergence View = "convergence"
	ViewSchedule    View = "schedule"
	ViewContrib     View = "contribution"
	ViewDeadline    View = "deadline"
)

// Views lists every view in write order.
var Views = []View{ViewConvergence, ViewSchedule, ViewContrib, ViewDeadline}

// WriteJSON writes the records to w, one JSON array.
func WriteJSON(w io.Writer, recs []recorder.Record) error {
	if recs == nil {
		recs = []recorder.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

// WriteConvergence writes one row per evaluated round.
func WriteConvergence(w io.Writer, rec recorder.Record) error {
	rows := [][]string{{"negotiation_id", "round", "requested", "proposals", "accepted", "idle", "objective", "max_abs_delta", "improved"}}
	for _, r := range rec.Trace {
		rows = append(rows, []string{
			rec.NegotiationID,
			strconv.Itoa(r.Round),
			strconv.Itoa(r.Requested),
			strconv.Itoa(len(r.Proposals)),
			strconv.Itoa(r.Accepted()),
			strconv.Itoa(len(r.Idle)),
			formatFloat(r.Objective),
			formatFloat(maxAbs(r.Delta)),
			strconv.FormatBool(r.Improved),
		})
	}
	return writeRows(w, rows)
}

// WriteScheduleVsTarget writes the achieved aggregate against the target per
// interval.
func WriteScheduleVsTarget(w io.Writer, rec recorder.Record) error {
	rows := [][]string{{"negotiation_id", "interval", "timeslot", "target", "achieved", "delta", "weight"}}
	for i := range rec.Target {
		achieved := at(rec.Achieved, i)
		rows = append(rows, []string{
			rec.NegotiationID,
			strconv.Itoa(i),
			rec.Horizon.At(i).Format(time.RFC3339),
			formatFloat(rec.Target[i]),
			formatFloat(achieved),
			formatFloat(rec.Target[i] - achieved),
			formatFloat(weight(rec, i)),
		})
	}
	return writeRows(w, rows)
}

// WriteContribution writes each participant's final values and their share
// of the achieved aggregate. Participants are ordered by id.
func WriteContribution(w io.Writer, rec recorder.Record) error {
	rows := [][]string{{"negotiation_id", "participant", "interval", "timeslot", "value", "share"}}
	ids := make([]string, 0, len(rec.Final))
	for id := range rec.Final {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for i, v := range rec.Final[id] {
			share := ""
			if a := at(rec.Achieved, i); a != 0 {
				share = formatFloat(v / a)
			}
			rows = append(rows, []string{
				rec.NegotiationID,
				id,
				strconv.Itoa(i),
				rec.Horizon.At(i).Format(time.RFC3339),
				formatFloat(v),
				share,
			})
		}
	}
	return writeRows(w, rows)
}

// WriteDeadlineMargin writes how many rounds were left when the negotiation
// ended. A negative margin cannot occur; zero means the deadline was hit.
func WriteDeadlineMargin(w io.Writer, rec recorder.Record) error {
	margin := ""
	if rec.Deadline.Rounds > 0 {
		margin = strconv.Itoa(rec.Deadline.Rounds - rec.Rounds)
	}
	timeout := ""
	if rec.Deadline.Timeout > 0 {
		timeout = rec.Deadline.Timeout.String()
	}
	return writeRows(w, [][]string{
		{"negotiation_id", "status", "rounds", "deadline_rounds", "margin_rounds", "timeout"},
		{rec.NegotiationID, rec.Status, strconv.Itoa(rec.Rounds), strconv.Itoa(rec.Deadline.Rounds), margin, timeout},
	})
}

// Write renders view v of rec to w.
func Write(w io.Writer, v View, rec recorder.Record) error {
	switch v {
	case ViewConvergence:
		return WriteConvergence(w, rec)
	case ViewSchedule:
		return WriteScheduleVsTarget(w, rec)
	case ViewContrib:
		return WriteContribution(w, rec)
	case ViewDeadline:
		return WriteDeadlineMargin(w, rec)
	default:
		return fmt.Errorf("unknown view %q", v)
	}
}

// WriteViews writes every view of every record into dir as
// <negotiation>_<view>.csv and returns the written paths.
func WriteViews(dir string, recs []recorder.Record) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, rec := range recs {
		for _, v := range Views {
			p := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", rec.NegotiationID, v))
			if err := writeFile(p, v, rec); err != nil {
				return paths, fmt.Errorf("%s: %w", p, err)
			}
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func writeFile(path string, v View, rec recorder.Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(f, v, rec)
}

// Stats summarizes the residual of a record over its intervals of interest.
type Stats struct {
	MeanAbsResidual float64
	StdDevResidual  float64
	MaxAbsResidual  float64
}

// Summarize computes weighted residual statistics of rec.
func Summarize(rec recorder.Record) Stats {
	var residual, weights []float64
	for i := range rec.Target {
		w := weight(rec, i)
		if w <= 0 {
			continue
		}
		residual = append(residual, math.Abs(rec.Target[i]-at(rec.Achieved, i)))
		weights = append(weights, w)
	}
	if len(residual) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(residual, weights)
	if math.IsNaN(std) || math.IsInf(std, 0) {
		std = 0
	}
	return Stats{MeanAbsResidual: mean, StdDevResidual: std, MaxAbsResidual: maxAbs(residual)}
}

// RunStats summarizes a set of records.
type RunStats struct {
	Count          int
	MeanRounds     float64
	MeanObjective  float64
	ConvergedRatio float64
}

// SummarizeRun aggregates rounds, objective and convergence over recs.
func SummarizeRun(recs []recorder.Record) RunStats {
	if len(recs) == 0 {
		return RunStats{}
	}
	rounds := make([]float64, len(recs))
	objective := make([]float64, len(recs))
	converged := 0
	for i, r := range recs {
		rounds[i] = float64(r.Rounds)
		objective[i] = r.Objective
		if r.Status == "converged" {
			converged++
		}
	}
	return RunStats{
		Count:          len(recs),
		MeanRounds:     stat.Mean(rounds, nil),
		MeanObjective:  stat.Mean(objective, nil),
		ConvergedRatio: float64(converged) / float64(len(recs)),
	}
}

func weight(rec recorder.Record, i int) float64 {
	if rec.Weights == nil {
		return 1
	}
	return at(rec.Weights, i)
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func writeRows(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
