package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/dernego/core/monitoring"
	"github.com/kilianp07/dernego/core/target"
)

// ResultSink receives every finished negotiation, e.g. the result recorder.
type ResultSink interface {
	Record(ctx context.Context, res Result) error
}

// Summary collects the results of a runner invocation ordered by id.
type Summary struct {
	Results []Result
}

// Count returns how many results ended with status s.
func (s Summary) Count(st Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == st {
			n++
		}
	}
	return n
}

// Infeasible reports whether any negotiation ended infeasible.
func (s Summary) Infeasible() bool { return s.Count(StatusInfeasible) > 0 }

// Runner executes many negotiations. Negotiations sharing a resource form a
// group run serially in id order; groups run in parallel.
type Runner struct {
	coord   *Coordinator
	sink    ResultSink
	workers int
}

// NewRunner creates a runner using at most workers goroutines. A nil sink
// discards results.
func NewRunner(coord *Coordinator, sink ResultSink, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{coord: coord, sink: sink, workers: workers}
}

// Groups partitions specs by overlapping resources. Groups and their members
// are sorted by negotiation id.
func Groups(pop *Population, specs []target.Spec) ([][]target.Spec, error) {
	sorted := append([]target.Spec(nil), specs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	parent := make([]int, len(sorted))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	owner := make(map[string]int)
	for i, s := range sorted {
		res, err := pop.Resources(s.Participants...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.ID, err)
		}
		for _, r := range res {
			if j, ok := owner[r]; ok {
				a, b := find(i), find(j)
				if a != b {
					if a < b {
						parent[b] = a
					} else {
						parent[a] = b
					}
				}
				continue
			}
			owner[r] = i
		}
	}
	index := make(map[int]int)
	var groups [][]target.Spec
	for i, s := range sorted {
		root := find(i)
		g, ok := index[root]
		if !ok {
			g = len(groups)
			index[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], s)
	}
	return groups, nil
}

// Run executes every spec. Non-convergence is a normal outcome; errors from
// the coordinator or the sink abort the run.
func (r *Runner) Run(ctx context.Context, specs []target.Spec) (Summary, error) {
	groups, err := Groups(r.coord.pop, specs)
	if err != nil {
		return Summary{}, err
	}
	r.coord.log.Infof("running %d negotiations in %d groups with %d workers", len(specs), len(groups), r.workers)

	var (
		mu      sync.Mutex
		results []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			for _, spec := range group {
				if err := gctx.Err(); err != nil {
					return err
				}
				tags := map[string]string{"negotiation": spec.ID, "module": "runner"}
				var res Result
				err := monitoring.Guard(tags, func() error {
					var err error
					res, err = r.coord.Run(gctx, spec)
					if err != nil {
						return err
					}
					if r.sink != nil {
						return r.sink.Record(gctx, res)
					}
					return nil
				})
				if err != nil {
					if !errors.Is(err, monitoring.ErrPanic) && !errors.Is(err, context.Canceled) {
						monitoring.CaptureException(err, tags)
					}
					return err
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return Summary{Results: results}, err
}
