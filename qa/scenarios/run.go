package scenarios

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/dernego/core/events"
	"github.com/kilianp07/dernego/core/negotiation"
	"github.com/kilianp07/dernego/core/recorder"
	"github.com/kilianp07/dernego/core/schedule"
	"github.com/kilianp07/dernego/core/target"
	"github.com/kilianp07/dernego/infra/logger"
	"github.com/kilianp07/dernego/infra/metrics"
	"github.com/kilianp07/dernego/internal/eventbus"
)

// world is one freshly built store, population and spec set.
type world struct {
	store *schedule.Store
	pop   *negotiation.Population
	specs []target.Spec
}

func build(t *testing.T, sc *Scenario) world {
	t.Helper()
	h := sc.horizon()
	store := schedule.NewStore(h)
	pop := negotiation.NewPopulation(store)
	for _, r := range sc.Resources {
		e, err := r.entry(h)
		if err != nil {
			t.Fatalf("resource: %v", err)
		}
		if err := store.Add(e); err != nil {
			t.Fatalf("store: %v", err)
		}
		if _, err := pop.AddAgent(r.ID); err != nil {
			t.Fatalf("agent: %v", err)
		}
	}
	for _, c := range sc.Containers {
		if _, err := pop.AddContainer(c.ID, c.Members...); err != nil {
			t.Fatalf("container: %v", err)
		}
	}
	specs := make([]target.Spec, 0, len(sc.Negotiations))
	for _, n := range sc.Negotiations {
		s, err := n.spec(sc.Intervals)
		if err != nil {
			t.Fatalf("negotiation: %v", err)
		}
		specs = append(specs, s)
	}
	return world{store: store, pop: pop, specs: specs}
}

// RunScenario executes sc twice on fresh stores, checks the expected
// outcomes and that both runs produced identical traces.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	first := runOnce(t, sc)
	second := runOnce(t, sc)

	for _, res := range first {
		exp, ok := sc.Expected[res.ID]
		if !ok {
			continue
		}
		if string(res.Status) != exp.Status {
			t.Errorf("%s: expected status %s, got %s", res.ID, exp.Status, res.Status)
		}
		if res.Committed != exp.Committed {
			t.Errorf("%s: expected committed=%t, got %t", res.ID, exp.Committed, res.Committed)
		}
		if exp.Rounds != nil && res.Rounds != *exp.Rounds {
			t.Errorf("%s: expected %d rounds, got %d", res.ID, *exp.Rounds, res.Rounds)
		}
		if exp.MaxRounds > 0 && res.Rounds > exp.MaxRounds {
			t.Errorf("%s: %d rounds exceed %d", res.ID, res.Rounds, exp.MaxRounds)
		}
		for i, v := range exp.Achieved {
			if i >= len(res.Achieved) || math.Abs(res.Achieved[i]-v) > 1e-6 {
				t.Errorf("%s: achieved %v, expected %v", res.ID, res.Achieved, exp.Achieved)
				break
			}
		}
		if res.Status == negotiation.StatusConverged {
			for i := range res.Target {
				if res.Spec.OfInterest(i) && math.Abs(res.Target[i]-res.Achieved[i]) > res.Spec.Tolerance {
					t.Errorf("%s: interval %d off target by %g", res.ID, i, res.Target[i]-res.Achieved[i])
				}
			}
		}
	}
	for id := range sc.Expected {
		if !hasResult(first, id) {
			t.Errorf("no result for negotiation %s", id)
		}
	}

	a, _ := json.Marshal(traces(first))
	b, _ := json.Marshal(traces(second))
	if string(a) != string(b) {
		t.Errorf("traces differ between identical runs")
	}
}

func runOnce(t *testing.T, sc *Scenario) []negotiation.Result {
	t.Helper()
	w := build(t, sc)
	before := w.store.Snapshot()

	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}
	bus := eventbus.New[events.Event]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	collected := metrics.StartEventCollector(ctx, bus, sink)

	store, err := recorder.NewJSONLStore(filepath.Join(t.TempDir(), "results.jsonl"))
	if err != nil {
		t.Fatalf("result store: %v", err)
	}
	defer store.Close()
	rec := recorder.New(store, "scenario", w.store.Horizon(), logger.NopLogger{})

	coord := negotiation.NewCoordinator(w.store, w.pop,
		negotiation.WithLogger(logger.NopLogger{}),
		negotiation.WithBus(bus),
		negotiation.WithSink(sink),
	)
	summary, err := negotiation.NewRunner(coord, rec, 4).Run(context.Background(), w.specs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	bus.Close()
	<-collected

	n, err := testutil.GatherAndCount(reg, "negotiation_outcomes_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(w.specs) > 0 && n == 0 {
		t.Errorf("no outcome metric recorded")
	}
	if len(summary.Results) > 0 {
		err := rec.Record(context.Background(), summary.Results[0])
		if !errors.Is(err, recorder.ErrAlreadyRecorded) {
			t.Errorf("re-recording %s: expected ErrAlreadyRecorded, got %v", summary.Results[0].ID, err)
		}
	}
	if sc.StoreUnchanged {
		after := w.store.Snapshot()
		a, _ := json.Marshal(before)
		b, _ := json.Marshal(after)
		if string(a) != string(b) {
			t.Errorf("store changed: %s -> %s", a, b)
		}
	}
	return summary.Results
}

func traces(results []negotiation.Result) map[string][]negotiation.RoundTrace {
	out := make(map[string][]negotiation.RoundTrace, len(results))
	for _, r := range results {
		out[r.ID] = r.Trace
	}
	return out
}

func hasResult(results []negotiation.Result, id string) bool {
	for _, r := range results {
		if r.ID == id {
			return true
		}
	}
	return false
}
