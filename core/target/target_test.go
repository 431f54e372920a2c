package target

import (
	"errors"
	"testing"
	"time"
)

func validSpec() Spec {
	return Spec{
		ID:           "n1",
		Values:       []float64{10, 20},
		Participants: []string{"a", "b"},
		Deadline:     Deadline{Rounds: 5},
		Tolerance:    1e-6,
		Strategy:     StrategyShare,
	}
}

func TestSpecValidate(t *testing.T) {
	if err := validSpec().Validate(2); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	tests := []struct {
		name string
		mod  func(*Spec)
	}{
		{"no participants", func(s *Spec) { s.Participants = nil }},
		{"duplicate participant", func(s *Spec) { s.Participants = []string{"a", "a"} }},
		{"length", func(s *Spec) { s.Values = []float64{1} }},
		{"weights length", func(s *Spec) { s.Weights = []float64{1} }},
		{"negative weight", func(s *Spec) { s.Weights = []float64{1, -1} }},
		{"strategy", func(s *Spec) { s.Strategy = "random" }},
		{"deadline", func(s *Spec) { s.Deadline = Deadline{} }},
		{"tolerance", func(s *Spec) { s.Tolerance = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			tt.mod(&s)
			if err := s.Validate(2); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	s := validSpec()
	s.Deadline = Deadline{Timeout: time.Second}
	if err := s.Validate(2); err != nil {
		t.Fatalf("timeout-only deadline rejected: %v", err)
	}
	s.Participants = nil
	if err := s.Validate(2); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
}

func TestWeights(t *testing.T) {
	s := validSpec()
	if s.Weight(1) != 1 || !s.OfInterest(0) {
		t.Fatalf("default weight should be 1")
	}
	s.Weights = []float64{0, 2}
	if s.OfInterest(0) || s.Weight(1) != 2 {
		t.Fatalf("weights not applied")
	}
}

func TestRegistryCopies(t *testing.T) {
	r := NewRegistry()
	s := validSpec()
	if err := r.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Values[0] = 99
	got, ok := r.Get("n1")
	if !ok || got.Values[0] != 10 {
		t.Fatalf("registry shares memory with caller: %+v", got)
	}
	got.Participants[0] = "zzz"
	again, _ := r.Get("n1")
	if again.Participants[0] != "a" {
		t.Fatalf("registry returned shared slice")
	}
	if err := r.Register(validSpec()); err == nil {
		t.Fatalf("duplicate id accepted")
	}
	empty := validSpec()
	empty.ID = "n0"
	empty.Participants = nil
	if err := r.Register(empty); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
	b := validSpec()
	b.ID = "a0"
	_ = r.Register(b)
	list := r.List()
	if len(list) != 2 || list[0].ID != "a0" || list[1].ID != "n1" {
		t.Fatalf("list not sorted: %+v", list)
	}
}
