package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kilianp07/dernego/core/recorder"
)

type memStore struct {
	recs []recorder.Record
	err  error
}

func (m *memStore) Append(_ context.Context, r recorder.Record) error {
	m.recs = append(m.recs, r)
	return nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	for _, r := range m.recs {
		if r.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Query(_ context.Context, q recorder.Query) ([]recorder.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	var res []recorder.Record
	for _, r := range m.recs {
		if q.Match(r) {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *memStore) Close() error { return nil }

func newStore(t *testing.T) *memStore {
	t.Helper()
	store := &memStore{}
	for _, r := range []recorder.Record{
		{RunID: "r1", NegotiationID: "n1", Status: "converged", RecordedAt: time.Unix(100, 0).UTC()},
		{RunID: "r1", NegotiationID: "n2", Status: "infeasible", RecordedAt: time.Unix(200, 0).UTC()},
	} {
		if err := store.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return store
}

func get(h http.Handler, url, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRecordsHandler_AuthAndFilters(t *testing.T) {
	h := NewRecordsHandler(newStore(t), "tok")

	rr := get(h, RecordsPath+"?status=infeasible", "tok")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out []recorder.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0].NegotiationID != "n2" {
		t.Fatalf("unexpected records %+v", out)
	}

	rr = get(h, RecordsPath+"?until=1970-01-01T00:02:00Z", "tok")
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0].NegotiationID != "n1" {
		t.Fatalf("until filter: %+v", out)
	}

	if rr := get(h, RecordsPath, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
	if rr := get(h, RecordsPath, "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestRecordsHandler_Errors(t *testing.T) {
	store := newStore(t)
	h := NewRecordsHandler(store, "")

	if rr := get(h, RecordsPath+"?since=yesterday", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, RecordsPath, nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rr.Code)
	}
	if rr := get(h, RecordsPath+"?run_id=none", ""); rr.Body.String() != "[]\n" {
		t.Fatalf("expected empty list, got %q", rr.Body.String())
	}
	store.err = errors.New("disk gone")
	if rr := get(h, RecordsPath, ""); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}
