// Package negotiation exposes recorded negotiations over HTTP.
package negotiation

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kilianp07/dernego/core/recorder"
)

// RecordsPath is the route served by NewRecordsHandler.
const RecordsPath = "/api/negotiations/records"

// NewRecordsHandler returns an HTTP handler exposing records via
// GET /api/negotiations/records. Requests must include an Authorization
// header with "Bearer <token>" when token is non-empty.
//
// Supported filters: run_id, negotiation_id, status, since and until, the
// last two as RFC 3339 timestamps.
func NewRecordsHandler(store recorder.RecordStore, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" {
			auth := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		params := r.URL.Query()
		q := recorder.Query{
			RunID:         params.Get("run_id"),
			NegotiationID: params.Get("negotiation_id"),
			Status:        params.Get("status"),
		}
		var err error
		if q.Since, err = parseTime(params.Get("since")); err != nil {
			http.Error(w, "invalid since: "+err.Error(), http.StatusBadRequest)
			return
		}
		if q.Until, err = parseTime(params.Get("until")); err != nil {
			http.Error(w, "invalid until: "+err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []recorder.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
