package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tallyd/tallyd/pkg/audit"
	"github.com/tallyd/tallyd/pkg/handler"
	"github.com/tallyd/tallyd/pkg/metrics"
)

// BatchResponse summarizes one delivered batch. Results holds one entry
// per matched event, in delivery order.
type BatchResponse struct {
	Received int              `json:"received"`
	Matched  int              `json:"matched"`
	Results  []handler.Result `json:"results"`
}

// CountResponse is the count endpoint payload. Count is a decimal string,
// matching the handler's result format.
type CountResponse struct {
	Key   string `json:"key"`
	Count string `json:"count"`
}

// RegisterAPIRoutes registers all REST API routes on the given mux.
func (s *Server) RegisterAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/count", s.handleCount)
	mux.HandleFunc("GET /healthz", metrics.HealthzHandler)
}

// POST /api/v1/events — receives a batch of audit events.
//
// The batch must be a JSON array; a body that is not one is the caller's
// error and gets a 400. Individual events that cannot be classified are
// silently skipped, since unrelated events share this channel.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var raws []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	resp := BatchResponse{
		Received: len(raws),
		Results:  []handler.Result{},
	}
	for _, raw := range raws {
		metrics.EventsReceived.Inc()

		var evt audit.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			metrics.EventsMalformed.Inc()
			continue
		}

		res, matched := s.disp.Dispatch(r.Context(), evt)
		if !matched {
			metrics.EventsIgnored.Inc()
			continue
		}
		metrics.EventsMatched.Inc()
		resp.Matched++
		resp.Results = append(resp.Results, res)
	}

	writeJSON(w, resp)
}

// GET /api/v1/count — returns the current counter value.
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	value, err := s.counters.Get(s.counterKey, s.field)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, CountResponse{
		Key:   s.counterKey,
		Count: strconv.FormatInt(value, 10),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
