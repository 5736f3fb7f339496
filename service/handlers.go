package service

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// taskSummary is one entry of the /tasks listing
type taskSummary struct {
	ID     string          `json:"id"`
	Events int             `json:"events"`
	Status types.Lifecycle `json:"status,omitempty"`
	Result types.Outcome   `json:"result,omitempty"`
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

func (s *Service) handleTasks(w http.ResponseWriter, r *http.Request) {
	ids := s.cfg.Store.TaskIDs()
	out := make([]taskSummary, 0, len(ids))
	for _, id := range ids {
		events, err := s.cfg.Store.EventsFor(id)
		if err != nil {
			s.log.Error("Failed to read status events", "task", id, "err", err)
			http.Error(w, "failed to read status events", http.StatusInternalServerError)
			return
		}
		summary := taskSummary{ID: id.String(), Events: len(events)}
		if n := len(events); n > 0 {
			summary.Status = events[n-1].Status
			summary.Result = events[n-1].Result
		}
		out = append(out, summary)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleEvents returns the events of one task. Task ids contain slashes, so
// clients must path-escape them. Captured output is omitted unless output=true.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	name, err := url.PathUnescape(raw)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	var found *types.TaskID
	for _, id := range s.cfg.Store.TaskIDs() {
		if id.String() == name {
			found = &id
			break
		}
	}
	if found == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	events, err := s.cfg.Store.EventsFor(*found)
	if err != nil {
		s.log.Error("Failed to read status events", "task", *found, "err", err)
		http.Error(w, "failed to read status events", http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("output") != "true" {
		for i := range events {
			events[i] = events[i].WithoutOutput()
		}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "err", err)
	}
}
