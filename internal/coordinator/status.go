package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

// dispatchTimeout bounds a dispatch made through the status surface.
const dispatchTimeout = 10 * time.Second

// StatusHandler serves the coordinator's HTTP status surface:
//
//	GET  /health    liveness, always 200
//	GET  /workers   registry contents and discovery state
//	POST /dispatch  {"target","command"} sent through the dispatcher
//	GET  /results   recent results, ?client_id= and ?limit= optional
//
// /results answers 404 when no history store was configured.
func (c *Coordinator) StatusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/workers", c.handleWorkers)
	mux.HandleFunc("/dispatch", c.handleDispatch)
	mux.HandleFunc("/results", c.handleResults)
	return mux
}

func (c *Coordinator) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := cluster.WorkersResponse{
		Workers: c.registry.Registrations(),
		Ready:   c.registry.Ready(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (c *Coordinator) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dispatchTimeout)
	defer cancel()

	sent, err := c.dispatcher.Send(ctx, req.Target, req.Command)
	switch {
	case errors.Is(err, ErrNoTarget), errors.Is(err, ErrEmptyCommand):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrNoWorkers):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil && len(sent) == 0:
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cluster.DispatchResponse{SentTo: sent})
}

func (c *Coordinator) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if c.history == nil {
		http.Error(w, "result history disabled", http.StatusNotFound)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	stats := c.history.Stats()
	resp := cluster.ResultsResponse{
		Results: c.history.Latest(r.URL.Query().Get("client_id"), limit),
		Total:   stats.Total,
		Failed:  stats.Failed,
	}
	if resp.Results == nil {
		resp.Results = []cluster.CommandResult{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
