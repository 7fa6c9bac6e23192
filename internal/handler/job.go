package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billsync/internal/worker"
)

// GetJobHandler reports an execution job's progress and, once
// finished, its per-row results.
func GetJobHandler(registry *worker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		job, ok := registry.Get(chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(job); err != nil {
			slog.Error("encode response failed", "error", err)
		}
	}
}
