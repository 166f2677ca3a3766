package main

import (
	"net/http"

	"go.uber.org/zap"
)

// jobResultsHandler returns the stored results of a queue-backed job.
func jobResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if jobDB == nil {
		http.Error(w, "Job tracking needs DB_URL configured", http.StatusServiceUnavailable)
		return
	}

	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
		return
	}

	rows, err := jobDB.JobResults(r.Context(), jobID)
	if err != nil {
		logger.Error("results fetch failed", zap.String("job_id", jobID), zap.Error(err))
		http.Error(w, "Failed to fetch results", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
