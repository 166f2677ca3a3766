package main

import (
	"context"
	"encoding/json"
	"net/http"

	"mailprobe/internal/models"
)

type batchRequest struct {
	Addresses []string `json:"addresses"`
	Method    string   `json:"method"`
}

type batchResponse struct {
	TaskID  string `json:"task_id"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// batchHandler starts an in-process batch over the worker pool.
func batchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed JSON body", http.StatusBadRequest)
		return
	}
	if len(req.Addresses) == 0 {
		http.Error(w, "No addresses provided", http.StatusBadRequest)
		return
	}
	if req.Method == "" {
		req.Method = models.MethodAuto
	}

	// Background context: the batch must outlive this request.
	id, err := orch.StartBatch(context.Background(), req.Addresses, req.Method)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, batchResponse{
		TaskID:  id,
		Total:   len(req.Addresses),
		Message: "Batch accepted. Poll /batch/status for progress.",
	})
}

func taskStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
		return
	}

	progress, ok := orch.Status(id)
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func taskResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
		return
	}

	results, ok := orch.Results(id)
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
