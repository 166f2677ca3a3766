package main

import (
	"encoding/json"
	"net/http"
)

type bounceStartRequest struct {
	Addresses []string `json:"addresses"`
}

type bounceStartResponse struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// bounceStartHandler mails every address and records the batch; results
// come later from /bounce/results once the inboxes have been polled.
func bounceStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bounceStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed JSON body", http.StatusBadRequest)
		return
	}
	if len(req.Addresses) == 0 {
		http.Error(w, "No addresses provided", http.StatusBadRequest)
		return
	}

	id, err := bouncer.StartBatch(req.Addresses)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, bounceStartResponse{
		BatchID: id,
		Total:   len(req.Addresses),
		Message: "Verification messages sent. Poll /bounce/results after the bounce window.",
	})
}

func bounceResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
		return
	}

	outcomes, err := bouncer.ProcessResponses(id)
	if err != nil {
		http.Error(w, "Batch not found", http.StatusNotFound)
		return
	}

	// Definitive bounce verdicts join the persisted state like any probe
	// result, so they count in summaries and are reused on re-verify.
	results := make(map[string]interface{}, len(outcomes))
	for addr, out := range outcomes {
		if out.Definitive() {
			results[addr] = eng.RecordOutcome(r.Context(), addr, out)
		} else {
			results[addr] = out
		}
	}
	writeJSON(w, http.StatusOK, results)
}
