package main

import (
	"encoding/csv"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailprobe/internal/models"
	"mailprobe/internal/queue"
)

type uploadResponse struct {
	JobID     string `json:"job_id"`
	TotalRows int    `json:"total_rows"`
	Message   string `json:"message"`
}

// uploadHandler accepts a CSV of addresses and feeds them to the
// queue-backed workers: one job row in Postgres, one queue entry per
// address. This is the process-isolated execution mode.
func uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if jobDB == nil || jobQueue == nil {
		http.Error(w, "Bulk uploads need REDIS_ADDR and DB_URL configured", http.StatusServiceUnavailable)
		return
	}

	// Max 10MB
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "File too large or malformed", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing 'file' parameter in form data", http.StatusBadRequest)
		return
	}
	defer file.Close()

	method := r.FormValue("method")
	if method == "" {
		method = models.MethodAuto
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	var emails []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "Invalid CSV format", http.StatusBadRequest)
			return
		}
		// Address in the first column; a header row fails the syntax
		// check downstream and classifies as invalid, which is harmless.
		if len(record) > 0 && record[0] != "" {
			emails = append(emails, record[0])
		}
	}
	if len(emails) == 0 {
		http.Error(w, "CSV is empty", http.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()
	ctx := r.Context()

	if err := jobDB.CreateJob(ctx, jobID, len(emails)); err != nil {
		logger.Error("job creation failed", zap.Error(err))
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	for _, email := range emails {
		if err := jobQueue.Push(ctx, queue.Task{JobID: jobID, Email: email, Method: method}); err != nil {
			logger.Error("task enqueue failed",
				zap.String("job_id", jobID),
				zap.String("email", email),
				zap.Error(err))
			http.Error(w, "Failed to enqueue tasks", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		JobID:     jobID,
		TotalRows: len(emails),
		Message:   "Job created successfully. Processing started.",
	})
}
