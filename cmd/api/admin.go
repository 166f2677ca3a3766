package main

import (
	"net/http"
	"strings"
)

// summaryHandler reports persisted verdict counts.
func summaryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, eng.Summary())
}

// historyHandler returns the recorded events for one address, or every
// history committed under a verdict category.
func historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if category := r.URL.Query().Get("category"); category != "" {
		switch strings.ToLower(category) {
		case "valid", "invalid", "risky", "custom":
		default:
			http.Error(w, "Unknown category, expected valid, invalid, risky or custom", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, eng.HistoryByCategory(category))
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "Missing 'email' or 'category' parameter", http.StatusBadRequest)
		return
	}

	entries := eng.History(email)
	if entries == nil {
		http.Error(w, "No history for address", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// reloadHandler re-reads settings and domain lists without a restart.
func reloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := eng.ReloadSettings(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	bouncer.SetAccounts(svc.SMTPAccounts())
	writeJSON(w, http.StatusOK, map[string]string{"message": "Settings reloaded"})
}
