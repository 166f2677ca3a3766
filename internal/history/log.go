package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sync"

	"go.uber.org/zap"

	"mailprobe/internal/models"
)

const scratchFile = "temp_history.json"

// Log accumulates per-address verification events in a scratch file and
// commits them to the per-category history file once a verdict exists.
// A single mutex serializes all file IO; the files have exactly one
// writer per process.
type Log struct {
	dir string
	log *zap.Logger
	mu  sync.Mutex
}

func Open(dir string, log *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	return &Log{dir: dir, log: log}, nil
}

func (l *Log) scratchPath() string {
	return filepath.Join(l.dir, scratchFile)
}

func (l *Log) categoryPath(category string) string {
	return filepath.Join(l.dir, strings.ToLower(category)+".json")
}

// Record appends an event to the address's scratch history.
func (l *Log) Record(address, event string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	scratch := l.readFile(l.scratchPath())
	scratch[address] = append(scratch[address], models.HistoryEntry{
		Timestamp: time.Now(),
		Event:     event,
	})
	l.writeFile(l.scratchPath(), scratch)
}

// Commit moves the address's scratch entries into the category file and
// removes them from scratch. Committing with no scratch entries still
// records the verdict event so every persisted address has a history.
func (l *Log) Commit(address string, verdict models.Verdict, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	scratch := l.readFile(l.scratchPath())
	entries := scratch[address]
	entries = append(entries, models.HistoryEntry{
		Timestamp: time.Now(),
		Event:     fmt.Sprintf("verdict=%s reason=%s", verdict, reason),
	})

	catPath := l.categoryPath(string(verdict))
	committed := l.readFile(catPath)
	committed[address] = append(committed[address], entries...)
	l.writeFile(catPath, committed)

	delete(scratch, address)
	l.writeFile(l.scratchPath(), scratch)
}

// ForAddress returns the committed history of one address, searching all
// category files and then scratch.
func (l *Log) ForAddress(address string) []models.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, v := range []models.Verdict{models.VerdictValid, models.VerdictInvalid, models.VerdictRisky, models.VerdictCustom} {
		records := l.readFile(l.categoryPath(string(v)))
		if entries, ok := records[address]; ok {
			return entries
		}
	}
	return l.readFile(l.scratchPath())[address]
}

// ForCategory returns every address history committed under a verdict.
func (l *Log) ForCategory(verdict models.Verdict) map[string][]models.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readFile(l.categoryPath(string(verdict)))
}

func (l *Log) readFile(path string) map[string][]models.HistoryEntry {
	out := make(map[string][]models.HistoryEntry)
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		l.log.Warn("history file corrupt, treating as empty",
			zap.String("path", path), zap.Error(err))
		return make(map[string][]models.HistoryEntry)
	}
	return out
}

func (l *Log) writeFile(path string, records map[string][]models.HistoryEntry) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		l.log.Warn("history marshal failed", zap.Error(err))
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		l.log.Warn("history write failed", zap.String("path", path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		l.log.Warn("history rename failed", zap.String("path", path), zap.Error(err))
	}
}
