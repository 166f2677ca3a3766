package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailprobe/internal/models"
)

var categories = []string{"Valid", "Invalid", "Risky", "Custom"}

var header = []string{"Email", "Provider", "Timestamp", "Reason", "Method"}

// Record is what the index remembers about a persisted address.
type Record struct {
	Category string
	Provider string
}

// Store appends verdicts to per-category CSV files. Writes are
// idempotent: an address already present in any category file is never
// written again.
type Store struct {
	dir string
	log *zap.Logger

	mu    sync.Mutex
	index map[string]Record
}

// Open loads the four category files from dir, creating them with
// headers when absent.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("results dir: %w", err)
	}

	s := &Store{dir: dir, log: log, index: make(map[string]Record)}
	for _, cat := range categories {
		if err := s.loadCategory(cat); err != nil {
			return nil, err
		}
	}
	log.Info("result store opened",
		zap.String("dir", dir),
		zap.Int("known_addresses", len(s.index)))
	return s, nil
}

func (s *Store) path(category string) string {
	return filepath.Join(s.dir, category+".csv")
}

func (s *Store) loadCategory(category string) error {
	f, err := os.Open(s.path(category))
	if os.IsNotExist(err) {
		return s.writeHeader(category)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", category, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read %s: %w", category, err)
	}
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		addr := strings.ToLower(strings.TrimSpace(row[0]))
		if addr == "" {
			continue
		}
		rec := Record{Category: category}
		if len(row) > 1 {
			rec.Provider = strings.TrimSpace(row[1])
		}
		s.index[addr] = rec
	}
	return nil
}

func (s *Store) writeHeader(category string) error {
	f, err := os.Create(s.path(category))
	if err != nil {
		return fmt.Errorf("create %s: %w", category, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Append persists a result into its category file. Returns false when
// the address is already persisted somewhere.
func (s *Store) Append(res models.VerificationResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := strings.ToLower(strings.TrimSpace(res.Address))
	if _, exists := s.index[addr]; exists {
		return false, nil
	}

	category := res.Verdict.Category()
	f, err := os.OpenFile(s.path(category), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("append %s: %w", category, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := []string{
		res.Address,
		res.Provider,
		res.Timestamp.Format(time.RFC3339),
		res.Reason,
		res.Method,
	}
	if err := w.Write(row); err != nil {
		return false, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return false, err
	}

	s.index[addr] = Record{Category: category, Provider: res.Provider}
	return true, nil
}

// Lookup reports the category an address was persisted under, if any.
func (s *Store) Lookup(address string) (string, bool) {
	rec, ok := s.Record(address)
	return rec.Category, ok
}

// Record reports everything the index holds about an address.
func (s *Store) Record(address string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.index[strings.ToLower(strings.TrimSpace(address))]
	return rec, ok
}

// Summary counts persisted addresses per verdict.
func (s *Store) Summary() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]int{"valid": 0, "invalid": 0, "risky": 0, "custom": 0}
	for _, rec := range s.index {
		out[strings.ToLower(rec.Category)]++
	}
	return out
}
