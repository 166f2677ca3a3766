package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"mailprobe/internal/models"
)

const (
	// MaxEntries bounds the result cache; when full, the oldest 10% by
	// insertion order are dropped.
	MaxEntries = 1000

	// saveEvery controls how many insertions pass between snapshots.
	saveEvery = 10
)

// ResultCache memoizes final verdicts per address, in memory with a JSON
// snapshot on disk so verdicts survive restarts.
type ResultCache struct {
	log  *zap.Logger
	path string
	max  int

	mu      sync.Mutex
	entries map[string]models.VerificationResult
	order   []string
	adds    int
}

func NewResultCache(path string, log *zap.Logger) *ResultCache {
	c := &ResultCache{
		log:     log,
		path:    path,
		max:     MaxEntries,
		entries: make(map[string]models.VerificationResult),
	}
	c.load()
	return c
}

// Get returns the cached verdict for an address.
func (c *ResultCache) Get(address string) (models.VerificationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[address]
	return res, ok
}

// Set stores a verdict, evicting the oldest 10% of entries when the
// cache is full. Every tenth insertion snapshots the cache to disk.
func (c *ResultCache) Set(res models.VerificationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[res.Address]; !exists {
		if len(c.order) >= c.max {
			drop := c.max / 10
			if drop < 1 {
				drop = 1
			}
			for _, addr := range c.order[:drop] {
				delete(c.entries, addr)
			}
			c.order = append([]string(nil), c.order[drop:]...)
		}
		c.order = append(c.order, res.Address)
	}
	c.entries[res.Address] = res

	c.adds++
	if c.adds%saveEvery == 0 {
		c.saveLocked()
	}
}

// Len reports the number of cached verdicts.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save snapshots the cache to disk immediately.
func (c *ResultCache) Save() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveLocked()
}

type cacheSnapshot struct {
	Order   []string                             `json:"order"`
	Entries map[string]models.VerificationResult `json:"entries"`
}

func (c *ResultCache) saveLocked() {
	if c.path == "" {
		return
	}
	snap := cacheSnapshot{Order: c.order, Entries: c.entries}
	data, err := json.Marshal(snap)
	if err != nil {
		c.log.Warn("cache snapshot marshal failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.log.Warn("cache snapshot dir failed", zap.Error(err))
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.log.Warn("cache snapshot write failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.log.Warn("cache snapshot rename failed", zap.Error(err))
	}
}

func (c *ResultCache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var snap cacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn("cache snapshot corrupt, starting empty", zap.Error(err))
		return
	}
	if snap.Entries == nil {
		return
	}
	c.entries = snap.Entries
	// Rebuild insertion order defensively in case the snapshot and map
	// drifted apart.
	c.order = c.order[:0]
	for _, addr := range snap.Order {
		if _, ok := c.entries[addr]; ok {
			c.order = append(c.order, addr)
		}
	}
	for addr := range c.entries {
		found := false
		for _, o := range c.order {
			if o == addr {
				found = true
				break
			}
		}
		if !found {
			c.order = append(c.order, addr)
		}
	}
	c.log.Info("result cache loaded", zap.Int("entries", len(c.entries)))
}
