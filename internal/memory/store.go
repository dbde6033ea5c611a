package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"cardscan/internal/logging"
)

var log = logging.For("memory")

// Stats counts identification outcomes for a set.
type Stats struct {
	AutoMatches    int `json:"auto_matches"`
	ManualEntries  int `json:"manual_entries"`
	TotalProcessed int `json:"total_processed"`
}

// AutoMatchRate returns the fraction of processed cards that were matched
// without manual entry.
func (s Stats) AutoMatchRate() float64 {
	if s.TotalProcessed == 0 {
		return 0
	}
	return float64(s.AutoMatches) / float64(s.TotalProcessed)
}

// data is the serialized learning structure. A hash may appear in both
// confirmed and blacklist at once, for different identifiers: positively
// linked to one card and negatively to another, reflecting correction
// history.
type data struct {
	Confirmed       map[string]string   `json:"confirmed_matches"`
	Blacklist       map[string][]string `json:"blacklist"`
	ConfidenceBoost map[string]float64  `json:"confidence_boost"`
	Stats           Stats               `json:"stats"`
}

func emptyData() data {
	return data{
		Confirmed:       make(map[string]string),
		Blacklist:       make(map[string][]string),
		ConfidenceBoost: make(map[string]float64),
	}
}

// Store owns the learning memory for one set. All mutations are
// write-through: the file is rewritten after every confirmed or rejected
// decision, so a crash loses at most the in-flight one. Persistence
// failures degrade to in-memory-only operation; they are logged, never
// fatal.
type Store struct {
	mu   sync.RWMutex
	path string
	lock *flock.Flock

	data data

	// proximity is the Hamming-distance fraction within which two hashes
	// are treated as the same physical card for blacklist checks. The
	// system ran at 0.20 historically and at 0.30 later; both remain valid
	// settings.
	proximity float64
}

// Open loads (or initializes) the learning store for setCode under dir.
func Open(dir, setCode string, proximityFrac float64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	path := filepath.Join(dir, "learning_"+setCode+".json")
	s := &Store{
		path:      path,
		lock:      flock.New(path + ".lock"),
		data:      emptyData(),
		proximity: proximityFrac,
	}
	s.load()
	return s, nil
}

// maxProximityDistance converts the proximity fraction to a bit distance.
func (s *Store) maxProximityDistance() int {
	return int(s.proximity * HashBits)
}

// Lookup finds the closest confirmed hash and returns its identifier and
// similarity. ok is false when nothing has been confirmed yet. The caller
// applies its own acceptance threshold.
func (s *Store) Lookup(h Hash) (id string, similarity float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bestDist := HashBits + 1
	for key, candidate := range s.data.Confirmed {
		stored, err := ParseHash(key)
		if err != nil {
			continue
		}
		if d := h.Distance(stored); d < bestDist {
			bestDist = d
			id = candidate
		}
	}
	if bestDist > HashBits {
		return "", 0, false
	}
	return id, 1.0 - float64(bestDist)/float64(HashBits), true
}

// IsBlacklisted reports whether id was rejected for any stored hash within
// the proximity threshold of h.
func (s *Store) IsBlacklisted(h Hash, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := s.maxProximityDistance()
	for key, rejected := range s.data.Blacklist {
		stored, err := ParseHash(key)
		if err != nil {
			continue
		}
		if h.Distance(stored) >= limit {
			continue
		}
		for _, r := range rejected {
			if r == id {
				return true
			}
		}
	}
	return false
}

// Confirm records a positive association. Last write wins for an exact
// hash value. The per-card confidence boost is accumulated for statistics
// but deliberately never applied to match ranking.
func (s *Store) Confirm(h Hash, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Confirmed[h.String()] = id
	s.data.ConfidenceBoost[id] += 0.05
	s.flushLocked()
}

// Reject records a negative association: id must never be suggested again
// for hashes near h.
func (s *Store) Reject(h Hash, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := h.String()
	for _, existing := range s.data.Blacklist[key] {
		if existing == id {
			return
		}
	}
	s.data.Blacklist[key] = append(s.data.Blacklist[key], id)
	s.flushLocked()
}

// Forget removes a confirmed association for the exact hash, used when
// correcting earlier mistakes. Returns true if one existed.
func (s *Store) Forget(h Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := h.String()
	if _, ok := s.data.Confirmed[key]; !ok {
		return false
	}
	delete(s.data.Confirmed, key)
	s.flushLocked()
	return true
}

// RecordAuto counts an automatic (memory or matcher) identification.
func (s *Store) RecordAuto() { s.recordOutcome(true) }

// RecordManual counts a manually-entered identification.
func (s *Store) RecordManual() { s.recordOutcome(false) }

func (s *Store) recordOutcome(auto bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Stats.TotalProcessed++
	if auto {
		s.data.Stats.AutoMatches++
	} else {
		s.data.Stats.ManualEntries++
	}
	s.flushLocked()
}

// Stats returns a copy of the outcome counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Stats
}

// Boost returns the accumulated confidence boost for an identifier.
// Reserved signal: reported in statistics, never used in ranking.
func (s *Store) Boost(id string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ConfidenceBoost[id]
}

// ConfirmedCount returns the number of learned associations.
func (s *Store) ConfirmedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Confirmed)
}

// BlacklistCount returns the number of stored rejections.
func (s *Store) BlacklistCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rejected := range s.data.Blacklist {
		n += len(rejected)
	}
	return n
}

// Clear drops all learned state and rewrites the file.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = emptyData()
	s.flushLocked()
}

// load reads the store file under the cross-process lock. A missing file is
// a fresh store; a corrupt one is logged and replaced on next flush.
func (s *Store) load() {
	if err := s.lock.Lock(); err != nil {
		log.Warn("could not acquire memory lock, continuing unlocked", "error", err)
	} else {
		defer func() { _ = s.lock.Unlock() }()
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("could not read learning data", "file", s.path, "error", err)
		}
		return
	}

	loaded := emptyData()
	if err := json.Unmarshal(raw, &loaded); err != nil {
		log.Warn("corrupt learning data, starting fresh", "file", s.path, "error", err)
		return
	}
	if loaded.Confirmed == nil {
		loaded.Confirmed = make(map[string]string)
	}
	if loaded.Blacklist == nil {
		loaded.Blacklist = make(map[string][]string)
	}
	if loaded.ConfidenceBoost == nil {
		loaded.ConfidenceBoost = make(map[string]float64)
	}
	s.data = loaded

	log.Info("loaded learning database",
		"file", s.path,
		"learned", len(s.data.Confirmed),
		"rejections", s.blacklistCountLocked(),
		"auto_match_rate", fmt.Sprintf("%.1f%%", s.data.Stats.AutoMatchRate()*100))
}

// blacklistCountLocked counts rejections without taking the mutex; only for
// use from load, before the store is shared.
func (s *Store) blacklistCountLocked() int {
	n := 0
	for _, rejected := range s.data.Blacklist {
		n += len(rejected)
	}
	return n
}

// flushLocked rewrites the store file. Callers hold s.mu.
func (s *Store) flushLocked() {
	if err := s.lock.Lock(); err == nil {
		defer func() { _ = s.lock.Unlock() }()
	}

	raw, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		log.Warn("could not encode learning data", "error", err)
		return
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		log.Warn("could not save learning data", "file", s.path, "error", err)
	}
}
