// Package alert implements the Alert Manager (dedup, cooldown, rate limit,
// formatting, delivery) and the Alert Store (bounded in-memory list with an
// atomic on-disk JSON snapshot).
package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"surveillance/pkg/types"
)

// snapshotDocument is the on-disk shape of the alert store's JSON snapshot.
type snapshotDocument struct {
	LastUpdated time.Time          `json:"lastUpdated"`
	TotalAlerts int                `json:"totalAlerts"`
	Alerts      []types.StoredAlert `json:"alerts"`
	Stats       types.AlertStats   `json:"stats"`
}

// Store is a single-writer, multi-reader bounded list of StoredAlerts plus
// its on-disk snapshot. Writes are mutex-serialized.
type Store struct {
	mu           sync.RWMutex
	alerts       []types.StoredAlert // newest first
	maxAlerts    int
	snapshotPath string
}

// NewStore builds an Alert Store bounded to maxAlerts entries, persisting
// snapshots to snapshotPath (empty disables persistence).
func NewStore(maxAlerts int, snapshotPath string) *Store {
	return &Store{maxAlerts: maxAlerts, snapshotPath: snapshotPath}
}

// Add prepends a normalized StoredAlert and truncates at maxAlerts. The
// on-disk snapshot is durable by the time Add returns (if a path is set).
func (s *Store) Add(sa types.StoredAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append([]types.StoredAlert{sa}, s.alerts...)
	if len(s.alerts) > s.maxAlerts {
		s.alerts = s.alerts[:s.maxAlerts]
	}
	return s.persistLocked()
}

// Recent returns up to n of the most recent alerts.
func (s *Store) Recent(n int) []types.StoredAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.alerts) {
		n = len(s.alerts)
	}
	out := make([]types.StoredAlert, n)
	copy(out, s.alerts[:n])
	return out
}

// Stats recomputes by-type, by-severity, last-24h, and last-7d counts.
func (s *Store) Stats() types.AlertStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() types.AlertStats {
	now := time.Now()
	stats := types.AlertStats{
		ByType:     make(map[types.AnomalyType]int),
		BySeverity: make(map[types.Severity]int),
		Total:      len(s.alerts),
	}
	for _, a := range s.alerts {
		stats.ByType[a.Type]++
		stats.BySeverity[a.Severity]++
		age := now.Sub(a.Timestamp)
		if age <= 24*time.Hour {
			stats.Last24h++
		}
		if age <= 7*24*time.Hour {
			stats.Last7d++
		}
	}
	return stats
}

// AlertsInLastHour counts alerts with timestamp within the past hour.
// Used by the health endpoint's readout.
func (s *Store) AlertsInLastHour() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var n int
	for _, a := range s.alerts {
		if now.Sub(a.Timestamp) <= time.Hour {
			n++
		}
	}
	return n
}

// persistLocked writes the snapshot atomically (temp file + rename).
// Caller must hold s.mu. A no-op when snapshotPath is empty.
func (s *Store) persistLocked() error {
	if s.snapshotPath == "" {
		return nil
	}

	doc := snapshotDocument{
		LastUpdated: time.Now(),
		TotalAlerts: len(s.alerts),
		Alerts:      s.alerts,
		Stats:       s.statsLocked(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal alert snapshot: %w", err)
	}

	if dir := filepath.Dir(s.snapshotPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create alert snapshot dir: %w", err)
		}
	}

	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write alert snapshot: %w", err)
	}
	return os.Rename(tmp, s.snapshotPath)
}

// Publish forces a snapshot write regardless of whether Add has been
// called since the last one. Intended for the orchestrator's periodic
// publish ticker.
func (s *Store) Publish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}
