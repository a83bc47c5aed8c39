// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"sort"
	"sync"

	"github.com/telescope-obs/telescope/internal/store"
	"github.com/telescope-obs/telescope/internal/telemetry"
)

// logShard holds log records in a fixed-size ring ordered by insertion,
// indexed by service name and trace id.
type logShard struct {
	mu       sync.RWMutex
	capacity int

	byID map[uint64]telemetry.LogRecord
	ring []uint64
	head int
	size int

	byService map[string][]uint64
	byTrace   map[string][]uint64
	evictions int
}

func (s *logShard) init(capacity int) {
	s.capacity = capacity
	s.byID = make(map[uint64]telemetry.LogRecord, capacity)
	s.ring = make([]uint64, capacity)
	s.byService = make(map[string][]uint64)
	s.byTrace = make(map[string][]uint64)
}

func (s *logShard) add(rec telemetry.LogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == s.capacity {
		delete(s.byID, s.ring[s.head])
		s.head = (s.head + 1) % s.capacity
		s.size--
		s.evictions++
	}
	s.ring[(s.head+s.size)%s.capacity] = rec.ID
	s.size++
	s.byID[rec.ID] = rec

	s.byService[rec.ServiceName] = append(s.byService[rec.ServiceName], rec.ID)
	if rec.TraceID != "" {
		s.byTrace[rec.TraceID] = append(s.byTrace[rec.TraceID], rec.ID)
	}
	if s.evictions >= s.capacity {
		pruneIndex(s.byService, s.byID)
		pruneIndex(s.byTrace, s.byID)
		s.evictions = 0
	}
}

func (s *logShard) query(f store.LogFilter) []telemetry.LogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []telemetry.LogRecord
	collect := func(id uint64) {
		rec, ok := s.byID[id]
		if !ok {
			return // stale index reference, already evicted
		}
		if matchLog(rec, f) {
			matched = append(matched, rec)
		}
	}

	switch {
	case f.TraceID != "":
		for _, id := range s.byTrace[f.TraceID] {
			collect(id)
		}
	case f.ServiceName != "":
		for _, id := range s.byService[f.ServiceName] {
			collect(id)
		}
	default:
		for i := 0; i < s.size; i++ {
			collect(s.ring[(s.head+i)%s.capacity])
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit := limitOf(f.Limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func matchLog(rec telemetry.LogRecord, f store.LogFilter) bool {
	if f.ServiceName != "" && rec.ServiceName != f.ServiceName {
		return false
	}
	if f.TraceID != "" && rec.TraceID != f.TraceID {
		return false
	}
	if f.MinSeverity != 0 && rec.Severity < f.MinSeverity {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func (s *logShard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
