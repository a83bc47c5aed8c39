// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"sort"
	"sync"

	"github.com/telescope-obs/telescope/internal/store"
	"github.com/telescope-obs/telescope/internal/telemetry"
)

// metricShard mirrors logShard for metric samples, indexed by metric name and
// service name.
type metricShard struct {
	mu       sync.RWMutex
	capacity int

	byID map[uint64]telemetry.MetricSample
	ring []uint64
	head int
	size int

	byName    map[string][]uint64
	byService map[string][]uint64
	evictions int
}

func (s *metricShard) init(capacity int) {
	s.capacity = capacity
	s.byID = make(map[uint64]telemetry.MetricSample, capacity)
	s.ring = make([]uint64, capacity)
	s.byName = make(map[string][]uint64)
	s.byService = make(map[string][]uint64)
}

func (s *metricShard) add(sample telemetry.MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == s.capacity {
		delete(s.byID, s.ring[s.head])
		s.head = (s.head + 1) % s.capacity
		s.size--
		s.evictions++
	}
	s.ring[(s.head+s.size)%s.capacity] = sample.ID
	s.size++
	s.byID[sample.ID] = sample

	s.byName[sample.Name] = append(s.byName[sample.Name], sample.ID)
	s.byService[sample.ServiceName] = append(s.byService[sample.ServiceName], sample.ID)
	if s.evictions >= s.capacity {
		pruneIndex(s.byName, s.byID)
		pruneIndex(s.byService, s.byID)
		s.evictions = 0
	}
}

func (s *metricShard) query(f store.MetricFilter) []telemetry.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []telemetry.MetricSample
	collect := func(id uint64) {
		sample, ok := s.byID[id]
		if !ok {
			return
		}
		if matchMetric(sample, f) {
			matched = append(matched, sample)
		}
	}

	switch {
	case f.Name != "":
		for _, id := range s.byName[f.Name] {
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

func matchMetric(sample telemetry.MetricSample, f store.MetricFilter) bool {
	if f.Name != "" && sample.Name != f.Name {
		return false
	}
	if f.ServiceName != "" && sample.ServiceName != f.ServiceName {
		return false
	}
	if !f.Since.IsZero() && sample.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && sample.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func (s *metricShard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
