// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/telescope-obs/telescope/internal/store"
	"github.com/telescope-obs/telescope/internal/telemetry"
)

// traceShard groups spans by trace id. Capacity counts traces, not spans.
// Eviction removes the trace whose earliest retained span has the oldest
// start time, tracked with a min-heap. A heap entry goes stale when its
// trace is evicted or when a later span pushes the trace's earliest start
// backwards; stale entries are skipped on pop.
type traceShard struct {
	mu       sync.RWMutex
	capacity int

	byID      map[string]*traceEntry
	byService map[string][]string
	queue     evictQueue
	spans     int
	evictions int
}

type traceEntry struct {
	spans         []telemetry.TraceSpan
	earliestStart time.Time
	services      map[string]struct{}
}

type evictItem struct {
	traceID string
	start   time.Time
}

type evictQueue []evictItem

func (q evictQueue) Len() int           { return len(q) }
func (q evictQueue) Less(i, j int) bool { return q[i].start.Before(q[j].start) }
func (q evictQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *evictQueue) Push(x any)        { *q = append(*q, x.(evictItem)) }
func (q *evictQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func (s *traceShard) init(capacity int) {
	s.capacity = capacity
	s.byID = make(map[string]*traceEntry, capacity)
	s.byService = make(map[string][]string)
}

func (s *traceShard) add(span telemetry.TraceSpan) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[span.TraceID]
	if !ok {
		if len(s.byID) >= s.capacity {
			s.evictOldest()
		}
		entry = &traceEntry{services: make(map[string]struct{}, 1)}
		s.byID[span.TraceID] = entry
	}
	entry.spans = append(entry.spans, span)
	s.spans++

	if len(entry.spans) == 1 || span.StartTime.Before(entry.earliestStart) {
		entry.earliestStart = span.StartTime
		heap.Push(&s.queue, evictItem{traceID: span.TraceID, start: span.StartTime})
	}
	if _, seen := entry.services[span.ServiceName]; !seen {
		entry.services[span.ServiceName] = struct{}{}
		s.byService[span.ServiceName] = append(s.byService[span.ServiceName], span.TraceID)
	}
}

// evictOldest must run with the write lock held.
func (s *traceShard) evictOldest() {
	for s.queue.Len() > 0 {
		item := heap.Pop(&s.queue).(evictItem)
		entry, ok := s.byID[item.traceID]
		if !ok || !entry.earliestStart.Equal(item.start) {
			continue // stale heap entry
		}
		s.spans -= len(entry.spans)
		delete(s.byID, item.traceID)
		s.evictions++
		if s.evictions >= s.capacity {
			s.pruneServiceIndex()
			s.evictions = 0
		}
		return
	}
}

func (s *traceShard) pruneServiceIndex() {
	for name, ids := range s.byService {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := s.byID[id]; ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(s.byService, name)
			continue
		}
		s.byService[name] = kept
	}
}

func (s *traceShard) get(traceID string) (telemetry.Trace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byID[traceID]
	if !ok {
		return telemetry.Trace{}, false
	}
	spans := make([]telemetry.TraceSpan, len(entry.spans))
	copy(spans, entry.spans)
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartTime.Before(spans[j].StartTime)
	})
	return telemetry.Trace{TraceID: traceID, Spans: spans}, true
}

func (s *traceShard) query(f store.TraceFilter) []telemetry.TraceSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []telemetry.TraceSummary
	collect := func(traceID string, entry *traceEntry) {
		sum := telemetry.Trace{TraceID: traceID, Spans: entry.spans}.Summarize()
		if matchTrace(sum, f) {
			matched = append(matched, sum)
		}
	}

	if f.ServiceName != "" {
		// The bucket can carry a stale duplicate for a trace that was
		// evicted and later re-created by a late span.
		seen := make(map[string]struct{}, len(s.byService[f.ServiceName]))
		for _, traceID := range s.byService[f.ServiceName] {
			if _, dup := seen[traceID]; dup {
				continue
			}
			seen[traceID] = struct{}{}
			if entry, ok := s.byID[traceID]; ok {
				collect(traceID, entry)
			}
		}
	} else {
		for traceID, entry := range s.byID {
			collect(traceID, entry)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime.Equal(matched[j].StartTime) {
			return matched[i].TraceID < matched[j].TraceID
		}
		return matched[i].StartTime.After(matched[j].StartTime)
	})
	if limit := limitOf(f.Limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func matchTrace(sum telemetry.TraceSummary, f store.TraceFilter) bool {
	if f.MinDuration > 0 && sum.Duration < f.MinDuration {
		return false
	}
	if !f.Since.IsZero() && sum.StartTime.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && sum.StartTime.After(f.Until) {
		return false
	}
	return true
}

func (s *traceShard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *traceShard) spanLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spans
}
