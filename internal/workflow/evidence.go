package workflow

import (
	"sort"
	"sync"
)

// Confidence bands used by evidence summarization.
const (
	highConfidenceFloor   = 0.8
	mediumConfidenceFloor = 0.5
)

// EvidenceSummary aggregates collected evidence for presentation to the
// oracle. Summarization never discards raw items.
type EvidenceSummary struct {
	Total          int            `json:"total"`
	BySource       map[Source]int `json:"by_source"`
	HighConfidence int            `json:"high_confidence"`
	MedConfidence  int            `json:"medium_confidence"`
	LowConfidence  int            `json:"low_confidence"`

	// Top holds the highest-confidence items, best first.
	Top []Evidence `json:"top"`
}

// EvidenceStore is the append-only evidence collection for one session.
// Safe for concurrent use: the COLLECTING phase fans out to multiple data
// sources whose results arrive on separate goroutines.
type EvidenceStore struct {
	mu    sync.RWMutex
	items []Evidence
}

// NewEvidenceStore creates an empty store.
func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{}
}

// NewEvidenceStoreFrom rebuilds a store from checkpointed items.
func NewEvidenceStoreFrom(items []Evidence) *EvidenceStore {
	return &EvidenceStore{items: append([]Evidence(nil), items...)}
}

// Add appends one evidence item.
func (s *EvidenceStore) Add(ev Evidence) {
	s.mu.Lock()
	s.items = append(s.items, ev)
	s.mu.Unlock()
}

// AddBatch appends a batch of evidence items.
func (s *EvidenceStore) AddBatch(items []Evidence) {
	s.mu.Lock()
	s.items = append(s.items, items...)
	s.mu.Unlock()
}

// Len returns the number of stored items.
func (s *EvidenceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns a copy of all stored evidence in collection order.
func (s *EvidenceStore) Items() []Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Evidence(nil), s.items...)
}

// Summarize returns counts by source, a confidence histogram, and the top-N
// items by confidence.
func (s *EvidenceStore) Summarize(topN int) EvidenceSummary {
	s.mu.RLock()
	items := append([]Evidence(nil), s.items...)
	s.mu.RUnlock()

	summary := EvidenceSummary{
		Total:    len(items),
		BySource: make(map[Source]int),
	}
	for _, ev := range items {
		summary.BySource[ev.Source]++
		switch {
		case ev.Confidence >= highConfidenceFloor:
			summary.HighConfidence++
		case ev.Confidence >= mediumConfidenceFloor:
			summary.MedConfidence++
		default:
			summary.LowConfidence++
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Confidence > items[j].Confidence
	})
	if topN > 0 && topN < len(items) {
		items = items[:topN]
	}
	summary.Top = items

	return summary
}
