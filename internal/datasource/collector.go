package datasource

// Package datasource collects evidence from the monitoring systems an
// investigation draws on: Prometheus for metrics, Loki for logs, and
// Alertmanager for active alerts. Collectors are independent and fallible;
// the gatherer fans out to all requested collectors and merges whatever
// partial results come back.

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opsprobe/opsprobe/internal/workflow"
)

// Query is the collection request handed to every collector.
type Query struct {
	SessionID string
	Category  string
	// Text is the operator's original question or signal description.
	Text string
	// Iteration lets collectors widen their search on later rounds.
	Iteration int
}

// Collector gathers evidence from one data source.
type Collector interface {
	Source() workflow.Source
	Collect(ctx context.Context, q Query) ([]workflow.Evidence, error)
}

// Registry holds the configured collectors keyed by source.
type Registry struct {
	mu         sync.RWMutex
	collectors map[workflow.Source]Collector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[workflow.Source]Collector)}
}

// Register adds a collector, replacing any prior collector for its source.
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.Source()] = c
}

// Get returns the collector for a source.
func (r *Registry) Get(src workflow.Source) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[src]
	return c, ok
}

// Sources returns the registered sources in stable order.
func (r *Registry) Sources() []workflow.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]workflow.Source, 0, len(r.collectors))
	for src := range r.collectors {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// resolveSources maps the oracle's missing-data-type strings onto registered
// sources. Unknown names are skipped; an empty request means all sources.
func (r *Registry) resolveSources(missing []string) []workflow.Source {
	if len(missing) == 0 {
		return r.Sources()
	}
	seen := make(map[workflow.Source]bool)
	var out []workflow.Source
	for _, name := range missing {
		src := workflow.Source(name)
		if _, ok := r.Get(src); !ok || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	if len(out) == 0 {
		// The oracle asked only for data types nothing can provide; fall back
		// to everything registered rather than collecting nothing.
		return r.Sources()
	}
	return out
}

// cacheKey includes the iteration so later rounds reach the collectors with
// their widened queries instead of replaying the first round's batch.
func cacheKey(src workflow.Source, q Query) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%d", src, q.Category, q.Text, q.Iteration)
}
