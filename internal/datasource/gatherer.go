package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsprobe/opsprobe/internal/audit"
	"github.com/opsprobe/opsprobe/internal/cache"
	"github.com/opsprobe/opsprobe/internal/metrics"
	"github.com/opsprobe/opsprobe/internal/workflow"
)

// DefaultSourceTimeout bounds each collector call independently so one slow
// source cannot stall the whole collection round.
const DefaultSourceTimeout = 30 * time.Second

// Gatherer fans evidence collection out to all requested sources and merges
// partial results. It implements workflow.Gatherer.
type Gatherer struct {
	registry      *Registry
	cache         cache.Cache
	auditLog      audit.Logger
	sourceTimeout time.Duration
	cacheTTL      time.Duration
}

// GathererOption configures a Gatherer.
type GathererOption func(*Gatherer)

// WithSourceTimeout overrides the per-source timeout.
func WithSourceTimeout(d time.Duration) GathererOption {
	return func(g *Gatherer) { g.sourceTimeout = d }
}

// WithCacheTTL overrides how long collected batches are reused.
func WithCacheTTL(d time.Duration) GathererOption {
	return func(g *Gatherer) { g.cacheTTL = d }
}

// NewGatherer creates a gatherer over the registry. c and auditLog may be nil.
func NewGatherer(registry *Registry, c cache.Cache, auditLog audit.Logger, opts ...GathererOption) *Gatherer {
	if c == nil {
		c = cache.Noop()
	}
	g := &Gatherer{
		registry:      registry,
		cache:         c,
		auditLog:      auditLog,
		sourceTimeout: DefaultSourceTimeout,
		cacheTTL:      time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ workflow.Gatherer = (*Gatherer)(nil)

// Gather collects evidence from every source the session is missing data for.
// A failing source degrades the round instead of aborting it: its error is
// audited and the remaining sources' evidence is still returned. The returned
// error is non-nil only when every source failed.
func (g *Gatherer) Gather(ctx context.Context, s *workflow.Session, missing []string) ([]workflow.Evidence, error) {
	sources := g.registry.resolveSources(missing)
	if len(sources) == 0 {
		return nil, nil
	}

	q := Query{
		SessionID: s.SessionID,
		Category:  s.Category,
		Text:      s.InitialQuery,
		Iteration: s.Iteration,
	}

	var (
		mu       sync.Mutex
		merged   []workflow.Evidence
		failures int
		lastErr  error
	)

	grp, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		grp.Go(func() error {
			items, err := g.collectOne(gctx, src, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				lastErr = err
				return nil // degraded, not fatal
			}
			merged = append(merged, items...)
			return nil
		})
	}
	_ = grp.Wait()

	if failures == len(sources) && lastErr != nil {
		return merged, fmt.Errorf("all %d source(s) failed: %w", len(sources), lastErr)
	}
	return merged, nil
}

func (g *Gatherer) collectOne(ctx context.Context, src workflow.Source, q Query) ([]workflow.Evidence, error) {
	key := cacheKey(src, q)
	if cached, ok := g.cache.Get(ctx, key); ok {
		if items, ok := cached.([]workflow.Evidence); ok {
			return items, nil
		}
	}

	collector, ok := g.registry.Get(src)
	if !ok {
		return nil, fmt.Errorf("no collector registered for source %q", src)
	}

	cctx, cancel := context.WithTimeout(ctx, g.sourceTimeout)
	defer cancel()

	start := time.Now()
	items, err := collector.Collect(cctx, q)
	metrics.DataSourceDuration.WithLabelValues(string(src)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DataSourceCalls.WithLabelValues(string(src), "error").Inc()
		if g.auditLog != nil {
			_ = g.auditLog.Log(ctx, audit.NewEvent(audit.EventSourceDegraded).
				WithSession(q.SessionID).
				WithSource(string(src)).
				WithError(err, "collect_error").
				WithDescription(fmt.Sprintf("Source %s degraded", src)))
		}
		return nil, err
	}
	metrics.DataSourceCalls.WithLabelValues(string(src), "ok").Inc()

	if g.auditLog != nil {
		_ = g.auditLog.Log(ctx, audit.NewEvent(audit.EventEvidenceCollected).
			WithSession(q.SessionID).
			WithSource(string(src)).
			WithResult(audit.ResultSuccess).
			WithDescription(fmt.Sprintf("Collected %d evidence item(s) from %s", len(items), src)))
	}

	g.cache.Set(ctx, key, items, g.cacheTTL)
	return items, nil
}
