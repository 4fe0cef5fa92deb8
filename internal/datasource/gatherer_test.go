package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsprobe/opsprobe/internal/cache"
	"github.com/opsprobe/opsprobe/internal/workflow"
)

// fakeCollector produces scripted evidence or errors for one source.
type fakeCollector struct {
	source workflow.Source
	items  []workflow.Evidence
	err    error
	delay  time.Duration
	calls  atomic.Int64
}

func (f *fakeCollector) Source() workflow.Source { return f.source }

func (f *fakeCollector) Collect(ctx context.Context, q Query) ([]workflow.Evidence, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func testSession() *workflow.Session {
	s := workflow.NewSession("s-1", workflow.TypeIncident, "checkout latency")
	s.Category = "latency"
	s.Iteration = 1
	return s
}

func TestGatherMergesAllSources(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{source: workflow.SourceMetrics, items: []workflow.Evidence{
		{ID: "m-1", Source: workflow.SourceMetrics, Confidence: 0.7},
	}})
	reg.Register(&fakeCollector{source: workflow.SourceAlerts, items: []workflow.Evidence{
		{ID: "a-1", Source: workflow.SourceAlerts, Confidence: 0.9},
		{ID: "a-2", Source: workflow.SourceAlerts, Confidence: 0.8},
	}})

	g := NewGatherer(reg, nil, nil)
	items, err := g.Gather(context.Background(), testSession(), []string{"metrics", "alerts"})
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestGatherOneSourceFailingIsPartial(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{source: workflow.SourceMetrics, items: []workflow.Evidence{
		{ID: "m-1", Source: workflow.SourceMetrics, Confidence: 0.7},
	}})
	reg.Register(&fakeCollector{source: workflow.SourceLogs, err: errors.New("loki down")})

	g := NewGatherer(reg, nil, nil)
	items, err := g.Gather(context.Background(), testSession(), []string{"metrics", "logs"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "m-1", items[0].ID)
}

func TestGatherAllSourcesFailingIsError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{source: workflow.SourceMetrics, err: errors.New("prometheus down")})
	reg.Register(&fakeCollector{source: workflow.SourceLogs, err: errors.New("loki down")})

	g := NewGatherer(reg, nil, nil)
	items, err := g.Gather(context.Background(), testSession(), nil)
	assert.Error(t, err)
	assert.Empty(t, items)
}

func TestGatherSlowSourceTimesOutOthersSucceed(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{source: workflow.SourceAlerts, items: []workflow.Evidence{
		{ID: "a-1", Source: workflow.SourceAlerts, Confidence: 0.9},
	}})
	reg.Register(&fakeCollector{source: workflow.SourceLogs, delay: time.Second})

	g := NewGatherer(reg, nil, nil, WithSourceTimeout(20*time.Millisecond))
	items, err := g.Gather(context.Background(), testSession(), nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a-1", items[0].ID)
}

func TestGatherUnknownMissingTypesFallBackToAllSources(t *testing.T) {
	metrics := &fakeCollector{source: workflow.SourceMetrics, items: []workflow.Evidence{
		{ID: "m-1", Source: workflow.SourceMetrics, Confidence: 0.7},
	}}
	reg := NewRegistry()
	reg.Register(metrics)

	g := NewGatherer(reg, nil, nil)
	items, err := g.Gather(context.Background(), testSession(), []string{"traces", "profiles"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int64(1), metrics.calls.Load())
}

func TestGatherEmptyRegistry(t *testing.T) {
	g := NewGatherer(NewRegistry(), nil, nil)
	items, err := g.Gather(context.Background(), testSession(), nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGatherUsesCacheWithinTTL(t *testing.T) {
	metrics := &fakeCollector{source: workflow.SourceMetrics, items: []workflow.Evidence{
		{ID: "m-1", Source: workflow.SourceMetrics, Confidence: 0.7},
	}}
	reg := NewRegistry()
	reg.Register(metrics)

	c := cache.New(time.Minute)
	defer c.Close()

	g := NewGatherer(reg, c, nil, WithCacheTTL(time.Minute))
	s := testSession()

	first, err := g.Gather(context.Background(), s, []string{"metrics"})
	require.NoError(t, err)
	second, err := g.Gather(context.Background(), s, []string{"metrics"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), metrics.calls.Load())
}

// iterCollector tags its evidence with the iteration it was asked for.
type iterCollector struct {
	calls atomic.Int64
}

func (c *iterCollector) Source() workflow.Source { return workflow.SourceLogs }

func (c *iterCollector) Collect(ctx context.Context, q Query) ([]workflow.Evidence, error) {
	c.calls.Add(1)
	return []workflow.Evidence{
		{ID: fmt.Sprintf("iter-%d", q.Iteration), Source: workflow.SourceLogs, Confidence: 0.6},
	}, nil
}

// A later iteration must reach the collector with its widened query, not be
// served the first round's cached batch.
func TestGatherCacheIsPerIteration(t *testing.T) {
	logs := &iterCollector{}
	reg := NewRegistry()
	reg.Register(logs)

	c := cache.New(time.Minute)
	defer c.Close()

	g := NewGatherer(reg, c, nil, WithCacheTTL(time.Minute))
	s := testSession()

	first, err := g.Gather(context.Background(), s, []string{"logs"})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "iter-1", first[0].ID)

	s.Iteration = 2
	second, err := g.Gather(context.Background(), s, []string{"logs"})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "iter-2", second[0].ID)
	assert.Equal(t, int64(2), logs.calls.Load())
}

func TestRegistryResolveSources(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{source: workflow.SourceMetrics})
	reg.Register(&fakeCollector{source: workflow.SourceLogs})

	assert.ElementsMatch(t,
		[]workflow.Source{workflow.SourceMetrics, workflow.SourceLogs},
		reg.resolveSources(nil))

	assert.Equal(t,
		[]workflow.Source{workflow.SourceLogs},
		reg.resolveSources([]string{"logs"}))

	// Duplicates collapse.
	assert.Equal(t,
		[]workflow.Source{workflow.SourceLogs},
		reg.resolveSources([]string{"logs", "logs"}))
}
