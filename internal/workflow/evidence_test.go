package workflow

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvidenceStoreSummarize(t *testing.T) {
	store := NewEvidenceStore()
	store.AddBatch([]Evidence{
		{ID: "a", Source: SourceAlerts, Confidence: 0.9},
		{ID: "b", Source: SourceMetrics, Confidence: 0.8},
		{ID: "c", Source: SourceMetrics, Confidence: 0.6},
		{ID: "d", Source: SourceLogs, Confidence: 0.3},
	})

	sum := store.Summarize(2)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 2, sum.BySource[SourceMetrics])
	assert.Equal(t, 1, sum.BySource[SourceAlerts])
	assert.Equal(t, 1, sum.BySource[SourceLogs])
	assert.Equal(t, 2, sum.HighConfidence)
	assert.Equal(t, 1, sum.MedConfidence)
	assert.Equal(t, 1, sum.LowConfidence)

	// Top-N is ordered best first and bounded.
	assert.Len(t, sum.Top, 2)
	assert.Equal(t, "a", sum.Top[0].ID)
	assert.Equal(t, "b", sum.Top[1].ID)
}

func TestEvidenceStoreSummarizeDoesNotTruncateBelowN(t *testing.T) {
	store := NewEvidenceStoreFrom([]Evidence{
		{ID: "a", Source: SourceLogs, Confidence: 0.5},
	})
	sum := store.Summarize(10)
	assert.Len(t, sum.Top, 1)
	assert.Equal(t, 1, store.Len())
}

func TestEvidenceStoreConcurrentAdd(t *testing.T) {
	store := NewEvidenceStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Add(Evidence{
					ID:         fmt.Sprintf("%d-%d", n, j),
					Source:     SourceMetrics,
					Confidence: 0.5,
				})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, store.Len())
	assert.Len(t, store.Items(), 1000)
}
