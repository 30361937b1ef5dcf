package assembler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"contextpipe/internal/adapters"
	"contextpipe/internal/contextitem"
)

type fakeAdapter struct {
	label string
	items []contextitem.Item
	delay time.Duration
	panic bool
}

func (f fakeAdapter) Label() string { return f.label }

func (f fakeAdapter) Query(ctx context.Context, _, _ string) []contextitem.Item {
	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil
		}
	}
	return f.items
}

// failedSourceNames extracts the bare source names from a Result's
// SourcesFailed for assertions that don't care about the failure reason.
func failedSourceNames(failures []SourceFailure) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.Source)
	}
	return out
}

type degradedAdapter struct {
	fakeAdapter
	component string
}

func (d degradedAdapter) Degraded() (bool, string) { return true, d.component }

func TestAssembleMergesAllAdaptersWithinBudget(t *testing.T) {
	a := New([]adapters.Adapter{
		fakeAdapter{label: "mem", items: []contextitem.Item{{ID: "1", Source: "mem", Title: "T1", Summary: "S1", Relevance: 0.9}}},
		fakeAdapter{label: "kanban", items: []contextitem.Item{{ID: "2", Source: "kanban", Title: "T2", Summary: "S2", Relevance: 0.5}}},
	}, nil)

	result := a.Assemble(context.Background(), Options{Prompt: "x", BudgetTokens: 10000})
	require.Len(t, result.Items, 2)
	assert.Equal(t, "1", result.Items[0].ID) // higher relevance ranked first
	assert.ElementsMatch(t, []string{"mem", "kanban"}, result.SourcesConsulted)
	assert.ElementsMatch(t, []string{"mem", "kanban"}, result.SourcesSucceeded)
	assert.Empty(t, result.SourcesFailed)
}

func TestAssembleIsolatesOnePanickingAdapter(t *testing.T) {
	a := New([]adapters.Adapter{
		fakeAdapter{label: "bad", panic: true},
		fakeAdapter{label: "good", items: []contextitem.Item{{ID: "1", Source: "good", Title: "T1", Relevance: 0.5}}},
	}, nil)

	result := a.Assemble(context.Background(), Options{Prompt: "x", BudgetTokens: 10000})
	require.Len(t, result.Items, 1)
	assert.Equal(t, "good", result.Items[0].Source)
	assert.Contains(t, failedSourceNames(result.SourcesFailed), "bad")
	assert.Contains(t, result.SourcesSucceeded, "good")
}

func TestAssembleTimesOutSlowAdapterWithoutBlockingOthers(t *testing.T) {
	a := New([]adapters.Adapter{
		fakeAdapter{label: "slow", delay: 200 * time.Millisecond, items: []contextitem.Item{{ID: "1", Source: "slow", Title: "late"}}},
		fakeAdapter{label: "fast", items: []contextitem.Item{{ID: "2", Source: "fast", Title: "T2", Relevance: 0.5}}},
	}, nil)

	start := time.Now()
	result := a.Assemble(context.Background(), Options{Prompt: "x", BudgetTokens: 10000, PerSourceTimeout: 20 * time.Millisecond, OverallTimeout: time.Second})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 150*time.Millisecond)
	assert.Contains(t, failedSourceNames(result.SourcesFailed), "slow")
	require.Len(t, result.Items, 1)
	assert.Equal(t, "fast", result.Items[0].Source)
}

func TestAssembleRespectsOverallTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))

	a := New([]adapters.Adapter{
		fakeAdapter{label: "slow", delay: time.Second},
	}, nil)

	start := time.Now()
	result := a.Assemble(context.Background(), Options{Prompt: "x", PerSourceTimeout: time.Second, OverallTimeout: 30 * time.Millisecond})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 200*time.Millisecond)
	assert.Empty(t, result.Items)
	assert.Contains(t, failedSourceNames(result.SourcesFailed), "slow")
}

func TestAssembleEmptyPromptYieldsNoItemsAndNoFailures(t *testing.T) {
	a := New([]adapters.Adapter{
		fakeAdapter{label: "mem"},
		fakeAdapter{label: "kanban"},
	}, nil)

	result := a.Assemble(context.Background(), Options{Prompt: "", BudgetTokens: 10000})
	assert.Empty(t, result.Items)
	assert.Empty(t, result.SourcesFailed)
	assert.ElementsMatch(t, []string{"mem", "kanban"}, result.SourcesSucceeded)
}

func TestAssembleReportsDegradedComponentOnce(t *testing.T) {
	a := New([]adapters.Adapter{
		degradedAdapter{fakeAdapter: fakeAdapter{label: "mem", items: []contextitem.Item{{ID: "1", Source: "mem", Title: "T1", Relevance: 0.9}}}, component: "control-plane"},
		degradedAdapter{fakeAdapter: fakeAdapter{label: "kanban", items: []contextitem.Item{{ID: "2", Source: "kanban", Title: "T2", Relevance: 0.5}}}, component: "control-plane"},
		fakeAdapter{label: "local-only"},
	}, nil)

	result := a.Assemble(context.Background(), Options{Prompt: "x", BudgetTokens: 10000})
	assert.Equal(t, []string{"control-plane"}, result.Degraded)
	assert.ElementsMatch(t, []string{"mem", "kanban", "local-only"}, result.SourcesSucceeded)
	assert.Empty(t, result.SourcesFailed)
}

func TestDedupeKeepsHighestRelevancePerKey(t *testing.T) {
	items := []contextitem.Item{
		{ID: "1", Source: "mem", Title: "a", Relevance: 0.3},
		{ID: "1", Source: "mem", Title: "a", Relevance: 0.8},
	}
	out := dedupe(items)
	require.Len(t, out, 1)
	assert.Equal(t, 0.8, out[0].Relevance)
}

func TestRankOrdersByRelevanceThenAgeThenArrival(t *testing.T) {
	items := []contextitem.Item{
		{ID: "a", Relevance: 0.5, AgeDays: 5},
		{ID: "b", Relevance: 0.5, AgeDays: 1},
		{ID: "c", Relevance: 0.9, AgeDays: 10},
	}
	rank(items)
	assert.Equal(t, []string{"c", "b", "a"}, []string{items[0].ID, items[1].ID, items[2].ID})
}

func TestPackStopsAtBudget(t *testing.T) {
	items := []contextitem.Item{
		{ID: "a", Title: "0123456789012345"}, // 16 chars -> 4 tokens
		{ID: "b", Title: "0123456789012345"},
		{ID: "c", Title: "0123456789012345"},
	}
	packed, used := pack(items, 6)
	assert.Len(t, packed, 1)
	assert.Equal(t, 4, used)
}
