// Package assembler implements the Context Assembler (C5, spec §4.5): it
// fans a prompt out to every Source Adapter concurrently, merges and
// dedupes what comes back, ranks it, and greedily packs it into a token
// budget.
//
// Grounded on the teacher's internal/campaign.IntelligenceGatherer, which
// fans a goal out to up to a dozen independent intelligence sources via
// errgroup.WithContext plus a mutex-guarded error-accumulation closure;
// this package keeps that "one goroutine per source, context deadline,
// accumulate under a mutex" shape and replaces the domain-specific
// gathering steps with adapter.Query calls.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contextpipe/internal/adapters"
	"contextpipe/internal/contextitem"
)

// SourceStatus is the terminal state of one adapter's contribution to an
// assembly run (spec §4.5 diagnostics: "timed_out/cancelled/failed").
type SourceStatus string

const (
	StatusSucceeded SourceStatus = "succeeded"
	StatusFailed    SourceStatus = "failed"
	StatusTimedOut  SourceStatus = "timed_out"
	StatusCancelled SourceStatus = "cancelled"
)

// SourceDiagnostic records one adapter's outcome and latency.
type SourceDiagnostic struct {
	Source   string        `json:"source"`
	Status   SourceStatus  `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	ItemsRaw int           `json:"items_raw"`
	Duration time.Duration `json:"duration_ns"`
}

// SourceFailure names a source that did not reach StatusSucceeded and why,
// matching the ContextBundle's "sources_failed": [{source, reason}] wire
// shape (spec §4.7).
type SourceFailure struct {
	Source string
	Reason string
}

// Options configures one Assemble call (spec §4.5 parameters).
type Options struct {
	Prompt           string
	Project          string
	BudgetTokens     int
	PerSourceTimeout time.Duration
	OverallTimeout   time.Duration
}

// Result is everything the Context Bundle Emitter needs to serialize a
// ContextBundle (spec §4.5/§4.7).
type Result struct {
	Items            []contextitem.Item
	TokensUsed       int
	BudgetTokens     int
	SourcesConsulted []string
	SourcesSucceeded []string
	SourcesFailed    []SourceFailure
	Diagnostics      []SourceDiagnostic
	// Degraded lists the distinct components (e.g. "control-plane") that
	// reported themselves unhealthy during this run, independent of any
	// one adapter's own success/failure outcome (spec §4.2, §8).
	Degraded []string
}

const (
	// DefaultPerSourceTimeout and DefaultOverallTimeout mirror
	// config.BudgetConfig's defaults (spec §4.5).
	DefaultPerSourceTimeout = 2500 * time.Millisecond
	DefaultOverallTimeout   = 6000 * time.Millisecond
	// DefaultBudgetTokens is applied when Options.BudgetTokens <= 0,
	// matching config.BudgetConfig's default (spec §4.5/§6: budget_tokens=8000).
	DefaultBudgetTokens = 8000
)

// Assembler fans a prompt out to a fixed set of adapters and assembles the
// results into a budget-packed, ranked item list.
type Assembler struct {
	adapters []adapters.Adapter
	log      *zap.Logger
}

// New creates an Assembler over a fixed adapter set (spec §5: the
// assembler does not discover adapters, it is handed them).
func New(adapterList []adapters.Adapter, log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{adapters: adapterList, log: log.With(zap.String("component", "assembler.Assembler"))}
}

// Assemble runs every adapter concurrently against opts.Prompt/Project,
// each bounded by opts.PerSourceTimeout, the whole run bounded by
// opts.OverallTimeout, then merges, dedupes, ranks, and budget-packs the
// results (spec §4.5).
func (a *Assembler) Assemble(ctx context.Context, opts Options) Result {
	perSourceTimeout := opts.PerSourceTimeout
	if perSourceTimeout <= 0 {
		perSourceTimeout = DefaultPerSourceTimeout
	}
	overallTimeout := opts.OverallTimeout
	if overallTimeout <= 0 {
		overallTimeout = DefaultOverallTimeout
	}
	budget := opts.BudgetTokens
	if budget <= 0 {
		budget = DefaultBudgetTokens
	}

	overallCtx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	var mu sync.Mutex
	var rawItems []contextitem.Item
	diagnostics := make([]SourceDiagnostic, 0, len(a.adapters))
	consulted := make([]string, 0, len(a.adapters))

	eg, egCtx := errgroup.WithContext(overallCtx)
	for _, ad := range a.adapters {
		ad := ad
		consulted = append(consulted, ad.Label())
		eg.Go(func() error {
			diag := a.runOne(egCtx, ad, opts.Prompt, opts.Project, perSourceTimeout)
			mu.Lock()
			diagnostics = append(diagnostics, diag.diagnostic)
			rawItems = append(rawItems, diag.items...)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait() // runOne never returns an error; fan-out never aborts early

	merged := dedupe(rawItems)
	rank(merged)
	packed, used := pack(merged, budget)

	var succeeded []string
	var failed []SourceFailure
	for _, d := range diagnostics {
		if d.Status == StatusSucceeded {
			succeeded = append(succeeded, d.Source)
		} else {
			failed = append(failed, SourceFailure{Source: d.Source, Reason: d.Reason})
		}
	}

	return Result{
		Items:            packed,
		TokensUsed:       used,
		BudgetTokens:     budget,
		SourcesConsulted: consulted,
		SourcesSucceeded: succeeded,
		SourcesFailed:    failed,
		Diagnostics:      diagnostics,
		Degraded:         a.degradedComponents(),
	}
}

// degradedComponents reports the distinct components any adapter implementing
// adapters.DegradationReporter currently considers unhealthy, sorted for
// deterministic bundle output (spec §8 "a single degraded: control-plane
// diagnostic" regardless of how many adapters share that component).
func (a *Assembler) degradedComponents() []string {
	seen := map[string]bool{}
	for _, ad := range a.adapters {
		dr, ok := ad.(adapters.DegradationReporter)
		if !ok {
			continue
		}
		if degraded, component := dr.Degraded(); degraded && component != "" {
			seen[component] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type adapterOutcome struct {
	diagnostic SourceDiagnostic
	items      []contextitem.Item
}

// runOne queries a single adapter under its own per-source deadline,
// converting panics, timeouts, and parent cancellation into a
// SourceDiagnostic rather than letting any of them escape (spec §4.5:
// "one slow or failing source must not affect the others" and never the
// caller).
func (a *Assembler) runOne(ctx context.Context, ad adapters.Adapter, prompt, project string, timeout time.Duration) adapterOutcome {
	start := time.Now()
	sourceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type queryResult struct {
		items  []contextitem.Item
		failed bool
	}
	resultCh := make(chan queryResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("adapter panicked during assembly", zap.String("source", ad.Label()), zap.Any("recover", r))
				resultCh <- queryResult{failed: true}
				return
			}
		}()
		resultCh <- queryResult{items: ad.Query(sourceCtx, prompt, project)}
	}()

	select {
	case res := <-resultCh:
		// An adapter that returns no items has still succeeded: a
		// legitimately empty result (e.g. an empty prompt, or no matching
		// records) must not be confused with a panic (spec §8, "Empty
		// prompt -> every adapter returns [] ... no failures").
		status := StatusSucceeded
		reason := ""
		if res.failed {
			status = StatusFailed
			reason = "adapter panicked"
		}
		return adapterOutcome{
			diagnostic: SourceDiagnostic{Source: ad.Label(), Status: status, Reason: reason, ItemsRaw: len(res.items), Duration: time.Since(start)},
			items:      res.items,
		}
	case <-sourceCtx.Done():
		status := StatusTimedOut
		reason := fmt.Sprintf("exceeded per-source timeout of %s", timeout)
		switch ctx.Err() {
		case context.Canceled:
			status = StatusCancelled
			reason = "assembly was cancelled by the caller before this source returned"
		case context.DeadlineExceeded:
			reason = "exceeded overall assembly deadline before this source returned"
		}
		return adapterOutcome{
			diagnostic: SourceDiagnostic{Source: ad.Label(), Status: status, Reason: reason, Duration: time.Since(start)},
		}
	}
}

// dedupe keeps, per (source, id) key, the item with the highest relevance
// (spec §4.5 "merge: dedupe by (source, id), keep highest relevance").
func dedupe(items []contextitem.Item) []contextitem.Item {
	best := make(map[string]contextitem.Item, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		key := it.Key()
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = it
			continue
		}
		if it.Relevance > existing.Relevance {
			best[key] = it
		}
	}
	out := make([]contextitem.Item, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// rank sorts items by relevance desc, then age_days asc, stable so ties
// preserve arrival order (spec §4.5 ranking rule).
func rank(items []contextitem.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Relevance != items[j].Relevance {
			return items[i].Relevance > items[j].Relevance
		}
		return items[i].AgeDays < items[j].AgeDays
	})
}

// pack greedily accepts items in rank order while tokens_used stays within
// budget (spec §4.5 "greedy token-budget packing").
func pack(items []contextitem.Item, budgetTokens int) ([]contextitem.Item, int) {
	var out []contextitem.Item
	used := 0
	for _, it := range items {
		cost := it.TokenEstimate()
		if used+cost > budgetTokens {
			continue
		}
		out = append(out, it)
		used += cost
	}
	return out, used
}
