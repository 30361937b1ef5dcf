// Package adapters implements the Source Adapters (C3, spec §4.3): one per
// knowledge source, each turning a prompt into a ranked-but-unsorted list
// of ContextItems via the Control-Plane Client.
//
// Grounded on original_source/scripts/smaht/adapters/cp_adapter.py, the
// manifest-driven adapter the original system converged on after retiring
// five separate per-domain adapters; this package keeps that single
// generic, config-driven adapter shape (spec §9, "dynamic dispatch by
// string" becomes "a distinct type implementing a small interface plus a
// shared helper that applies the declarative projection rules") and adds
// the context7 external adapter alongside it (adapters/context7.go).
package adapters

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"contextpipe/internal/contextitem"
	"contextpipe/internal/controlplane"
	"contextpipe/internal/scorer"
)

// Adapter is the shared contract every Source Adapter implements
// (spec §4.3): query(prompt, project) -> ContextItem[], with all internal
// failures caught and converted into an empty result (spec §7,
// "Inside an adapter: everything is caught").
type Adapter interface {
	// Label identifies the adapter in diagnostics and ContextBundle
	// sources_consulted/sources_succeeded/sources_failed lists.
	Label() string
	Query(ctx context.Context, prompt, project string) []contextitem.Item
}

// DegradationReporter is implemented by adapters that front a component
// with its own health state. The assembler surfaces this as a bundle-level
// diagnostic (e.g. "degraded: control-plane") distinct from any single
// adapter's own success/failure outcome (spec §4.2, §8 "a single
// degraded: control-plane diagnostic").
type DegradationReporter interface {
	Degraded() (bool, string)
}

// CPAdapter is the generic, declaratively-configured adapter that fronts
// one control-plane domain (spec §3 "DomainQueryConfig", one config per
// adapter instance).
type CPAdapter struct {
	cfg    contextitem.DomainQueryConfig
	client *controlplane.Client
	scorer *scorer.Scorer
	log    *zap.Logger
}

// NewCPAdapter builds an adapter for one domain query config.
func NewCPAdapter(cfg contextitem.DomainQueryConfig, client *controlplane.Client, sc *scorer.Scorer, log *zap.Logger) *CPAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	if sc == nil {
		sc = scorer.New(nil)
	}
	return &CPAdapter{cfg: cfg, client: client, scorer: sc, log: log.With(zap.String("adapter", cfg.Label))}
}

// Label implements Adapter.
func (a *CPAdapter) Label() string { return a.cfg.Label }

// Degraded implements adapters.DegradationReporter over the adapter's
// control-plane client.
func (a *CPAdapter) Degraded() (bool, string) {
	if a.client == nil {
		return false, ""
	}
	return !a.client.Healthy(), "control-plane"
}

// Query implements Adapter. It never panics or returns an error to the
// caller: every failure degrades to an empty result plus a logged warning,
// matching spec §4.3/§7.
func (a *CPAdapter) Query(ctx context.Context, prompt, project string) (items []contextitem.Item) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("adapter panicked, returning empty result", zap.Any("recover", r))
			items = nil
		}
	}()

	sep := " "
	if a.cfg.QueryKey != "" {
		sep = "|"
	}
	keywords := extractKeywords(prompt, sep)
	if keywords == "" {
		return nil
	}

	params := map[string]string{}
	if a.cfg.QueryKey != "" {
		params[a.cfg.QueryKey] = keywords
	}
	if project != "" {
		params["project"] = project
	}

	verb := controlplane.Verb(a.cfg.Verb)
	resp, err := a.client.Request(ctx, a.cfg.Domain, a.cfg.Source, verb, params, nil)
	if err != nil {
		a.log.Warn("query failed, returning empty result", zap.Error(err))
		return nil
	}

	records := resp.Records()
	capPerDomain := a.cfg.Cap()
	promptLower := prompt
	now := time.Now().UTC()

	for i, rec := range records {
		if i >= capPerDomain {
			break
		}
		if rec.Archived() || rec.Deleted() {
			continue
		}

		title := a.cfg.TitleFn(rec)
		summary := a.cfg.SummaryFn(rec)
		if a.cfg.QueryKey == "" {
			// No server-side search: keep only records whose projected
			// text mentions at least one keyword.
			text := strings.ToLower(title + " " + summary)
			matched := false
			for _, kw := range strings.Fields(keywords) {
				if strings.Contains(text, kw) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		boost := a.cfg.BoostFn(rec)
		ageDays := recordAgeDays(rec, now)

		relevance := a.scorer.Score(promptLower, title, summary, boost, ageDays)

		id := rec.ID()
		if id == "" {
			id = rec.StringOr("name", "")
		}

		items = append(items, contextitem.Item{
			ID:            id,
			Source:        a.cfg.Label,
			Title:         title,
			Summary:       summary,
			Excerpt:       summary,
			Relevance:     relevance,
			AgeDays:       ageDays,
			SemanticScore: relevance,
			Metadata: map[string]any{
				"domain": a.cfg.Domain,
			},
		})
	}

	return items
}

// recordAgeDays computes age_days from created_at/created, tolerating
// missing or unparseable timestamps as 0 (SPEC_FULL supplement 3).
func recordAgeDays(rec contextitem.Record, now time.Time) float64 {
	created := rec.String("created_at")
	if created == "" {
		created = rec.String("created")
	}
	if created == "" {
		return 0
	}
	t, err := parseTimestamp(created)
	if err != nil {
		return 0
	}
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		return 0
	}
	return float64(int64(days))
}

func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02T15:04:05.000Z",
		time.RFC3339,
		time.RFC3339Nano,
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// formatComplexity is a small helper used by the crew adapter's summary_fn
// to render a numeric field defensively (records are untyped maps).
func formatComplexity(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return "0"
	}
}
