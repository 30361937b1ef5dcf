// Package bundle implements the Context Bundle Emitter (C7, spec §4.7): it
// turns an assembler.Result into the stable, deterministic JSON document
// handed back to the caller.
//
// Grounded on
// original_source/plugins/wicked-workbench/server/.../data_gateway/router.go's
// response-enrichment pattern (stamping meta.schema_version/plugin/source
// onto every proxied response) and the teacher's json.MarshalIndent-based
// serialization conventions; Go's encoding/json already emits map keys in
// sorted order and struct fields in declaration order, so no custom
// encoder is needed to get deterministic output.
package bundle

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"contextpipe/internal/assembler"
	"contextpipe/internal/contextitem"
)

// SchemaVersion is stamped onto every emitted bundle (spec §4.7).
const SchemaVersion = "1.0.0"

// Item is the wire shape of one ContextItem inside a bundle.
type Item struct {
	ID            string         `json:"id"`
	Source        string         `json:"source"`
	Title         string         `json:"title"`
	Summary       string         `json:"summary"`
	Excerpt       string         `json:"excerpt"`
	Relevance     float64        `json:"relevance"`
	AgeDays       float64        `json:"age_days"`
	SemanticScore float64        `json:"semantic_score"`
	TokenEstimate int            `json:"token_estimate"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SourceFailure is the wire shape of one failed source, carrying the
// reason it did not succeed (spec §4.7 "sources_failed": [{source,
// reason}, ...]).
type SourceFailure struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Bundle is the wire shape of a ContextBundle (spec §4.7). Diagnostics is a
// flat list of human-readable strings (e.g. "timed_out: context7 (<reason>)",
// "degraded: control-plane") rather than structured objects, matching
// §4.7's documented "diagnostics": [string, ...] shape.
type Bundle struct {
	TokensUsed       int             `json:"tokens_used"`
	BudgetTokens     int             `json:"budget_tokens"`
	Items            []Item          `json:"items"`
	SourcesConsulted []string        `json:"sources_consulted"`
	SourcesSucceeded []string        `json:"sources_succeeded"`
	SourcesFailed    []SourceFailure `json:"sources_failed"`
	Diagnostics      []string        `json:"diagnostics"`
	SchemaVersion    string          `json:"schema_version"`
}

// FromResult converts an assembler.Result into the wire Bundle shape.
func FromResult(r assembler.Result) Bundle {
	items := make([]Item, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, toWireItem(it))
	}

	failed := make([]SourceFailure, 0, len(r.SourcesFailed))
	for _, f := range r.SourcesFailed {
		failed = append(failed, SourceFailure{Source: f.Source, Reason: f.Reason})
	}

	return Bundle{
		TokensUsed:       r.TokensUsed,
		BudgetTokens:     r.BudgetTokens,
		Items:            items,
		SourcesConsulted: nonNil(r.SourcesConsulted),
		SourcesSucceeded: nonNil(r.SourcesSucceeded),
		SourcesFailed:    nonNilFailures(failed),
		Diagnostics:      diagnosticStrings(r),
		SchemaVersion:    SchemaVersion,
	}
}

// diagnosticStrings renders a Result's degraded components and non-
// succeeded source outcomes as flat diagnostic strings:
// "degraded: control-plane", "timed_out: context7", with " (<reason>)"
// appended to a source outcome whenever the assembler recorded a reason.
func diagnosticStrings(r assembler.Result) []string {
	components := append([]string(nil), r.Degraded...)
	sort.Strings(components)

	out := make([]string, 0, len(components)+len(r.Diagnostics))
	for _, c := range components {
		out = append(out, fmt.Sprintf("degraded: %s", c))
	}
	for _, d := range r.Diagnostics {
		if d.Status == assembler.StatusSucceeded {
			continue
		}
		if d.Reason != "" {
			out = append(out, fmt.Sprintf("%s: %s (%s)", d.Status, d.Source, d.Reason))
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", d.Status, d.Source))
	}
	return out
}

func toWireItem(it contextitem.Item) Item {
	return Item{
		ID:            it.ID,
		Source:        it.Source,
		Title:         it.Title,
		Summary:       it.Summary,
		Excerpt:       it.Excerpt,
		Relevance:     sanitizeFloat(it.Relevance),
		AgeDays:       sanitizeFloat(it.AgeDays),
		SemanticScore: sanitizeFloat(it.SemanticScore),
		TokenEstimate: it.TokenEstimate(),
		Metadata:      it.Metadata,
	}
}

// sanitizeFloat guards the "no NaN/Inf" invariant (spec §4.7): a
// non-finite score collapses to 0 rather than producing invalid JSON.
func sanitizeFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilFailures(in []SourceFailure) []SourceFailure {
	if in == nil {
		return []SourceFailure{}
	}
	return in
}

// Marshal serializes a Bundle deterministically: encoding/json sorts map
// keys and preserves struct field order, so repeated calls over equal
// input byte-for-byte match (spec §4.7 "stable JSON serialization").
func Marshal(b Bundle) ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bundle: marshal: %w", err)
	}
	return data, nil
}

// Emit is the convenience path from an assembler.Result straight to bytes.
func Emit(r assembler.Result) ([]byte, error) {
	return Marshal(FromResult(r))
}
