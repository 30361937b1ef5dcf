package bundle

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextpipe/internal/assembler"
	"contextpipe/internal/contextitem"
)

func sampleResult() assembler.Result {
	return assembler.Result{
		TokensUsed:       42,
		BudgetTokens:     4000,
		SourcesConsulted: []string{"mem", "kanban"},
		SourcesSucceeded: []string{"mem"},
		SourcesFailed:    []assembler.SourceFailure{{Source: "kanban", Reason: "exceeded per-source timeout of 50ms"}},
		Items: []contextitem.Item{
			{ID: "1", Source: "mem", Title: "T", Summary: "S", Excerpt: "E", Relevance: 0.7, AgeDays: 2, SemanticScore: 0.7},
		},
		Diagnostics: []assembler.SourceDiagnostic{
			{Source: "mem", Status: assembler.StatusSucceeded, ItemsRaw: 1, Duration: 12 * time.Millisecond},
			{Source: "kanban", Status: assembler.StatusTimedOut, Reason: "exceeded per-source timeout of 50ms", Duration: 50 * time.Millisecond},
		},
	}
}

func TestFromResultStampsSchemaVersion(t *testing.T) {
	b := FromResult(sampleResult())
	assert.Equal(t, "1.0.0", b.SchemaVersion)
}

func TestMarshalProducesDeterministicOutput(t *testing.T) {
	r := sampleResult()
	data1, err := Emit(r)
	require.NoError(t, err)
	data2, err := Emit(r)
	require.NoError(t, err)
	assert.Equal(t, data1, data2)
}

func TestMarshalOutputIsValidJSONWithExpectedFields(t *testing.T) {
	data, err := Emit(sampleResult())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"tokens_used", "budget_tokens", "items", "sources_consulted", "sources_succeeded", "sources_failed", "diagnostics", "schema_version"} {
		assert.Contains(t, decoded, key)
	}
}

func TestFromResultEmitsStringDiagnosticsAndFailureReasons(t *testing.T) {
	b := FromResult(sampleResult())

	require.Len(t, b.SourcesFailed, 1)
	assert.Equal(t, "kanban", b.SourcesFailed[0].Source)
	assert.Equal(t, "exceeded per-source timeout of 50ms", b.SourcesFailed[0].Reason)

	require.Len(t, b.Diagnostics, 1)
	assert.Contains(t, b.Diagnostics[0], "timed_out")
	assert.Contains(t, b.Diagnostics[0], "kanban")
}

func TestFromResultEmitsSingleDegradedControlPlaneDiagnostic(t *testing.T) {
	r := assembler.Result{
		SourcesSucceeded: []string{"mem"},
		Items:            []contextitem.Item{{ID: "1", Source: "mem", Title: "T"}},
		Diagnostics: []assembler.SourceDiagnostic{
			{Source: "mem", Status: assembler.StatusSucceeded, ItemsRaw: 1},
		},
		Degraded: []string{"control-plane"},
	}

	b := FromResult(r)
	assert.Equal(t, []string{"degraded: control-plane"}, b.Diagnostics)
}

func TestSanitizeFloatReplacesNaNAndInfWithZero(t *testing.T) {
	assert.Equal(t, 0.0, sanitizeFloat(math.NaN()))
	assert.Equal(t, 0.0, sanitizeFloat(math.Inf(1)))
	assert.Equal(t, 0.5, sanitizeFloat(0.5))
}

func TestFromResultNeverEmitsNilSliceFields(t *testing.T) {
	b := FromResult(assembler.Result{})
	assert.NotNil(t, b.SourcesConsulted)
	assert.NotNil(t, b.SourcesSucceeded)
	assert.NotNil(t, b.SourcesFailed)
	assert.NotNil(t, b.Items)
	assert.NotNil(t, b.Diagnostics)
}

func TestToWireItemIncludesTokenEstimate(t *testing.T) {
	it := contextitem.Item{Title: "0123", Summary: "4567", Excerpt: "89ab"}
	wire := toWireItem(it)
	assert.Equal(t, 3, wire.TokenEstimate)
}
