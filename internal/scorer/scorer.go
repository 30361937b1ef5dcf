// Package scorer implements the Relevance Scorer (RS, spec §4.6): a pure,
// deterministic function from (prompt, item) to a score in [0, 1].
//
// Grounded on the teacher's internal/context/activation.go, which computes
// an analogous multi-component score (base + recency + relevance +
// dependency + campaign/session/issue boosts, clamped into a fixed range)
// for its own activation engine; this package keeps that "named scoring
// components summed and clamped" shape but replaces the components with
// the ones spec §4.6 actually defines.
package scorer

import (
	"math"
	"strings"
)

const (
	base           = 0.3
	keywordWeight  = 0.2
	maxKeyword     = 0.5
	maxTypeBoost   = 0.5
	ageDecayPerWeek = 0.02
	maxAgePenalty  = 0.3
)

// Semantic is the optional extension point named in spec §4.6: an injected
// semantic scorer that may replace keyword scoring. It must return a score
// in [0, 1]; a non-nil error causes silent fallback to keyword scoring.
type Semantic interface {
	Score(promptLower, text string) (float64, error)
}

// Scorer computes relevance scores. It holds no mutable state (spec §5,
// "RS has no shared state") and is safe for concurrent use.
type Scorer struct {
	semantic Semantic
}

// New creates a Scorer. semantic may be nil to use keyword-only scoring.
func New(semantic Semantic) *Scorer {
	return &Scorer{semantic: semantic}
}

// Score computes relevance = clamp(base + keyword_score + type_boost -
// age_penalty, 0, 1) for one candidate item text against a prompt
// (spec §4.6).
func (s *Scorer) Score(prompt, title, summary string, typeBoost float64, ageDays float64) float64 {
	promptLower := strings.ToLower(prompt)
	text := title + " " + summary

	kw := s.keywordScore(promptLower, text)
	boost := clamp(typeBoost, 0, maxTypeBoost)
	penalty := agePenalty(ageDays)

	return clamp(base+kw+boost-penalty, 0, 1)
}

func (s *Scorer) keywordScore(promptLower, text string) float64 {
	if s.semantic != nil {
		if v, err := s.semantic.Score(promptLower, text); err == nil {
			return clamp(v, 0, maxKeyword)
		}
	}
	return KeywordScore(promptLower, text)
}

// KeywordScore scores text by keyword overlap with a (already lower-cased)
// prompt: weight 0.2 per whitespace-delimited prompt token longer than 3
// characters that appears (case-insensitively) in text, capped at 0.5.
// This mirrors cp_adapter.py's _keyword_score exactly.
func KeywordScore(promptLower, text string) float64 {
	if text == "" {
		return 0
	}
	textLower := strings.ToLower(text)
	var score float64
	for _, word := range strings.Fields(promptLower) {
		if len(word) > 3 && strings.Contains(textLower, word) {
			score += keywordWeight
		}
	}
	return clamp(score, 0, maxKeyword)
}

// agePenalty implements the gentle weekly decay: min(0.02 * floor(age_days
// / 7), 0.3).
func agePenalty(ageDays float64) float64 {
	if ageDays <= 0 {
		return 0
	}
	weeks := math.Floor(ageDays / 7)
	return math.Min(ageDecayPerWeek*weeks, maxAgePenalty)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
