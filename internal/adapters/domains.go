package adapters

import (
	"fmt"
	"path/filepath"

	"contextpipe/internal/contextitem"
)

// DefaultDomainConfigs returns the five built-in DomainQueryConfigs,
// reproducing original_source/scripts/smaht/adapters/cp_adapter.py's
// _DOMAIN_QUERIES table verbatim (SPEC_FULL supplement 1): identical
// sources, verbs, query keys, labels, and boost tables, so the
// reproducibility requirement in spec §4.6 holds for memory/kanban/crew.
func DefaultDomainConfigs() []contextitem.DomainQueryConfig {
	return []contextitem.DomainQueryConfig{
		memoryConfig(),
		kanbanConfig(),
		crewConfig(),
		jamConfig(),
		knowledgeConfig(),
	}
}

func memoryConfig() contextitem.DomainQueryConfig {
	boosts := map[string]float64{
		"decision":   0.3,
		"preference": 0.3,
		"procedural": 0.1,
		"working":    0.3,
		"episodic":   0.0,
	}
	return contextitem.DomainQueryConfig{
		Domain:   "memory",
		Source:   "memories",
		Verb:     "search",
		QueryKey: "q",
		Label:    "mem",
		TitleFn: func(r contextitem.Record) string {
			return r.StringOr("title", r.StringOr("type", "memory"))
		},
		SummaryFn: func(r contextitem.Record) string {
			s := r.String("summary")
			if s == "" {
				s = r.String("content")
			}
			return truncate(s, 200)
		},
		BoostFn: func(r contextitem.Record) float64 {
			return boosts[r.String("type")]
		},
	}
}

func kanbanConfig() contextitem.DomainQueryConfig {
	return contextitem.DomainQueryConfig{
		Domain:   "kanban",
		Source:   "tasks",
		Verb:     "search",
		QueryKey: "q",
		Label:    "kanban",
		TitleFn: func(r contextitem.Record) string {
			return fmt.Sprintf("[%s] %s", r.StringOr("swimlane", "?"), r.String("name"))
		},
		SummaryFn: func(r contextitem.Record) string {
			s := r.String("description")
			if s == "" {
				s = r.String("name")
			}
			return truncate(s, 200)
		},
		BoostFn: func(r contextitem.Record) float64 {
			lane := r.String("swimlane")
			if lane == "doing" || lane == "in_progress" {
				return 0.2
			}
			return 0
		},
	}
}

func crewConfig() contextitem.DomainQueryConfig {
	return contextitem.DomainQueryConfig{
		Domain:   "crew",
		Source:   "projects",
		Verb:     "list",
		QueryKey: "", // no search support; list + client-side keyword filter
		Label:    "crew",
		TitleFn: func(r contextitem.Record) string {
			return fmt.Sprintf("Project: %s (%s phase)", r.StringOr("name", "?"), r.StringOr("current_phase", "?"))
		},
		SummaryFn: func(r contextitem.Record) string {
			return fmt.Sprintf("Phase: %s, Complexity: %s/7", r.StringOr("current_phase", "?"), formatComplexity(r["complexity_score"]))
		},
		BoostFn: func(r contextitem.Record) float64 {
			phase := r.String("current_phase")
			if !r.Archived() && phase != "done" && phase != "review" {
				return 0.4
			}
			return 0
		},
	}
}

func jamConfig() contextitem.DomainQueryConfig {
	return contextitem.DomainQueryConfig{
		Domain:   "jam",
		Source:   "sessions",
		Verb:     "search",
		QueryKey: "q",
		Label:    "jam",
		TitleFn: func(r contextitem.Record) string {
			return "Brainstorm: " + r.String("topic")
		},
		SummaryFn: func(r contextitem.Record) string {
			s := r.String("summary")
			if s == "" {
				if synthesis, ok := r["synthesis"].(map[string]any); ok {
					s, _ = synthesis["summary"].(string)
				}
			}
			return truncate(s, 200)
		},
		BoostFn: func(contextitem.Record) float64 { return 0 },
	}
}

func knowledgeConfig() contextitem.DomainQueryConfig {
	return contextitem.DomainQueryConfig{
		Domain:   "knowledge",
		Source:   "graph",
		Verb:     "search",
		QueryKey: "q",
		Label:    "search",
		TitleFn:  formatSymbolTitle,
		SummaryFn: func(r contextitem.Record) string {
			return fmt.Sprintf("%s: %s", r.StringOr("type", "symbol"), r.String("name"))
		},
		BoostFn: func(contextitem.Record) float64 { return 0 },
	}
}

func formatSymbolTitle(r contextitem.Record) string {
	name := r.String("name")
	path := r.String("file")
	if path == "" {
		path = r.String("path")
	}
	line := r["line"]
	if path == "" {
		return name
	}
	return fmt.Sprintf("%s (%s:%v)", name, filepath.Base(path), line)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
