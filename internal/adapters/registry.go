package adapters

import (
	"go.uber.org/zap"

	"contextpipe/internal/controlplane"
	"contextpipe/internal/scorer"
)

// NewDefaultAdapters builds one CPAdapter per DefaultDomainConfigs entry,
// sharing a single control-plane client and scorer (spec §5: adapters are
// stateless besides these two collaborators).
func NewDefaultAdapters(client *controlplane.Client, sc *scorer.Scorer, log *zap.Logger) []Adapter {
	cfgs := DefaultDomainConfigs()
	out := make([]Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, NewCPAdapter(cfg, client, sc, log))
	}
	return out
}
