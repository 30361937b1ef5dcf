package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"contextpipe/internal/adapters"
	"contextpipe/internal/assembler"
	"contextpipe/internal/bundle"
	"contextpipe/internal/config"
	"contextpipe/internal/controlplane"
	"contextpipe/internal/scorer"
	"contextpipe/internal/storage"
)

var (
	assembleProject          string
	assembleBudget           int
	assemblePerSourceTimeout time.Duration
	assembleOverallTimeout   time.Duration
	assembleContext7         bool
)

var assembleCmd = &cobra.Command{
	Use:   "assemble [prompt]",
	Short: "Assemble a ranked, budget-packed context bundle for a prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssemble,
}

func runAssemble(cmd *cobra.Command, args []string) error {
	prompt := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sm := storage.New(cfg.Storage.BaseDir, logger)
	client := controlplane.New(cfg.ControlPlane.BaseURL, sm, logger,
		controlplane.WithToken(cfg.ControlPlane.Token),
		controlplane.WithTimeout(cfg.RequestTimeout()),
	)
	sc := scorer.New(nil)

	adapterList := adapters.NewDefaultAdapters(client, sc, logger)
	if assembleContext7 {
		adapterList = append(adapterList, adapters.NewContext7Adapter(nil, nil, logger))
	}

	asm := assembler.New(adapterList, logger)

	budget := assembleBudget
	if budget <= 0 {
		budget = cfg.Budget.TokenBudget
	}
	perSource := assemblePerSourceTimeout
	if perSource <= 0 {
		perSource = cfg.PerSourceTimeout()
	}
	overall := assembleOverallTimeout
	if overall <= 0 {
		overall = cfg.OverallTimeout()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), overall+time.Second)
	defer cancel()

	result := asm.Assemble(ctx, assembler.Options{
		Prompt:           prompt,
		Project:          assembleProject,
		BudgetTokens:     budget,
		PerSourceTimeout: perSource,
		OverallTimeout:   overall,
	})

	return writeBundle(cmd.OutOrStdout(), result)
}

func writeBundle(w io.Writer, result assembler.Result) error {
	b := bundle.FromResult(result)
	data, err := bundle.Marshal(b)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
