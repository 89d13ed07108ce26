package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orlevy/toolscout/internal/config"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Build the search index from the catalog and exit",
	RunE:  runRebuild,
}

func runRebuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	manifest, err := a.service.Rebuild(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("indexed %d tools (dim %d, model %s) into %s\n",
		manifest.Count, manifest.Dim, manifest.ModelID, cfg.IndexDir)
	return nil
}
