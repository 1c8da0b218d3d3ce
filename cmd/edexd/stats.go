package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/edexd/internal/archive"
	"github.com/user/edexd/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Sample host telemetry once and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sampler := telemetry.NewSampler(telemetry.NewHostSource(nil), telemetry.Options{
				Timeout: cfg.SampleTimeout,
				Logger:  newLogger(cfg, cmd.ErrOrStderr()),
			})
			defer sampler.Close()

			snap, err := sampler.Sample(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	}
}

func newArchiveCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Print the most recent archived telemetry samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.ArchivePath == "" {
				return fmt.Errorf("no archive configured (set archive_path or --archive)")
			}
			ctx := cmd.Context()
			store, err := archive.OpenReadOnly(ctx, cfg.ArchivePath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := archive.NewJournal(store.SQL(), cfg.ArchiveRetention, nil).Recent(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 60, "number of samples to print")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
