package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/procwatch/internal/export"
)

var exportFlags struct {
	out   string
	since time.Duration
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write records, summary and anomalies as CSV files",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.out, "out", "", "Output directory (required)")
	f.DurationVar(&exportFlags.since, "since", 0, "Only include records newer than this (0 = all)")

	_ = exportCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.store.ListRecords(cmd.Context(), sinceTime(exportFlags.since), false)
	if err != nil {
		return err
	}
	paths, err := export.WriteDir(exportFlags.out, records)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", p)
	}
	return nil
}
