package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/ingest"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

func newTrainingCommand(ctx *commandContext) *cobra.Command {
	trainingCmd := &cobra.Command{
		Use:   "training",
		Short: "Curate the training dataset",
	}

	trainingCmd.AddCommand(newAutoFlagCommand(ctx))
	trainingCmd.AddCommand(newExportCommand(ctx))
	trainingCmd.AddCommand(newTrainingStatsCommand(ctx))
	trainingCmd.AddCommand(newSeedCommand(ctx))

	return trainingCmd
}

func newAutoFlagCommand(ctx *commandContext) *cobra.Command {
	var threshold float64
	var limit int

	cmd := &cobra.Command{
		Use:   "auto-flag",
		Short: "Add low-confidence completed scans to the dataset for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := a.Curator.AutoFlagLowConfidence(cmd.Context(), threshold, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Flagged: %d\n", len(entries))
			printEntries(out, entries)
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Confidence cutoff (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum scans to flag (default from config)")
	return cmd
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "export <batch-name>",
		Short: "Hand validated entries to a retraining batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			items, err := a.Curator.ExportBatch(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Exported %d entries to %s\n", len(items), args[0])
			if len(items) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{it.EntryID.String(), string(it.Label), it.ImageURL})
			}
			fmt.Fprintln(out, renderTable([]string{"Entry", "Label", "Image"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to export (default from config)")
	return cmd
}

// seeder is the part of the curator the seed command drives.
type seeder interface {
	Seed(ctx context.Context, scanID uuid.UUID, label models.Condition) (*models.TrainingEntry, error)
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <manifest.csv>",
		Short: "Add labelled scans from a CSV manifest (columns scan_id,label)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open manifest: %w", err)
			}
			defer f.Close()

			rows, warnings, err := ingest.ParseLabels(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}

			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			summary := seedRows(cmd.Context(), a.Curator, rows)
			printSeedSummary(out, summary)
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d rows failed", summary.Failed, len(rows))
			}
			return nil
		},
	}
}

type seedSummary struct {
	Added    int
	Existing int
	Missing  int
	Failed   int
	Errors   []string
}

// seedRows adds each row in order. A scan already in the dataset or no
// longer present is counted, not treated as a failure.
func seedRows(ctx context.Context, s seeder, rows []ingest.LabelRow) seedSummary {
	var sum seedSummary
	for _, row := range rows {
		_, err := s.Seed(ctx, row.ScanID, row.Label)
		switch apperr.KindOf(err) {
		case "":
			sum.Added++
		case apperr.KindConflict:
			sum.Existing++
		case apperr.KindNotFound:
			sum.Missing++
			sum.Errors = append(sum.Errors, fmt.Sprintf("row %d: scan %s not found", row.Line, row.ScanID))
		default:
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("row %d: %v", row.Line, err))
		}
	}
	return sum
}

func printSeedSummary(out io.Writer, sum seedSummary) {
	fmt.Fprintln(out, renderTable([]string{"Result", "Rows"}, [][]string{
		{"Added", strconv.Itoa(sum.Added)},
		{"Already in dataset", strconv.Itoa(sum.Existing)},
		{"Scan not found", strconv.Itoa(sum.Missing)},
		{"Failed", strconv.Itoa(sum.Failed)},
	}, []columnAlignment{alignLeft, alignRight}))
	for _, e := range sum.Errors {
		fmt.Fprintln(out, e)
	}
}

func newTrainingStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dataset counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := a.Curator.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printTrainingStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func printTrainingStats(out io.Writer, stats *models.TrainingStats) {
	counts := [][]string{
		{"Total", strconv.Itoa(stats.Total)},
		{"Pending", strconv.Itoa(stats.Pending)},
		{"Validated", strconv.Itoa(stats.Validated)},
		{"Rejected", strconv.Itoa(stats.Rejected)},
		{"In training", strconv.Itoa(stats.InTraining)},
	}
	fmt.Fprintln(out, renderTable([]string{"Status", "Entries"}, counts, []columnAlignment{alignLeft, alignRight}))

	if len(stats.LabelDistribution) == 0 {
		return
	}
	labels := make([][]string, 0, len(stats.LabelDistribution))
	for _, lc := range stats.LabelDistribution {
		labels = append(labels, []string{string(lc.Label), strconv.Itoa(lc.Count)})
	}
	fmt.Fprintln(out, renderTable([]string{"Label", "Entries"}, labels, []columnAlignment{alignLeft, alignRight}))
}

func printEntries(out io.Writer, entries []models.TrainingEntry) {
	if len(entries) == 0 {
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		scan := ""
		if e.SourceScanID != nil {
			scan = e.SourceScanID.String()
		}
		conf := "-"
		if e.ConfidenceWhenCaptured != nil {
			conf = strconv.FormatFloat(*e.ConfidenceWhenCaptured, 'f', 2, 64)
		}
		rows = append(rows, []string{e.ID.String(), scan, string(e.Label), conf})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Entry", "Scan", "Label", "Confidence"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	))
}
