package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

func newAnalyticsCommand(ctx *commandContext) *cobra.Command {
	analyticsCmd := &cobra.Command{
		Use:   "analytics",
		Short: "Compute and repair daily analytics snapshots",
	}

	analyticsCmd.AddCommand(newAggregateCommand(ctx))
	analyticsCmd.AddCommand(newRegenerateCommand(ctx))
	analyticsCmd.AddCommand(newRollupCommand(ctx))

	return analyticsCmd
}

type snapshotFlags struct {
	date string
	user string
}

func (f *snapshotFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Day to aggregate, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&f.user, "user", "", "Restrict to one user id (default all users)")
}

func (f *snapshotFlags) parse(loc *time.Location) (time.Time, *uuid.UUID, error) {
	date := time.Now().In(loc)
	if f.date != "" {
		d, err := time.ParseInLocation(time.DateOnly, f.date, loc)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		date = d
	}
	if f.user == "" {
		return date, nil, nil
	}
	id, err := uuid.Parse(f.user)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("--user must be a uuid: %w", err)
	}
	return date, &id, nil
}

func newAggregateCommand(ctx *commandContext) *cobra.Command {
	var flags snapshotFlags

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Show the daily snapshot, computing it if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			date, userID, err := flags.parse(a.Analytics.Location())
			if err != nil {
				return err
			}
			snap, err := a.Analytics.AggregateDaily(cmd.Context(), date, userID)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRegenerateCommand(ctx *commandContext) *cobra.Command {
	var flags snapshotFlags

	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Discard and recompute a daily snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			date, userID, err := flags.parse(a.Analytics.Location())
			if err != nil {
				return err
			}
			snap, err := a.Analytics.RegenerateDaily(cmd.Context(), date, userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Snapshot regenerated")
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRollupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rollup",
		Short: "Persist yesterday's snapshots for all users and each active user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.Analytics.RollupPrevious(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshots rolled up: %d\n", n)
			return nil
		},
	}
}

func printSnapshot(out io.Writer, snap *models.AnalyticsSnapshot) {
	scope := "all users"
	if snap.UserID != nil {
		scope = snap.UserID.String()
	}
	m := snap.Metrics
	fmt.Fprintf(out, "Date:  %s\n", snap.Date.Format(time.DateOnly))
	fmt.Fprintf(out, "Scope: %s\n", scope)

	summary := [][]string{
		{"Scans", strconv.Itoa(m.TotalScans)},
		{"Plants monitored", strconv.Itoa(m.TotalPlantsMonitored)},
		{"Harvest ready", strconv.Itoa(m.HarvestReadyCount)},
		{"Disease alerts", strconv.Itoa(m.DiseaseAlerts)},
		{"Avg health", strconv.FormatFloat(m.AvgHealthScore, 'f', 1, 64)},
		{"Avg confidence", strconv.FormatFloat(m.AvgConfidence, 'f', 3, 64)},
		{"Avg processing (ms)", strconv.FormatFloat(m.AvgProcessingTimeMs, 'f', 0, 64)},
	}
	fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, summary, []columnAlignment{alignLeft, alignRight}))

	dist := make([][]string, 0, len(m.ConditionDistribution)+len(m.PestDistribution))
	dist = appendDistribution(dist, "condition", m.ConditionDistribution)
	dist = appendDistribution(dist, "pest", m.PestDistribution)
	fmt.Fprintln(out, renderTable([]string{"Kind", "Class", "Scans"}, dist, []columnAlignment{alignLeft, alignLeft, alignRight}))
}

func appendDistribution(rows [][]string, kind string, counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []string{kind, k, strconv.Itoa(counts[k])})
	}
	return rows
}
