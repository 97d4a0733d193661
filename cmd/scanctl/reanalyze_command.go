package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/VinByte365/Project-Pamada-sub000/internal/orchestrator"
)

func newReanalyzeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reanalyze <scan-id>...",
		Short: "Re-run scans through one batch inference call",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseScanIDs(args)
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			items, err := a.Orchestrator.ReanalyzeBatch(cmd.Context(), ids)
			if err != nil {
				return err
			}
			failed := printBatch(cmd.OutOrStdout(), items)
			if failed > 0 {
				return fmt.Errorf("%d of %d scans did not complete", failed, len(items))
			}
			return nil
		},
	}
}

func parseScanIDs(args []string) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{}, len(args))
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid scan id %q: %w", arg, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func printBatch(out io.Writer, items []orchestrator.BatchItem) int {
	failed := 0
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		if it.Error != "" {
			failed++
		}
		rows = append(rows, []string{it.ScanID.String(), string(it.Status), it.Error})
	}
	fmt.Fprintln(out, renderTable([]string{"Scan", "Status", "Error"}, rows, nil))
	return failed
}
