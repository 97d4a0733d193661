// Package ingest reads curator label manifests.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

// LabelRow is one manifest line that passed validation.
type LabelRow struct {
	ScanID uuid.UUID
	Label  models.Condition
	Line   int
}

var headerAliases = map[string][]string{
	"scan_id": {"scan_id", "scanid", "scan"},
	"label":   {"label", "class", "condition"},
}

// ParseLabels reads a CSV manifest of scan ids and labels. Rows that fail
// validation become warnings and are skipped; a missing column is fatal.
// A scan listed twice keeps its first label.
func ParseLabels(r io.Reader) (rows []LabelRow, warnings []string, err error) {
	rows = make([]LabelRow, 0)
	warnings = make([]string, 0)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return rows, warnings, fmt.Errorf("manifest is empty")
		}
		return rows, warnings, fmt.Errorf("failed to read manifest header: %w", err)
	}

	scanCol, labelCol := resolveColumn(headers, "scan_id"), resolveColumn(headers, "label")
	var missing []string
	if scanCol < 0 {
		missing = append(missing, "scan_id")
	}
	if labelCol < 0 {
		missing = append(missing, "label")
	}
	if len(missing) > 0 {
		return rows, warnings, fmt.Errorf("manifest is missing required columns: %s", strings.Join(missing, ", "))
	}

	seen := make(map[uuid.UUID]int)
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return rows, warnings, fmt.Errorf("failed to read manifest row: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if blank(record) {
			continue
		}

		rawID, rawLabel := field(record, scanCol), field(record, labelCol)
		scanID, err := uuid.Parse(rawID)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("row %d skipped: invalid scan id %q", line, rawID))
			continue
		}
		label := models.Condition(strings.ToLower(rawLabel))
		if !label.Valid() {
			warnings = append(warnings, fmt.Sprintf("row %d skipped: unknown label %q", line, rawLabel))
			continue
		}
		if first, dup := seen[scanID]; dup {
			warnings = append(warnings, fmt.Sprintf("row %d skipped: scan %s already listed on row %d", line, scanID, first))
			continue
		}
		seen[scanID] = line
		rows = append(rows, LabelRow{ScanID: scanID, Label: label, Line: line})
	}

	return rows, warnings, nil
}

func resolveColumn(headers []string, canonical string) int {
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		for _, alias := range headerAliases[canonical] {
			if key == alias {
				return i
			}
		}
	}
	return -1
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
