// package formatter renders provisioning results as a text summary and as CSV, Markdown or JSON reports
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/shared"
)

// Summary renders the end-of-run summary block.
func Summary(result *models.ProcessingResult, duplicatesPath string) string {
	var buf bytes.Buffer

	buf.WriteString("=== Processing Summary ===\n")
	fmt.Fprintf(&buf, "Total Processing Time: %s\n", result.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&buf, "Total Records Processed: %d\n", result.TotalRecords)
	fmt.Fprintf(&buf, "Successful: %d (%.2f%%)\n", result.SuccessfulRecords, result.SuccessRate())
	fmt.Fprintf(&buf, "Duplicates: %d\n", result.DuplicateRecords)
	fmt.Fprintf(&buf, "Failed: %d\n", result.FailedRecords)
	if duplicatesPath != "" {
		fmt.Fprintf(&buf, "Duplicate file: %s\n", duplicatesPath)
	}

	return buf.String()
}

// ExportToCSV converts per-record outcomes to CSV with columns: Row, Email, Status, Attempts, Message
func ExportToCSV(result *models.ProcessingResult) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Row", "Email", "Status", "Attempts", "Message"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, o := range result.Outcomes {
		record := []string{
			strconv.Itoa(o.Row),
			o.Email,
			o.Status,
			strconv.Itoa(o.Attempts),
			o.Message,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a result to a Markdown report with a totals table and the error list
func ExportToMarkdown(result *models.ProcessingResult) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Provisioning Report\n\n")
	buf.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&buf, "| Total | %d |\n", result.TotalRecords)
	fmt.Fprintf(&buf, "| Successful | %d |\n", result.SuccessfulRecords)
	fmt.Fprintf(&buf, "| Duplicates | %d |\n", result.DuplicateRecords)
	fmt.Fprintf(&buf, "| Failed | %d |\n", result.FailedRecords)
	fmt.Fprintf(&buf, "| Success rate | %.2f%% |\n", result.SuccessRate())
	fmt.Fprintf(&buf, "| Elapsed | %s |\n", result.Elapsed.Round(time.Millisecond))

	if len(result.Errors) > 0 {
		buf.WriteString("\n## Errors\n\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&buf, "- Row %d (%s): %s\n", e.Row, e.Email, escapeMarkdown(e.Message))
		}
	}

	return buf.Bytes(), nil
}

// ExportToJSON converts a result to JSON
func ExportToJSON(result *models.ProcessingResult, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(result, "", "  ")
	}
	return json.Marshal(result)
}

// WriteReport writes result to path in the format selected by its extension (.csv, .md or .json).
func WriteReport(result *models.ProcessingResult, path string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		data, err = ExportToCSV(result)
	case ".md", ".markdown":
		data, err = ExportToMarkdown(result)
	case ".json":
		data, err = ExportToJSON(result, true)
	default:
		return fmt.Errorf("%w: unsupported report format %q (want .csv, .md or .json)", shared.ErrInvalidArgument, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("\n", " ", "|", `\|`).Replace(s)
}
