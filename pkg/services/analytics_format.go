package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
)

const (
	fallbackSampleRows    = 3
	fallbackSampleColumns = 5
	fallbackMaxStringLen  = 30
)

var printer = message.NewPrinter(language.English)

// FallbackResponse summarizes results without a model: row counts, a few
// sample rows per successful query and the errors of failed ones.
func FallbackResponse(question string, results []*duckdb.QueryResult) string {
	parts := []string{fmt.Sprintf("Based on your question: \"%s\"", question), ""}

	var succeeded, failed int
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}

	if succeeded == 0 && failed == 0 {
		parts = append(parts, "No queries were executed.")
		return strings.Join(parts, "\n")
	}

	if succeeded > 0 {
		parts = append(parts, "Here's what I found in your data:", "")

		for i, r := range results {
			if !r.Success {
				continue
			}
			n := i + 1
			switch r.RowCount {
			case 0:
				parts = append(parts, fmt.Sprintf("Query %d: No matching records found.", n))
			case 1:
				parts = append(parts, fmt.Sprintf("Query %d: Found 1 record.", n))
			default:
				parts = append(parts, fmt.Sprintf("Query %d: Found %d records.", n, r.RowCount))
			}

			if len(r.Rows) > 0 && r.RowCount > 0 {
				sample := min(fallbackSampleRows, len(r.Rows))
				cols := r.Columns[:min(fallbackSampleColumns, len(r.Columns))]
				for _, row := range r.Rows[:sample] {
					items := make([]string, 0, len(cols))
					for _, col := range cols {
						if v, ok := row[col]; ok {
							items = append(items, fmt.Sprintf("%s: %s", col, formatDisplayValue(v)))
						}
					}
					if len(items) > 0 {
						parts = append(parts, "  - "+strings.Join(items, ", "))
					}
				}
				if r.RowCount > sample {
					parts = append(parts, fmt.Sprintf("  ... and %d more records", r.RowCount-sample))
				}
			}
			parts = append(parts, "")
		}
	}

	if failed > 0 {
		parts = append(parts, "Some queries encountered issues:")
		for i, r := range results {
			if r.Success {
				continue
			}
			msg := r.Error
			if msg == "" {
				msg = "Unknown error"
			}
			parts = append(parts, fmt.Sprintf("Query %d: %s", i+1, msg))
		}
		parts = append(parts, "")
	}

	if succeeded > 0 {
		parts = append(parts, "This data should help answer your question. Feel free to ask follow-up questions for more specific insights!")
	} else {
		parts = append(parts, "I wasn't able to retrieve the data needed to answer your question. Please check if your database contains the expected tables and columns.")
	}

	return strings.Join(parts, "\n")
}

// formatDisplayValue renders numbers with thousands separators (two
// decimals for fractional floats) and clips long strings.
func formatDisplayValue(v any) string {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return printer.Sprintf("%d", n)
	case float32:
		return formatDisplayFloat(float64(n))
	case float64:
		return formatDisplayFloat(n)
	}

	return logging.TruncateString(fmt.Sprint(v), fallbackMaxStringLen)
}

func formatDisplayFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e18 {
		return printer.Sprintf("%d", int64(f))
	}
	return printer.Sprintf("%.2f", f)
}

// ExtractCleanResponse unwraps model output shaped like {"answer": "..."}
// and returns any other text unchanged.
func ExtractCleanResponse(response string) string {
	trimmed := strings.TrimSpace(response)
	if !strings.HasPrefix(trimmed, "{") {
		return response
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return response
	}
	if answer, ok := payload["answer"].(string); ok {
		return answer
	}
	return response
}
