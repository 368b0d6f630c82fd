package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
)

const (
	// sampleRows is how many rows of each result are shown to the model.
	sampleRows = 3
	// maxPromptValueLen clips long cell values in result summaries.
	maxPromptValueLen = 50
	// maxQueryPreviewLen clips the SQL echoed in result summaries.
	maxQueryPreviewLen = 50
)

// BuildSQLGenerationPrompt creates the prompt that asks the model for a JSON
// array of DuckDB queries answering question against the described schema.
func BuildSQLGenerationPrompt(question, schemaText string) string {
	var prompt strings.Builder

	prompt.WriteString("You are a SQL expert. Generate SQL queries to answer the user's question based on the provided database schema.\n\n")

	prompt.WriteString("Database Schema:\n")
	prompt.WriteString(schemaText)
	prompt.WriteString("\n\n")

	prompt.WriteString(fmt.Sprintf("User Question: %s\n\n", question))

	prompt.WriteString("Requirements:\n")
	prompt.WriteString("1. Generate only valid SQL queries that can run against DuckDB\n")
	prompt.WriteString("2. Use appropriate aggregations, filters, and joins based on the available tables and columns\n")
	prompt.WriteString("3. Consider data types and constraints shown in the schema\n")
	prompt.WriteString("4. Return multiple queries if needed to fully answer the question\n")
	prompt.WriteString("5. Use proper SQL formatting and best practices\n")
	prompt.WriteString("6. Only reference tables and columns that exist in the provided schema\n")
	prompt.WriteString("7. Use standard SQL syntax compatible with DuckDB\n")
	prompt.WriteString("8. IMPORTANT DuckDB-specific function names:\n")
	prompt.WriteString("   - Use 'julian' function instead of 'JULIANDAY' for Julian day calculations\n")
	prompt.WriteString("   - Use 'DATE_DIFF' or 'DATEDIFF' for date differences (not DATE_SUB)\n")
	prompt.WriteString("   - Use 'DATE_PART' or 'EXTRACT' for extracting date parts\n")
	prompt.WriteString("   - Use 'STRPTIME' instead of 'STR_TO_DATE' for parsing dates\n")
	prompt.WriteString("   - Refer to DuckDB documentation for other function names if unsure\n\n")

	prompt.WriteString("SPECIAL INSTRUCTIONS FOR COMPREHENSIVE ANALYSIS:\n")
	prompt.WriteString("- If the question asks about \"most leads\", \"highest volume\", or similar superlatives, generate queries that show ALL time periods (months/quarters/years) with their counts, not just the maximum\n")
	prompt.WriteString("- For temporal questions, always include comprehensive breakdowns (e.g., all months, not just the peak month)\n")
	prompt.WriteString("- For comparison questions, provide complete datasets that allow full comparison across all relevant dimensions\n")
	prompt.WriteString("- Use ORDER BY and LIMIT appropriately, but ensure the query provides enough context for complete analysis\n\n")

	prompt.WriteString("Return your response as a JSON array of SQL query strings. Example format:\n")
	prompt.WriteString(`["SELECT * FROM table1 WHERE condition", "SELECT COUNT(*) FROM table2"]`)
	prompt.WriteString("\n\nOnly return the JSON array, no additional text or explanation.")

	return prompt.String()
}

// BuildSynthesisPrompt creates the prompt that turns executed queries and
// their results into a natural-language answer.
func BuildSynthesisPrompt(question string, queries []string, results []*duckdb.QueryResult) string {
	var prompt strings.Builder

	prompt.WriteString("You are a data analyst. Create a clear, insightful response to the user's question based on the SQL query results.\n\n")
	prompt.WriteString(fmt.Sprintf("Original Question: %s\n\n", question))

	prompt.WriteString("SQL Queries Executed:\n")
	prompt.WriteString(FormatQueryList(queries))
	prompt.WriteString("\n\n")

	prompt.WriteString("Query Results:\n")
	prompt.WriteString(FormatQueryResults(queries, results))
	prompt.WriteString("\n\n")

	prompt.WriteString("Requirements:\n")
	prompt.WriteString("1. Provide a direct answer to the user's question\n")
	prompt.WriteString("2. Include specific numbers and insights from the data\n")
	prompt.WriteString("3. Explain any trends or patterns found in the results\n")
	prompt.WriteString("4. Use clear, non-technical language that anyone can understand\n")
	prompt.WriteString("5. If multiple queries were executed, synthesize the results coherently\n")
	prompt.WriteString("6. If no data was found, explain what this means in context\n")
	prompt.WriteString("7. ONLY suggest follow-up questions if the query results are incomplete or if there are obvious gaps in the data that would require additional analysis\n")
	prompt.WriteString("8. If you have comprehensive data that fully answers the question (like monthly breakdowns, comparisons, or complete datasets), provide a complete answer without suggesting to look at additional data\n")
	prompt.WriteString("9. Keep the response concise but comprehensive\n\n")

	prompt.WriteString("Generate a comprehensive but concise response that directly answers the user's question. ")
	prompt.WriteString("If you have all the data needed to fully answer the question, provide a complete response without suggesting additional analysis.")

	return prompt.String()
}

// FormatQueryList numbers queries one per line.
func FormatQueryList(queries []string) string {
	if len(queries) == 0 {
		return "No SQL queries executed"
	}
	lines := make([]string, 0, len(queries))
	for i, q := range queries {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, q))
	}
	return strings.Join(lines, "\n")
}

// FormatQueryResults summarizes each result with its row count, columns and
// up to three sample rows.
func FormatQueryResults(queries []string, results []*duckdb.QueryResult) string {
	if len(results) == 0 {
		return "No query results available"
	}

	blocks := make([]string, 0, len(results))
	for i, res := range results {
		queryText := fmt.Sprintf("Query %d", i+1)
		if i < len(queries) {
			queryText = queries[i]
		}

		if !res.Success {
			errMsg := res.Error
			if errMsg == "" {
				errMsg = "Unknown error"
			}
			blocks = append(blocks, fmt.Sprintf("Query %d (%s): FAILED - %s", i+1, queryText, errMsg))
			continue
		}

		var b strings.Builder
		b.WriteString(fmt.Sprintf("Query %d (%s):", i+1, clip(queryText, maxQueryPreviewLen)))
		b.WriteString(fmt.Sprintf("\n  - Returned %d rows", res.RowCount))
		if len(res.Columns) > 0 {
			b.WriteString("\n  - Columns: " + strings.Join(res.Columns, ", "))
		}

		switch {
		case len(res.Rows) > 0 && res.RowCount > 0:
			n := min(sampleRows, len(res.Rows))
			b.WriteString(fmt.Sprintf("\n  - Sample data (first %d rows):", n))
			for j, row := range res.Rows[:n] {
				b.WriteString(fmt.Sprintf("\n    Row %d: {%s}", j+1, formatRow(res.Columns, row, maxPromptValueLen)))
			}
			if res.RowCount > n {
				b.WriteString(fmt.Sprintf("\n  - ... and %d more rows", res.RowCount-n))
			}
		case res.RowCount == 0:
			b.WriteString("\n  - No data returned")
		}

		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// formatRow renders row as "key: value" pairs in column order. A positive
// maxLen clips each value.
func formatRow(columns []string, row map[string]any, maxLen int) string {
	items := make([]string, 0, len(columns))
	for _, col := range columns {
		v, ok := row[col]
		if !ok {
			continue
		}
		s := fmt.Sprint(v)
		if maxLen > 0 && len(s) > maxLen {
			s = logging.TruncateString(s, maxLen-3)
		}
		items = append(items, fmt.Sprintf("%s: %s", col, s))
	}
	return strings.Join(items, ", ")
}

// clip shortens s to n bytes, marking the cut with "...".
func clip(s string, n int) string {
	return logging.TruncateString(s, n)
}
