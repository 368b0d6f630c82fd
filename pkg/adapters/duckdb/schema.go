package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	sampleValueLimit  = 5
	promptSampleLimit = 3

	RelationshipForeignKey = "foreign_key"
	RelationshipJunction   = "junction_table"
)

var printer = message.NewPrinter(language.English)

// ColumnInfo describes one column. The statistics fields are only filled
// when column profiling is enabled.
type ColumnInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	SampleValues []any  `json:"sample_values,omitempty"`
	UniqueCount  *int64 `json:"unique_count,omitempty"`
	MinValue     any    `json:"min_value,omitempty"`
	MaxValue     any    `json:"max_value,omitempty"`
}

// Relationship is a join path inferred from column naming.
type Relationship struct {
	FromTable        string `json:"from_table"`
	FromColumn       string `json:"from_column"`
	ToTable          string `json:"to_table"`
	ToColumn         string `json:"to_column"`
	RelationshipType string `json:"relationship_type"`
}

// SchemaInfo is the schema description shared with prompt builders.
type SchemaInfo struct {
	Tables        []string                `json:"tables"`
	Schemas       map[string][]ColumnInfo `json:"schemas"`
	RowCounts     map[string]int64        `json:"row_counts"`
	Relationships []Relationship          `json:"relationships"`
	PrimaryTable  string                  `json:"primary_table,omitempty"`
}

// EmptySchema returns a well-formed schema with no tables.
func EmptySchema() *SchemaInfo {
	return &SchemaInfo{
		Tables:        []string{},
		Schemas:       map[string][]ColumnInfo{},
		RowCounts:     map[string]int64{},
		Relationships: []Relationship{},
	}
}

// IsEmpty reports whether the schema lists no tables.
func (s *SchemaInfo) IsEmpty() bool {
	return s == nil || len(s.Tables) == 0
}

// ColumnNames returns the column names of table in declaration order.
func (s *SchemaInfo) ColumnNames(table string) []string {
	cols := s.Schemas[table]
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names
}

// SchemaInfo returns the cached schema, extracting it on first use. A
// failure to connect or list tables yields an empty schema, which is not
// cached so a later call can try again.
func (s *Session) SchemaInfo(ctx context.Context) *SchemaInfo {
	s.mu.Lock()
	if s.schema != nil {
		schema := s.schema
		s.mu.Unlock()
		return schema
	}
	s.mu.Unlock()

	db, err := s.Connection(ctx)
	if err != nil {
		s.logger.Error("Failed to extract schema", zap.Error(err))
		return EmptySchema()
	}

	schema, err := extractSchema(ctx, db, s.opts.ProfileColumns, s.logger)
	if err != nil {
		s.logger.Error("Failed to extract schema", zap.Error(err))
		return EmptySchema()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema == nil {
		s.schema = schema
		s.logger.Info("Extracted schema", zap.Int("tables", len(schema.Tables)))
	}
	return s.schema
}

// ListTables returns the table names in the database behind db.
func ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DescribeTable returns column names, types and nullability for table.
func DescribeTable(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error) {
	_, rows, err := queryMaps(ctx, db, "DESCRIBE "+quoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", table, err)
	}
	cols := make([]ColumnInfo, 0, len(rows))
	for _, r := range rows {
		col := ColumnInfo{
			Name:     fmt.Sprint(r["column_name"]),
			Type:     fmt.Sprint(r["column_type"]),
			Nullable: true,
		}
		if n, ok := r["null"].(string); ok {
			col.Nullable = strings.EqualFold(n, "YES")
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// CountRows returns SELECT COUNT(*) for table.
func CountRows(ctx context.Context, db *sql.DB, table string) (int64, error) {
	query, args, err := sq.Select("COUNT(*)").From(quoteIdent(table)).ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return n, nil
}

func extractSchema(ctx context.Context, db *sql.DB, profile bool, logger *zap.Logger) (*SchemaInfo, error) {
	tables, err := ListTables(ctx, db)
	if err != nil {
		return nil, err
	}

	schema := EmptySchema()
	schema.Tables = tables

	var largest int64 = -1
	for _, table := range tables {
		cols, err := DescribeTable(ctx, db, table)
		if err != nil {
			logger.Warn("Failed to describe table", zap.String("table", table), zap.Error(err))
			schema.Schemas[table] = []ColumnInfo{}
			schema.RowCounts[table] = 0
			continue
		}

		count, err := CountRows(ctx, db, table)
		if err != nil {
			logger.Warn("Could not get row count", zap.String("table", table), zap.Error(err))
			count = 0
		}
		schema.RowCounts[table] = count

		if profile && count > 0 {
			for i := range cols {
				profileColumn(ctx, db, table, &cols[i], logger)
			}
		}
		schema.Schemas[table] = cols

		if count > largest {
			largest = count
			schema.PrimaryTable = table
		}
	}

	schema.Relationships = detectRelationships(tables, schema.Schemas)
	return schema, nil
}

// profileColumn fills sample values, distinct count and range. Failures
// leave the statistics empty.
func profileColumn(ctx context.Context, db *sql.DB, table string, col *ColumnInfo, logger *zap.Logger) {
	ident := quoteIdent(col.Name)
	from := quoteIdent(table)

	query, args, err := sq.Select(ident).Distinct().From(from).
		Where(sq.NotEq{ident: nil}).
		Limit(sampleValueLimit).ToSql()
	if err != nil {
		return
	}
	_, rows, err := queryMaps(ctx, db, query, args...)
	if err != nil {
		logger.Debug("Failed to sample column", zap.String("table", table), zap.String("column", col.Name), zap.Error(err))
		return
	}
	col.SampleValues = make([]any, 0, len(rows))
	for _, r := range rows {
		col.SampleValues = append(col.SampleValues, r[col.Name])
	}

	query, args, err = sq.Select(fmt.Sprintf("COUNT(DISTINCT %s)", ident)).From(from).ToSql()
	if err != nil {
		return
	}
	var unique int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&unique); err == nil {
		col.UniqueCount = &unique
	}

	if !isOrderedType(col.Type) {
		return
	}
	query, args, err = sq.Select(
		fmt.Sprintf("MIN(%s) AS min_value", ident),
		fmt.Sprintf("MAX(%s) AS max_value", ident),
	).From(from).Where(sq.NotEq{ident: nil}).ToSql()
	if err != nil {
		return
	}
	_, rows, err = queryMaps(ctx, db, query, args...)
	if err != nil || len(rows) == 0 {
		logger.Debug("Failed to get column range", zap.String("table", table), zap.String("column", col.Name))
		return
	}
	col.MinValue = rows[0]["min_value"]
	col.MaxValue = rows[0]["max_value"]
}

var orderedTypeNames = []string{
	"INTEGER", "INT", "BIGINT", "SMALLINT", "TINYINT",
	"DECIMAL", "NUMERIC", "REAL", "DOUBLE", "FLOAT",
	"DATE", "TIME", "TIMESTAMP", "DATETIME",
}

// isOrderedType reports whether MIN/MAX are meaningful for the column type.
func isOrderedType(columnType string) bool {
	upper := strings.ToUpper(columnType)
	for _, t := range orderedTypeNames {
		if strings.Contains(upper, t) {
			return true
		}
	}
	return false
}

// detectRelationships infers foreign keys from column names such as
// customer_id referencing customers.id, and flags junction tables.
func detectRelationships(tables []string, schemas map[string][]ColumnInfo) []Relationship {
	rels := []Relationship{}
	if len(tables) < 2 {
		return rels
	}

	seen := make(map[string]bool)
	for _, table := range tables {
		for _, col := range schemas[table] {
			colName := strings.ToLower(col.Name)
			for _, other := range tables {
				if other == table || !isForeignKeyName(colName, other) {
					continue
				}
				target := referencedColumn(other, schemas[other])
				if target == "" {
					continue
				}
				key := table + "\x00" + col.Name + "\x00" + other
				if seen[key] {
					continue
				}
				seen[key] = true
				rels = append(rels, Relationship{
					FromTable:        table,
					FromColumn:       col.Name,
					ToTable:          other,
					ToColumn:         target,
					RelationshipType: RelationshipForeignKey,
				})
			}
		}
	}

	for _, table := range tables {
		cols := schemas[table]
		if len(cols) == 0 || len(cols) > 3 {
			continue
		}
		var fks []string
		for _, col := range cols {
			name := strings.ToLower(col.Name)
			if name == "id" {
				continue
			}
			if strings.Contains(name, "_id") || strings.Contains(name, "id_") || strings.Contains(name, "_key") {
				fks = append(fks, col.Name)
			}
		}
		if len(fks) >= 2 && len(fks) >= len(cols)-1 {
			rels = append(rels, Relationship{
				FromTable:        table,
				FromColumn:       fks[0] + ", " + fks[1],
				ToTable:          "multiple",
				ToColumn:         "multiple",
				RelationshipType: RelationshipJunction,
			})
		}
	}
	return rels
}

func isForeignKeyName(column, table string) bool {
	lower := strings.ToLower(table)
	for _, base := range []string{lower, inflection.Singular(lower)} {
		switch column {
		case base + "_id", base + "id", "id_" + base, base + "_key":
			return true
		}
	}
	return false
}

func referencedColumn(table string, cols []ColumnInfo) string {
	lower := strings.ToLower(table)
	for _, c := range cols {
		switch strings.ToLower(c.Name) {
		case "id", "key", lower + "_id":
			return c.Name
		}
	}
	return ""
}

// FormatForPrompt renders the schema as the overview text embedded in
// SQL generation prompts.
func (s *SchemaInfo) FormatForPrompt() string {
	if s.IsEmpty() {
		return "No schema information available"
	}

	var b strings.Builder
	var totalRows int64
	for _, n := range s.RowCounts {
		totalRows += n
	}

	b.WriteString("Database Overview:\n")
	plural := "s"
	if len(s.Tables) == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "  - %d table%s\n", len(s.Tables), plural)
	printer.Fprintf(&b, "  - %d total rows across all tables\n", totalRows)
	if s.PrimaryTable != "" {
		fmt.Fprintf(&b, "  - Primary table: %s\n", s.PrimaryTable)
	}
	b.WriteString("\n")

	for _, table := range s.Tables {
		rowCount := s.RowCounts[table]
		marker := ""
		if table == s.PrimaryTable {
			marker = " (PRIMARY)"
		}
		fmt.Fprintf(&b, "Table: %s%s\n", table, marker)
		printer.Fprintf(&b, "  - Row count: %d\n", rowCount)

		cols := s.Schemas[table]
		if len(cols) == 0 {
			b.WriteString("    No column information available\n\n")
			continue
		}
		b.WriteString("  - Columns:\n")
		for _, col := range cols {
			b.WriteString(formatColumn(col, rowCount))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(s.Relationships) > 0 {
		b.WriteString("Table Relationships:\n")
		for _, r := range s.Relationships {
			if r.RelationshipType == RelationshipJunction {
				fmt.Fprintf(&b, "  - %s: Junction table connecting multiple entities\n", r.FromTable)
				continue
			}
			fmt.Fprintf(&b, "  - %s.%s → %s.%s\n", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatColumn(col ColumnInfo, rowCount int64) string {
	nullInfo := " (not null)"
	if col.Nullable {
		nullInfo = " (nullable)"
	}
	line := fmt.Sprintf("    * %s: %s%s", col.Name, col.Type, nullInfo)

	var stats []string
	if col.UniqueCount != nil {
		if *col.UniqueCount == rowCount {
			stats = append(stats, "unique")
		} else {
			stats = append(stats, printer.Sprintf("%d distinct values", *col.UniqueCount))
		}
	}
	if col.MinValue != nil && col.MaxValue != nil {
		minStr, maxStr := fmt.Sprint(col.MinValue), fmt.Sprint(col.MaxValue)
		if minStr == maxStr {
			stats = append(stats, "constant value: "+minStr)
		} else {
			stats = append(stats, fmt.Sprintf("range: %s to %s", minStr, maxStr))
		}
	}
	if len(col.SampleValues) > 0 {
		n := min(len(col.SampleValues), promptSampleLimit)
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			parts[i] = fmt.Sprint(col.SampleValues[i])
		}
		examples := strings.Join(parts, ", ")
		if len(col.SampleValues) > promptSampleLimit {
			examples += "..."
		}
		stats = append(stats, "examples: "+examples)
	}
	if len(stats) > 0 {
		line += " [" + strings.Join(stats, "; ") + "]"
	}
	return line
}

// quoteIdent double-quotes a DuckDB identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
