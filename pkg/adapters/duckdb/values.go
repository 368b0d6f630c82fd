package duckdb

import (
	"fmt"
	"math/big"
	"time"

	duckdbgo "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
)

// normalizeValue converts a scanned driver value into something
// encoding/json renders sensibly. dbType is the column's DatabaseTypeName.
func normalizeValue(v any, dbType string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		if dbType == "UUID" && len(val) == 16 {
			if id, err := uuid.FromBytes(val); err == nil {
				return id.String()
			}
		}
		return string(val)
	case time.Time:
		return formatTime(val, dbType)
	case duckdbgo.Decimal:
		return val.Float64()
	case *big.Int:
		if val == nil {
			return nil
		}
		if val.IsInt64() {
			return val.Int64()
		}
		return val.String()
	case duckdbgo.UUID:
		return val.String()
	case duckdbgo.Interval:
		return fmt.Sprintf("%d months %d days %d microseconds", val.Months, val.Days, val.Micros)
	case duckdbgo.Map:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeValue(item, "")
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item, "")
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item, "")
		}
		return out
	}
	return v
}

// formatTime renders dates as YYYY-MM-DD and timestamps as ISO-8601.
func formatTime(t time.Time, dbType string) string {
	switch dbType {
	case "DATE":
		return t.Format("2006-01-02")
	case "TIME":
		return t.Format("15:04:05")
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && dbType == "" {
		return t.Format("2006-01-02")
	}
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02T15:04:05.999999")
	}
	return t.Format("2006-01-02T15:04:05")
}
