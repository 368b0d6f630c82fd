package sql

import (
	"fmt"
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a tool argument.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ArgName     string // Name of the argument that failed the check
	ArgValue    any    // The value that was checked
}

func (r *InjectionCheckResult) Error() string {
	return fmt.Sprintf("argument %q looks like SQL injection (fingerprint %s)", r.ArgName, r.Fingerprint)
}

// CheckArgumentForInjection uses libinjection to detect SQL injection
// patterns in a tool argument value. Only string values are checked;
// anything else returns nil.
//
// Example:
//
//	CheckArgumentForInjection("db_path", "sales.duckdb")          // nil
//	CheckArgumentForInjection("db_path", "x' OR '1'='1")          // IsSQLi == true
func CheckArgumentForInjection(argName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			ArgName:     argName,
			ArgValue:    value,
		}
	}

	return nil
}

// CheckArguments checks the named arguments and returns one result per hit,
// ordered by argument name. Names missing from args are skipped.
func CheckArguments(args map[string]any, names ...string) []*InjectionCheckResult {
	if len(names) == 0 {
		for name := range args {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var results []*InjectionCheckResult
	for _, name := range names {
		value, ok := args[name]
		if !ok {
			continue
		}
		if result := CheckArgumentForInjection(name, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
