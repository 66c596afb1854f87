package db

import (
	"database/sql/driver"
	"fmt"

	"golang.org/x/text/cases"
	"modernc.org/sqlite"
)

// casefoldFunc is the SQL name of the Unicode case folding function used by
// the case-insensitive searches. SQLite's built-in lower() only folds ASCII.
const casefoldFunc = "casefold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(casefoldFunc, 1, casefoldSQL)
}

func casefoldSQL(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return foldCase(v), nil
	case []byte:
		return foldCase(string(v)), nil
	default:
		return nil, fmt.Errorf("%s: unsupported argument type %T", casefoldFunc, v)
	}
}

// foldCase returns the Unicode case fold of s. A Caser keeps state, so each
// call gets its own.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

// containsFolded returns a predicate matching rows where column contains the
// bound, already folded, needle.
func containsFolded(column string) string {
	return "instr(" + casefoldFunc + "(" + column + "), ?) > 0"
}
