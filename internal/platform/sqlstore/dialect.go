// Package sqlstore implements store.TaskStore over database/sql. The SQLite
// and PostgreSQL adapters share it and differ only in their Dialect.
package sqlstore

import (
	"strconv"
	"strings"

	"github.com/phrazzld/contentq/internal/store"
)

// Dialect captures what differs between SQL engines.
type Dialect interface {
	// Name is the goose dialect name.
	Name() string

	// Rebind rewrites ? placeholders into the engine's native form.
	Rebind(query string) string

	// ClaimQuery returns one atomic statement that selects up to
	// criteria.Limit eligible rows, moves them to running under
	// criteria.WorkerID and returns them in Columns order.
	// Placeholders are written as ?.
	ClaimQuery(criteria store.ClaimCriteria) (string, []any)

	// MapError translates driver errors into store sentinels.
	MapError(err error) error
}

// RebindDollar rewrites ? placeholders to $1, $2, ... in order. Question
// marks inside single-quoted literals are left alone.
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// placeholders returns "?, ?, ?" with n marks.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
