// Package sqlutil centralizes identifier quoting and SQL-fragment assembly
// (spec §4.4/§9 C1). Nothing outside this package should concatenate an
// identifier directly into a query string.
package sqlutil

import (
	"regexp"
	"strings"
)

// IdentifierPattern is the set of characters config-loaded identifiers
// (layer names, schema/table/column names, job ids) must match. It is
// intentionally the same character class Postgres allows unquoted, minus
// the leading-digit case, so a validated identifier is always safe to
// quote and always safe as a temp-table-name suffix.
var IdentifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether s is safe to embed, quoted, into a query.
func ValidIdentifier(s string) bool {
	return IdentifierPattern.MatchString(s)
}

// QuoteIdent double-quotes a SQL identifier, escaping any embedded quote.
// Callers must have already validated s with ValidIdentifier at config-load
// time; QuoteIdent itself does not reject anything, it only quotes.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteQualified quotes a schema-qualified name as "schema"."name".
func QuoteQualified(schema, name string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}

// QuoteIdentList quotes every element of names and joins them with ", ".
func QuoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// Join is a small wrapper kept for parity with the original implementation's
// StringUtils::join helper; strings.Join already does the job but call
// sites read more like the source algorithm this way.
func Join(items []string, sep string) string {
	return strings.Join(items, sep)
}
