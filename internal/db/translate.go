package db

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The statement corpus is small and hand-authored, so translation is plain
// rule-ordered text rewriting, not SQL parsing. Rule order is fixed: the
// AUTOINCREMENT form must be consumed before the plain primary-key form, and
// the DATETIME column type (upper case, as authored in DDL) is distinct from
// the lower-case datetime('now') call. Re-applying the rules to already
// translated text leaves it unchanged.

type rewriteRule struct {
	pattern *regexp.Regexp
	replace string
}

var dialectRules = []rewriteRule{
	{regexp.MustCompile(`INTEGER PRIMARY KEY AUTOINCREMENT`), "BIGSERIAL PRIMARY KEY"},
	{regexp.MustCompile(`INTEGER PRIMARY KEY`), "BIGSERIAL PRIMARY KEY"},
	{regexp.MustCompile(`\bDATETIME\b`), "TIMESTAMP"},
	{regexp.MustCompile(`datetime\('now'\)`), "CURRENT_TIMESTAMP"},
}

var (
	insertOrIgnoreRe = regexp.MustCompile(`(?i)^\s*INSERT\s+OR\s+IGNORE\s+INTO\b`)
	insertRe         = regexp.MustCompile(`(?i)^\s*INSERT\b`)
	returningRe      = regexp.MustCompile(`(?i)\bRETURNING\b`)
)

// translateDialect rewrites SQL authored in the SQLite dialect into
// PostgreSQL syntax. Placeholder renumbering is separate (numberPlaceholders)
// because it is re-derived per call while this form is cached per handle.
func translateDialect(sql string) string {
	out := sql
	for _, rule := range dialectRules {
		out = rule.pattern.ReplaceAllString(out, rule.replace)
	}
	if insertOrIgnoreRe.MatchString(out) {
		out = insertOrIgnoreRe.ReplaceAllString(out, "INSERT INTO")
		out = strings.TrimRight(out, " \t\r\n;") + " ON CONFLICT DO NOTHING"
	}
	return out
}

// ensureInsertReturning appends RETURNING id to INSERT statements that do not
// already carry a RETURNING clause, so the generated key can be read back on
// a backend that does not otherwise expose it.
func ensureInsertReturning(sql string) string {
	if !insertRe.MatchString(sql) {
		return sql
	}
	if returningRe.MatchString(sql) {
		return sql
	}
	return strings.TrimRight(sql, " \t\r\n;") + " RETURNING id"
}

// numberPlaceholders replaces each positional ? with $1, $2, ... in left to
// right order, skipping single-quoted literals. Parameter values are passed
// through unchanged; both forms are strictly positional so no reordering is
// ever needed. An unterminated literal is a static translation error.
func numberPlaceholders(sql string) (string, error) {
	var b strings.Builder
	b.Grow(len(sql) + 8)

	n := 0
	inLiteral := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	if inLiteral {
		return "", fmt.Errorf("number placeholders: unterminated string literal in %q", sql)
	}
	return b.String(), nil
}
