package policy

import (
	"regexp"
	"strings"
)

// Category classifies a single SQL statement by its leading verb.
type Category string

// Statement categories, ordered roughly by how much damage they can do.
const (
	CategorySelect             Category = "select"
	CategoryWrite              Category = "write"
	CategoryDDLSafe            Category = "ddl-safe"
	CategoryDDLDestructive     Category = "ddl-destructive"
	CategoryDMLDestructive     Category = "dml-destructive"
	CategoryDMLUnboundedUpdate Category = "dml-unbounded-update"
	CategoryBlockedSystem      Category = "blocked-system"
	CategoryTransactionControl Category = "transaction-control"
)

// IsDangerous reports whether statements in this category require password
// re-authentication before execution.
func (c Category) IsDangerous() bool {
	switch c {
	case CategoryDMLDestructive, CategoryDDLDestructive, CategoryDMLUnboundedUpdate:
		return true
	}
	return false
}

// IsTransactionControl reports whether the category is a transaction-control
// command (BEGIN, COMMIT, ROLLBACK, ...).
func (c Category) IsTransactionControl() bool {
	return c == CategoryTransactionControl
}

// Statement is a single classified SQL fragment from a batch.
type Statement struct {
	Text     string
	Category Category
}

// wordRegex extracts keyword-shaped tokens for leading-verb matching.
var wordRegex = regexp.MustCompile(`[A-Za-z_]+`)

// ClassifySQL splits a batch into individual statements and classifies each
// one. Comments never affect classification, and quoted regions (single,
// double and dollar quoting) never terminate a statement.
func ClassifySQL(sql string) []Statement {
	fragments := SplitStatements(sql)
	statements := make([]Statement, 0, len(fragments))
	for _, frag := range fragments {
		statements = append(statements, Statement{
			Text:     frag,
			Category: classifyStatement(frag),
		})
	}
	return statements
}

// SplitStatements strips comments and splits the input on top-level
// semicolons. Semicolons inside quoted or dollar-quoted regions do not split.
// Empty fragments are dropped.
func SplitStatements(sql string) []string {
	var (
		out []string
		cur strings.Builder
	)

	flush := func() {
		frag := strings.TrimSpace(cur.String())
		cur.Reset()
		if frag != "" {
			out = append(out, frag)
		}
	}

	i, n := 0, len(sql)
	for i < n {
		c := sql[i]
		switch {
		case c == '-' && i+1 < n && sql[i+1] == '-':
			// Line comment: skip to end of line, keep the newline as a separator.
			for i < n && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			i += 2
			for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			if i+1 < n {
				i += 2
			} else {
				i = n
			}
			cur.WriteByte(' ')
		case c == '\'', c == '"':
			end := scanQuoted(sql, i, c)
			cur.WriteString(sql[i:end])
			i = end
		case c == '$':
			if tag, ok := dollarQuoteTag(sql[i:]); ok {
				end := scanDollarQuoted(sql, i, tag)
				cur.WriteString(sql[i:end])
				i = end
			} else {
				cur.WriteByte(c)
				i++
			}
		case c == ';':
			flush()
			i++
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return out
}

// StripComments removes `--` line comments and `/* */` block comments,
// leaving quoted regions untouched. Statement boundaries are preserved.
func StripComments(sql string) string {
	var out strings.Builder
	i, n := 0, len(sql)
	for i < n {
		c := sql[i]
		switch {
		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			i += 2
			for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			if i+1 < n {
				i += 2
			} else {
				i = n
			}
			out.WriteByte(' ')
		case c == '\'', c == '"':
			end := scanQuoted(sql, i, c)
			out.WriteString(sql[i:end])
			i = end
		case c == '$':
			if tag, ok := dollarQuoteTag(sql[i:]); ok {
				end := scanDollarQuoted(sql, i, tag)
				out.WriteString(sql[i:end])
				i = end
			} else {
				out.WriteByte(c)
				i++
			}
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String()
}

// scanQuoted returns the index just past the closing quote starting at
// sql[start] == quote. Doubled quotes inside the region are treated as
// escapes ('' and "").
func scanQuoted(sql string, start int, quote byte) int {
	i, n := start+1, len(sql)
	for i < n {
		if sql[i] == quote {
			if i+1 < n && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return n
}

// dollarQuoteTag reports whether s begins a dollar-quoted region and returns
// the full opening tag (for example "$$" or "$body$").
func dollarQuoteTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		if !isIdentChar(c) {
			return "", false
		}
	}
	return "", false
}

// scanDollarQuoted returns the index just past the closing tag of a
// dollar-quoted region opened at sql[start].
func scanDollarQuoted(sql string, start int, tag string) int {
	body := start + len(tag)
	if end := strings.Index(sql[body:], tag); end >= 0 {
		return body + end + len(tag)
	}
	return len(sql)
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// classifyStatement assigns a category from the leading verb of a single
// comment-free statement.
func classifyStatement(text string) Category {
	words := leadingWords(text, 4)
	if len(words) == 0 {
		return CategoryWrite
	}

	switch words[0] {
	case "SELECT", "EXPLAIN", "SHOW", "TABLE", "VALUES":
		return CategorySelect
	case "WITH":
		return classifyWith(text)
	case "INSERT":
		return CategoryWrite
	case "UPDATE":
		if hasTopLevelWhere(text) {
			return CategoryWrite
		}
		return CategoryDMLUnboundedUpdate
	case "DELETE":
		return CategoryDMLDestructive
	case "TRUNCATE":
		return CategoryDMLDestructive
	case "BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT":
		return CategoryTransactionControl
	case "START":
		if second(words) == "TRANSACTION" {
			return CategoryTransactionControl
		}
		return CategoryWrite
	case "GRANT", "REVOKE":
		return CategoryBlockedSystem
	case "CREATE":
		return classifyCreate(words)
	case "DROP":
		return classifyDrop(words)
	case "ALTER":
		return classifyAlter(text, words)
	}
	// Unrecognized verbs (SET, VACUUM, ANALYZE, ...) pass through under the
	// write rules: permitted for USER and above, no re-auth.
	return CategoryWrite
}

func classifyCreate(words []string) Category {
	switch second(words) {
	case "DATABASE", "SCHEMA", "ROLE", "USER":
		return CategoryBlockedSystem
	case "TABLE", "INDEX", "VIEW", "SEQUENCE":
		return CategoryDDLSafe
	case "UNIQUE", "OR": // CREATE UNIQUE INDEX, CREATE OR REPLACE ...
		return CategoryDDLSafe
	}
	return CategoryDDLSafe
}

func classifyDrop(words []string) Category {
	switch second(words) {
	case "DATABASE", "SCHEMA", "ROLE", "USER":
		return CategoryBlockedSystem
	}
	// DROP TABLE / INDEX / VIEW / CONSTRAINT and anything else droppable.
	return CategoryDDLDestructive
}

// classifyAlter separates the additive ALTER TABLE ... ADD forms, which are
// safe schema growth, from every other ALTER, which can rewrite or discard
// data and therefore counts as destructive DDL.
func classifyAlter(text string, words []string) Category {
	switch second(words) {
	case "ROLE", "USER":
		return CategoryBlockedSystem
	case "TABLE":
		if alterTableAddRegex.MatchString(text) {
			return CategoryDDLSafe
		}
	}
	return CategoryDDLDestructive
}

// alterTableAddRegex matches the additive ALTER TABLE forms:
// ADD COLUMN, ADD CONSTRAINT, ADD INDEX (and bare ADD, which defaults to
// a column in PostgreSQL).
var alterTableAddRegex = regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\s+.+?\s+ADD\s+(COLUMN\s|CONSTRAINT\s|INDEX\s|[^(])`)

// classifyWith classifies a WITH (CTE) statement by the first top-level verb
// that follows the CTE definitions.
func classifyWith(text string) Category {
	depth := 0
	i, n := 0, len(text)
	for i < n {
		c := text[i]
		switch {
		case c == '\'', c == '"':
			i = scanQuoted(text, i, c)
		case c == '$':
			if tag, ok := dollarQuoteTag(text[i:]); ok {
				i = scanDollarQuoted(text, i, tag)
			} else {
				i++
			}
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		default:
			if depth == 0 && isWordBoundary(text, i) {
				rest := text[i:]
				upper := strings.ToUpper(rest)
				for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
					if strings.HasPrefix(upper, verb) && !isIdentTail(rest, len(verb)) {
						return classifyStatement(rest)
					}
				}
			}
			i++
		}
	}
	return CategorySelect
}

// hasTopLevelWhere reports whether the statement carries a WHERE clause
// outside of any parenthesized subquery or quoted region.
func hasTopLevelWhere(text string) bool {
	depth := 0
	i, n := 0, len(text)
	for i < n {
		c := text[i]
		switch {
		case c == '\'', c == '"':
			i = scanQuoted(text, i, c)
		case c == '$':
			if tag, ok := dollarQuoteTag(text[i:]); ok {
				i = scanDollarQuoted(text, i, tag)
			} else {
				i++
			}
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		default:
			if depth == 0 && isWordBoundary(text, i) {
				upper := strings.ToUpper(text[i:])
				if strings.HasPrefix(upper, "WHERE") && !isIdentTail(text[i:], 5) {
					return true
				}
			}
			i++
		}
	}
	return false
}

// isWordBoundary reports whether position i starts a new word.
func isWordBoundary(text string, i int) bool {
	if !isIdentChar(text[i]) {
		return false
	}
	return i == 0 || !isIdentChar(text[i-1])
}

// isIdentTail reports whether the word starting at s[0] continues past
// offset, which would make a keyword prefix match spurious (e.g. WHEREX).
func isIdentTail(s string, offset int) bool {
	return offset < len(s) && isIdentChar(s[offset])
}

// leadingWords returns up to max uppercase keyword tokens from the front of
// the statement.
func leadingWords(text string, max int) []string {
	words := wordRegex.FindAllString(text, max)
	for i := range words {
		words[i] = strings.ToUpper(words[i])
	}
	return words
}

func second(words []string) string {
	if len(words) > 1 {
		return words[1]
	}
	return ""
}
