package core

import (
	"strings"

	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// WhereBuilder assembles a parameterized WHERE clause for one dialect.
// Conditions are ANDed. Columns are always quoted; values are always bound.
type WhereBuilder struct {
	dialect    storage.Dialect
	alias      string
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder creates a builder whose first placeholder is argument 1.
func NewWhereBuilder(d storage.Dialect) *WhereBuilder {
	return &WhereBuilder{dialect: d, argIndex: 1}
}

// Alias qualifies subsequent columns with a table alias.
func (wb *WhereBuilder) Alias(alias string) *WhereBuilder {
	wb.alias = alias
	return wb
}

func (wb *WhereBuilder) column(col string) string {
	if wb.alias == "" {
		return wb.dialect.QuoteIdent(col)
	}
	return wb.alias + "." + wb.dialect.QuoteIdent(col)
}

func (wb *WhereBuilder) bind(v any) string {
	wb.args = append(wb.args, v)
	p := wb.dialect.Placeholder(wb.argIndex)
	wb.argIndex++
	return p
}

// Add adds "col = value" unless value is empty.
func (wb *WhereBuilder) Add(col, value string) *WhereBuilder {
	if value == "" {
		return wb
	}
	return wb.AddValue(col, value)
}

// AddValue adds "col = value" unconditionally.
func (wb *WhereBuilder) AddValue(col string, value any) *WhereBuilder {
	wb.conditions = append(wb.conditions, wb.column(col)+" = "+wb.bind(value))
	return wb
}

// AddContains adds a case-insensitive substring match unless value is empty.
// LIKE metacharacters in value match literally.
func (wb *WhereBuilder) AddContains(col, value string) *WhereBuilder {
	if value == "" {
		return wb
	}
	cond := wb.column(col) + " " + wb.dialect.ContainsOperator() + " " +
		wb.bind("%"+EscapeLike(value)+"%") + ` ESCAPE '\'`
	wb.conditions = append(wb.conditions, cond)
	return wb
}

// Build returns the clause with a leading space, or "" and nil args when no
// condition was added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// NextArgIndex returns the number of the next placeholder.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `[`, `\[`)

// EscapeLike escapes LIKE wildcards with a backslash. "[" is escaped for
// SQL Server, where it opens a character class.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
