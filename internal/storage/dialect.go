package storage

import (
	"fmt"
	"strings"
)

// ColumnType is a logical column type rendered per dialect.
type ColumnType int

const (
	// TypeKey is the string primary key shared by canonical and category tables.
	TypeKey ColumnType = iota
	// TypeName is a short required label (service, category, entity, account).
	TypeName
	// TypeAddress holds an IPv4/IPv6 literal.
	TypeAddress
	// TypeSecret holds a credential string.
	TypeSecret
	// TypeText is unbounded text (extended attributes, descriptions).
	TypeText
	TypeBool
	TypeTimestamp
	// TypeSerial is an auto-increment integer primary key, rendered inline.
	TypeSerial
	// TypeInt is a 64-bit counter.
	TypeInt
)

// DefaultValue is a column default rendered per dialect.
type DefaultValue int

const (
	DefaultNone DefaultValue = iota
	DefaultNow
	DefaultTrue
)

// Column describes one column of a table definition.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
	Default DefaultValue
}

// Index is a secondary, non-unique index.
type Index struct {
	Name    string
	Columns []string
}

// TableDef is everything a dialect needs to render CREATE TABLE.
type TableDef struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	Unique     [][]string
	Indexes    []Index
}

// UpsertSpec describes an insert-or-update keyed by Key.
//
// Columns are bound in order to placeholders 1..len(Columns). Columns not in
// Key are overwritten on conflict. Touch columns are set to the current
// timestamp on conflict and left to their defaults on insert.
type UpsertSpec struct {
	Table   string
	Columns []string
	Key     []string
	Touch   []string
}

// Dialect renders the SQL that differs between backends.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// MaxIdentifierLength is the longest table/column name in bytes the
	// backend keeps intact. Zero means unlimited.
	MaxIdentifierLength() int
	ColumnType(t ColumnType) string

	// CreateTable returns idempotent statements that create the table and its
	// indexes when absent. They never alter an existing table.
	CreateTable(def TableDef) []string
	Upsert(spec UpsertSpec) string

	// TableExistsQuery takes the table name as its only argument and returns a
	// single count.
	TableExistsQuery() string
	// ColumnsQuery takes the table name and returns column names in ordinal order.
	ColumnsQuery() string
	// TablesQuery returns every user table name in the current schema.
	TablesQuery() string

	// Paginate renders ORDER BY plus the limit/offset clause using the given
	// placeholder positions.
	Paginate(orderBy string, limitArg, offsetArg int) string
	// ContainsOperator is the case-insensitive LIKE operator.
	ContainsOperator() string
}

// QuoteAll quotes every name with d.
func QuoteAll(d Dialect, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdent(n)
	}
	return out
}

// Placeholders returns d's bind markers for arguments from..from+n-1.
func Placeholders(d Dialect, from, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = d.Placeholder(from + i)
	}
	return out
}

// CheckIdentifier fails when name is empty or longer than d allows.
func CheckIdentifier(d Dialect, name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	if limit := d.MaxIdentifierLength(); limit > 0 && len(name) > limit {
		return fmt.Errorf("identifier %q is %d bytes, %s allows %d", name, len(name), d.Name(), limit)
	}
	return nil
}

// ColumnDefs renders the column and constraint list shared by the
// CREATE TABLE forms of every dialect.
func ColumnDefs(d Dialect, def TableDef, renderDefault func(DefaultValue) string) string {
	parts := make([]string, 0, len(def.Columns)+1+len(def.Unique))
	for _, c := range def.Columns {
		var b strings.Builder
		b.WriteString(d.QuoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(d.ColumnType(c.Type))
		if c.NotNull && c.Type != TypeSerial {
			b.WriteString(" NOT NULL")
		}
		if c.Default != DefaultNone {
			b.WriteString(" DEFAULT ")
			b.WriteString(renderDefault(c.Default))
		}
		parts = append(parts, b.String())
	}
	if len(def.PrimaryKey) > 0 {
		parts = append(parts, "PRIMARY KEY ("+strings.Join(QuoteAll(d, def.PrimaryKey), ", ")+")")
	}
	for _, u := range def.Unique {
		parts = append(parts, "UNIQUE ("+strings.Join(QuoteAll(d, u), ", ")+")")
	}
	return strings.Join(parts, ", ")
}

// OnConflictUpsert renders the INSERT ... ON CONFLICT DO UPDATE form shared by
// Postgres and SQLite. excluded is the pseudo-table keyword ("EXCLUDED" or
// "excluded").
func OnConflictUpsert(d Dialect, spec UpsertSpec, excluded string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.QuoteIdent(spec.Table))
	b.WriteString(" (")
	b.WriteString(strings.Join(QuoteAll(d, spec.Columns), ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(Placeholders(d, 1, len(spec.Columns)), ", "))
	b.WriteString(") ON CONFLICT (")
	b.WriteString(strings.Join(QuoteAll(d, spec.Key), ", "))
	b.WriteString(")")

	sets := UpdateSet(d, spec, func(col string) string {
		return excluded + "." + d.QuoteIdent(col)
	})
	if len(sets) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}
	b.WriteString(" DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

// UpdateSet returns "col = <source>" assignments for every non-key column
// followed by the touch columns.
func UpdateSet(d Dialect, spec UpsertSpec, source func(col string) string) []string {
	key := make(map[string]bool, len(spec.Key))
	for _, k := range spec.Key {
		key[k] = true
	}
	var sets []string
	for _, c := range spec.Columns {
		if key[c] {
			continue
		}
		sets = append(sets, d.QuoteIdent(c)+" = "+source(c))
	}
	for _, c := range spec.Touch {
		sets = append(sets, d.QuoteIdent(c)+" = CURRENT_TIMESTAMP")
	}
	return sets
}
