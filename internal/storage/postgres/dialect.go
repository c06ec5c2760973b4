package postgres

import (
	"fmt"
	"strings"

	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// Dialect renders PostgreSQL SQL. DDL is transactional, so tables created
// inside a failed batch disappear on rollback.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

// QuoteIdent double-quotes an identifier, preserving case.
func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// MaxIdentifierLength is NAMEDATALEN-1. Longer names are silently truncated
// by the server, which would break existence probes.
func (Dialect) MaxIdentifierLength() int { return 63 }

func (Dialect) ColumnType(t storage.ColumnType) string {
	switch t {
	case storage.TypeKey:
		return "VARCHAR(500)"
	case storage.TypeName:
		return "VARCHAR(100)"
	case storage.TypeAddress:
		return "VARCHAR(45)"
	case storage.TypeSecret:
		return "VARCHAR(255)"
	case storage.TypeBool:
		return "BOOLEAN"
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ"
	case storage.TypeSerial:
		return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	case storage.TypeInt:
		return "BIGINT"
	default:
		return "TEXT"
	}
}

func (d Dialect) CreateTable(def storage.TableDef) []string {
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
			d.QuoteIdent(def.Name), storage.ColumnDefs(d, def, renderDefault)),
	}
	for _, idx := range def.Indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			d.QuoteIdent(idx.Name), d.QuoteIdent(def.Name),
			strings.Join(storage.QuoteAll(d, idx.Columns), ", ")))
	}
	return stmts
}

func (d Dialect) Upsert(spec storage.UpsertSpec) string {
	return storage.OnConflictUpsert(d, spec, "EXCLUDED")
}

func (Dialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name::text = $1`
}

func (Dialect) ColumnsQuery() string {
	return `SELECT column_name::text FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name::text = $1
		ORDER BY ordinal_position`
}

func (Dialect) TablesQuery() string {
	return `SELECT table_name::text FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`
}

func (Dialect) Paginate(orderBy string, limitArg, offsetArg int) string {
	return fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, limitArg, offsetArg)
}

func (Dialect) ContainsOperator() string { return "ILIKE" }

func renderDefault(v storage.DefaultValue) string {
	switch v {
	case storage.DefaultNow:
		return "CURRENT_TIMESTAMP"
	case storage.DefaultTrue:
		return "TRUE"
	default:
		return "NULL"
	}
}
