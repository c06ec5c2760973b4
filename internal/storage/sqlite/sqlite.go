// Package sqlite is the pure-Go SQLite backend (modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/shotam27/souchiJohoKanri/internal/storage"
	"github.com/shotam27/souchiJohoKanri/internal/storage/sqldb"
)

func init() {
	storage.Register("sqlite", Open)
}

// Open opens the database file named by cfg.DSN.
//
// A bare path is turned into a file: URI with a busy timeout. SQLite
// serializes writers, so the pool is limited to one connection.
func Open(ctx context.Context, cfg storage.Config) (storage.DB, error) {
	db, err := sql.Open("sqlite", DSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return sqldb.New(db, Dialect{}), nil
}

// DSN normalizes a path or URI into a modernc connection string.
func DSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return "file::memory:?_pragma=busy_timeout(5000)"
	}
	if strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return "file:" + dsn + "?_pragma=busy_timeout(5000)"
}

// Dialect renders SQLite SQL.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Placeholder uses numbered ?NNN parameters.
func (Dialect) Placeholder(n int) string { return fmt.Sprintf("?%d", n) }

func (Dialect) MaxIdentifierLength() int { return 0 }

func (Dialect) ColumnType(t storage.ColumnType) string {
	switch t {
	case storage.TypeBool, storage.TypeInt:
		return "INTEGER"
	case storage.TypeTimestamp:
		return "TIMESTAMP"
	case storage.TypeSerial:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
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
	return storage.OnConflictUpsert(d, spec, "excluded")
}

func (Dialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?1 COLLATE NOCASE`
}

func (Dialect) ColumnsQuery() string {
	return `SELECT name FROM pragma_table_info(?1) ORDER BY cid`
}

func (Dialect) TablesQuery() string {
	return `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`
}

func (Dialect) Paginate(orderBy string, limitArg, offsetArg int) string {
	return fmt.Sprintf(" ORDER BY %s LIMIT ?%d OFFSET ?%d", orderBy, limitArg, offsetArg)
}

// ContainsOperator is LIKE, which SQLite already matches case-insensitively
// for ASCII.
func (Dialect) ContainsOperator() string { return "LIKE" }

func renderDefault(v storage.DefaultValue) string {
	switch v {
	case storage.DefaultNow:
		return "CURRENT_TIMESTAMP"
	case storage.DefaultTrue:
		return "1"
	default:
		return "NULL"
	}
}
