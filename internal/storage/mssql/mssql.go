// Package mssql is the SQL Server backend (github.com/microsoft/go-mssqldb).
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/shotam27/souchiJohoKanri/internal/storage"
	"github.com/shotam27/souchiJohoKanri/internal/storage/sqldb"
)

func init() {
	storage.Register("mssql", Open)
}

// Open opens a sqlserver:// DSN.
func Open(ctx context.Context, cfg storage.Config) (storage.DB, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
	if cfg.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}
	return sqldb.New(db, Dialect{}), nil
}

// Dialect renders T-SQL.
type Dialect struct{}

func (Dialect) Name() string { return "mssql" }

// QuoteIdent brackets an identifier.
func (Dialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (Dialect) MaxIdentifierLength() int { return 128 }

func (Dialect) ColumnType(t storage.ColumnType) string {
	switch t {
	case storage.TypeKey:
		// 900-byte index key limit.
		return "NVARCHAR(450)"
	case storage.TypeName:
		return "NVARCHAR(100)"
	case storage.TypeAddress:
		return "NVARCHAR(45)"
	case storage.TypeSecret:
		return "NVARCHAR(255)"
	case storage.TypeBool:
		return "BIT"
	case storage.TypeTimestamp:
		return "DATETIME2"
	case storage.TypeSerial:
		return "BIGINT IDENTITY(1,1) PRIMARY KEY"
	case storage.TypeInt:
		return "BIGINT"
	default:
		return "NVARCHAR(MAX)"
	}
}

// CreateTable guards each statement with OBJECT_ID / sys.indexes since
// SQL Server has no IF NOT EXISTS form for either.
func (d Dialect) CreateTable(def storage.TableDef) []string {
	name := d.QuoteIdent(def.Name)
	stmts := []string{
		fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)",
			escapeLiteral(name), name, storage.ColumnDefs(d, def, renderDefault)),
	}
	for _, idx := range def.Indexes {
		stmts = append(stmts, fmt.Sprintf(
			"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s')) CREATE INDEX %s ON %s (%s)",
			escapeLiteral(idx.Name), escapeLiteral(name), d.QuoteIdent(idx.Name), name,
			strings.Join(storage.QuoteAll(d, idx.Columns), ", ")))
	}
	return stmts
}

// Upsert renders MERGE with HOLDLOCK so concurrent upserts of the same key
// serialize instead of racing into a duplicate insert.
func (d Dialect) Upsert(spec storage.UpsertSpec) string {
	cols := storage.QuoteAll(d, spec.Columns)
	src := make([]string, len(spec.Columns))
	for i := range spec.Columns {
		src[i] = d.Placeholder(i+1) + " AS " + cols[i]
	}
	on := make([]string, len(spec.Key))
	for i, k := range spec.Key {
		q := d.QuoteIdent(k)
		on[i] = "t." + q + " = s." + q
	}
	srcCols := make([]string, len(cols))
	for i, c := range cols {
		srcCols[i] = "s." + c
	}

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(d.QuoteIdent(spec.Table))
	b.WriteString(" WITH (HOLDLOCK) AS t USING (SELECT ")
	b.WriteString(strings.Join(src, ", "))
	b.WriteString(") AS s ON ")
	b.WriteString(strings.Join(on, " AND "))

	sets := storage.UpdateSet(d, spec, func(col string) string {
		return "s." + d.QuoteIdent(col)
	})
	if len(sets) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(srcCols, ", "))
	b.WriteString(");")
	return b.String()
}

func (Dialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1`
}

func (Dialect) ColumnsQuery() string {
	return `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1
		ORDER BY ORDINAL_POSITION`
}

func (Dialect) TablesQuery() string {
	return `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`
}

func (Dialect) Paginate(orderBy string, limitArg, offsetArg int) string {
	return fmt.Sprintf(" ORDER BY %s OFFSET @p%d ROWS FETCH NEXT @p%d ROWS ONLY", orderBy, offsetArg, limitArg)
}

// ContainsOperator is LIKE; the default collation is case-insensitive.
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

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
