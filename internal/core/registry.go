package core

// registry.go tracks which tables exist and with which columns.
//
// Category tables are created from batch content and never altered, so a
// table's column set is frozen at creation. The registry caches those frozen
// schemas. Entries discovered or created inside a batch transaction are held
// in a PendingSchemas set and only published once the transaction commits.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// TableSchema is the frozen column list of one table.
type TableSchema struct {
	Name    string
	Columns []string
}

// Column returns the stored spelling of col, matched case-insensitively.
func (s TableSchema) Column(col string) (string, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c, col) {
			return c, true
		}
	}
	return "", false
}

// ExtendedColumns returns the columns that hold caller-defined attributes.
func (s TableSchema) ExtendedColumns() []string {
	var out []string
	for _, c := range s.Columns {
		if isReservedColumn(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SchemaRegistry creates tables and caches their schemas.
type SchemaRegistry struct {
	dialect storage.Dialect

	mu     sync.RWMutex
	tables map[string]TableSchema
}

// NewSchemaRegistry creates an empty registry for one backend.
func NewSchemaRegistry(d storage.Dialect) *SchemaRegistry {
	return &SchemaRegistry{
		dialect: d,
		tables:  make(map[string]TableSchema),
	}
}

// Lookup returns a cached schema.
func (r *SchemaRegistry) Lookup(name string) (TableSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.tables[name]
	return s, ok
}

// Invalidate drops cached schemas, forcing the next use to probe storage.
func (r *SchemaRegistry) Invalidate(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		delete(r.tables, n)
	}
}

// Cached returns the names of all cached tables, sorted.
func (r *SchemaRegistry) Cached() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for n := range r.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *SchemaRegistry) publish(schemas map[string]TableSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n, s := range schemas {
		r.tables[n] = s
	}
}

// PendingSchemas collects schemas seen inside one transaction.
type PendingSchemas struct {
	registry *SchemaRegistry
	tables   map[string]TableSchema
}

// NewPending starts a pending set for one transaction.
func (r *SchemaRegistry) NewPending() *PendingSchemas {
	return &PendingSchemas{registry: r, tables: make(map[string]TableSchema)}
}

// Commit publishes every pending schema. Call it after the transaction
// commits.
func (p *PendingSchemas) Commit() {
	p.registry.publish(p.tables)
	p.tables = make(map[string]TableSchema)
}

// Discard drops the pending set and evicts the same names from the cache,
// since a failed transaction may mean the cached view was stale.
func (p *PendingSchemas) Discard() {
	names := make([]string, 0, len(p.tables))
	for n := range p.tables {
		names = append(names, n)
	}
	p.registry.Invalidate(names...)
	p.tables = make(map[string]TableSchema)
}

func (p *PendingSchemas) lookup(name string) (TableSchema, bool) {
	if s, ok := p.tables[name]; ok {
		return s, true
	}
	return p.registry.Lookup(name)
}

// canonicalTableDef is the fixed device_info layout.
func canonicalTableDef() storage.TableDef {
	return storage.TableDef{
		Name: CanonicalTable,
		Columns: []storage.Column{
			{Name: ColPrimaryKey, Type: storage.TypeKey, NotNull: true},
			{Name: ColServiceName, Type: storage.TypeName, NotNull: true},
			{Name: ColCategory, Type: storage.TypeName, NotNull: true},
			{Name: ColEntityName, Type: storage.TypeName, NotNull: true},
			{Name: ColAddress, Type: storage.TypeAddress},
			{Name: ColAccountName, Type: storage.TypeName, NotNull: true},
			{Name: ColSecret, Type: storage.TypeSecret},
			{Name: ColCreatedAt, Type: storage.TypeTimestamp, Default: storage.DefaultNow},
			{Name: ColUpdatedAt, Type: storage.TypeTimestamp, Default: storage.DefaultNow},
		},
		PrimaryKey: []string{ColPrimaryKey},
		Indexes: []storage.Index{
			{Name: "idx_device_info_service_category", Columns: []string{ColServiceName, ColCategory}},
		},
	}
}

// categoryTableDef is a category table with one TEXT column per attribute.
func categoryTableDef(name string, cols []string) storage.TableDef {
	columns := make([]storage.Column, 0, len(cols)+3)
	columns = append(columns, storage.Column{Name: ColPrimaryKey, Type: storage.TypeKey, NotNull: true})
	for _, c := range cols {
		columns = append(columns, storage.Column{Name: c, Type: storage.TypeText})
	}
	columns = append(columns,
		storage.Column{Name: ColCreatedAt, Type: storage.TypeTimestamp, Default: storage.DefaultNow},
		storage.Column{Name: ColUpdatedAt, Type: storage.TypeTimestamp, Default: storage.DefaultNow},
	)
	return storage.TableDef{Name: name, Columns: columns, PrimaryKey: []string{ColPrimaryKey}}
}

// relationTableDef is the catalog layout.
func relationTableDef() storage.TableDef {
	return storage.TableDef{
		Name: RelationTable,
		Columns: []storage.Column{
			{Name: "id", Type: storage.TypeSerial},
			{Name: ColServiceName, Type: storage.TypeName, NotNull: true},
			{Name: ColCategory, Type: storage.TypeName, NotNull: true},
			{Name: "description", Type: storage.TypeText},
			{Name: "is_active", Type: storage.TypeBool, NotNull: true, Default: storage.DefaultTrue},
			{Name: ColCreatedAt, Type: storage.TypeTimestamp, Default: storage.DefaultNow},
			{Name: ColUpdatedAt, Type: storage.TypeTimestamp, Default: storage.DefaultNow},
		},
		Unique: [][]string{{ColServiceName, ColCategory}},
	}
}

func (r *SchemaRegistry) createTable(ctx context.Context, q storage.Querier, def storage.TableDef) error {
	if err := storage.CheckIdentifier(r.dialect, def.Name); err != nil {
		return err
	}
	for _, c := range def.Columns {
		if err := storage.CheckIdentifier(r.dialect, c.Name); err != nil {
			return err
		}
	}
	for _, stmt := range r.dialect.CreateTable(def) {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// EnsureCanonicalTable creates device_info and its index when absent. It is
// safe to call before every batch.
func (r *SchemaRegistry) EnsureCanonicalTable(ctx context.Context, q storage.Querier) error {
	if err := r.createTable(ctx, q, canonicalTableDef()); err != nil {
		return &StorageError{Op: "ensure_table", Table: CanonicalTable, Err: err}
	}
	return nil
}

// EnsureRelationTable creates the catalog table when absent.
func (r *SchemaRegistry) EnsureRelationTable(ctx context.Context, q storage.Querier) error {
	if err := r.createTable(ctx, q, relationTableDef()); err != nil {
		return &StorageError{Op: "ensure_table", Table: RelationTable, Err: err}
	}
	return nil
}

// EnsureCategoryTable returns the effective schema of a category table,
// creating it with cols when it does not exist. An existing table is never
// altered; its schema is returned as stored and created is false.
func (r *SchemaRegistry) EnsureCategoryTable(ctx context.Context, q storage.Querier, pending *PendingSchemas, name string, cols []string) (bool, TableSchema, error) {
	// Cache hits join the pending set so a rollback evicts them too.
	if s, ok := pending.lookup(name); ok {
		pending.tables[name] = s
		return false, s, nil
	}

	s, exists, err := r.probe(ctx, q, name)
	if err != nil {
		return false, TableSchema{}, err
	}
	if exists {
		pending.tables[name] = s
		return false, s, nil
	}

	def := categoryTableDef(name, cols)
	if err := r.createTable(ctx, q, def); err != nil {
		return false, TableSchema{}, &StorageError{Op: "create_table", Table: name, Err: err}
	}
	s = TableSchema{Name: name, Columns: make([]string, len(def.Columns))}
	for i, c := range def.Columns {
		s.Columns[i] = c.Name
	}
	pending.tables[name] = s
	return true, s, nil
}

// Existing probes storage for the schema of a committed category table
// without creating anything. The cache is refreshed with the result: a found
// table is published and a missing one is evicted.
func (r *SchemaRegistry) Existing(ctx context.Context, q storage.Querier, name string) (TableSchema, bool, error) {
	s, exists, err := r.probe(ctx, q, name)
	if err != nil {
		return TableSchema{}, false, err
	}
	if !exists {
		r.Invalidate(name)
		return TableSchema{}, false, nil
	}
	r.publish(map[string]TableSchema{name: s})
	return s, true, nil
}

// probe reads a table's schema from storage.
func (r *SchemaRegistry) probe(ctx context.Context, q storage.Querier, name string) (TableSchema, bool, error) {
	exists, err := r.TableExists(ctx, q, name)
	if err != nil {
		return TableSchema{}, false, &StorageError{Op: "probe_table", Table: name, Err: err}
	}
	if !exists {
		return TableSchema{}, false, nil
	}
	stored, err := r.Columns(ctx, q, name)
	if err != nil {
		return TableSchema{}, false, &StorageError{Op: "read_columns", Table: name, Err: err}
	}
	return TableSchema{Name: name, Columns: stored}, true, nil
}

// TableExists probes storage for a table in the current schema.
func (r *SchemaRegistry) TableExists(ctx context.Context, q storage.Querier, name string) (bool, error) {
	var n int64
	if err := q.QueryRow(ctx, r.dialect.TableExistsQuery(), name).Scan(&n); err != nil {
		return false, fmt.Errorf("table exists %s: %w", name, err)
	}
	return n > 0, nil
}

// Columns returns a table's column names in ordinal order.
func (r *SchemaRegistry) Columns(ctx context.Context, q storage.Querier, name string) ([]string, error) {
	return queryStrings(ctx, q, r.dialect.ColumnsQuery(), name)
}

// ListTables returns every table in the current schema.
func (r *SchemaRegistry) ListTables(ctx context.Context, q storage.Querier) ([]string, error) {
	return queryStrings(ctx, q, r.dialect.TablesQuery())
}

// queryStrings collects a single-column string result.
func queryStrings(ctx context.Context, q storage.Querier, query string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
