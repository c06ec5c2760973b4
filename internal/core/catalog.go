package core

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// Catalog maintains the service/category relation table. Catalog writes
// happen outside batch transactions and never undo a committed batch.
type Catalog struct {
	db       storage.DB
	dialect  storage.Dialect
	registry *SchemaRegistry
	ensured  atomic.Bool
}

// NewCatalog creates a catalog over db.
func NewCatalog(db storage.DB, registry *SchemaRegistry) *Catalog {
	return &Catalog{db: db, dialect: db.Dialect(), registry: registry}
}

// EnsureRelationTable creates the relation table when absent.
func (c *Catalog) EnsureRelationTable(ctx context.Context) error {
	if c.ensured.Load() {
		return nil
	}
	if err := c.registry.EnsureRelationTable(ctx, c.db); err != nil {
		return err
	}
	c.ensured.Store(true)
	return nil
}

// Register upserts a relation, replacing its description and marking it
// active.
func (c *Catalog) Register(ctx context.Context, service, category, description string) error {
	if err := c.EnsureRelationTable(ctx); err != nil {
		return err
	}
	stmt := c.dialect.Upsert(storage.UpsertSpec{
		Table:   RelationTable,
		Columns: []string{ColServiceName, ColCategory, "description", "is_active"},
		Key:     []string{ColServiceName, ColCategory},
		Touch:   []string{ColUpdatedAt},
	})
	if _, err := c.db.Exec(ctx, stmt, service, category, description, true); err != nil {
		return &StorageError{Op: "register_relation", Table: RelationTable, Err: err}
	}
	return nil
}

// Deactivate hides a relation from the service and category listings.
// Returns ErrRelationNotFound when the pair is not registered.
func (c *Catalog) Deactivate(ctx context.Context, service, category string) error {
	if err := c.EnsureRelationTable(ctx); err != nil {
		return err
	}
	d := c.dialect
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s, %s = CURRENT_TIMESTAMP WHERE %s = %s AND %s = %s",
		d.QuoteIdent(RelationTable),
		d.QuoteIdent("is_active"), d.Placeholder(1),
		d.QuoteIdent(ColUpdatedAt),
		d.QuoteIdent(ColServiceName), d.Placeholder(2),
		d.QuoteIdent(ColCategory), d.Placeholder(3),
	)
	n, err := c.db.Exec(ctx, stmt, false, service, category)
	if err != nil {
		return &StorageError{Op: "deactivate_relation", Table: RelationTable, Err: err}
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrRelationNotFound, service, category)
	}
	return nil
}

// RelationExists reports whether the pair is registered, active or not.
func (c *Catalog) RelationExists(ctx context.Context, service, category string) (bool, error) {
	ok, err := c.registry.TableExists(ctx, c.db, RelationTable)
	if err != nil || !ok {
		return false, err
	}
	d := c.dialect
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s AND %s = %s",
		d.QuoteIdent(RelationTable),
		d.QuoteIdent(ColServiceName), d.Placeholder(1),
		d.QuoteIdent(ColCategory), d.Placeholder(2),
	)
	var n int64
	if err := c.db.QueryRow(ctx, q, service, category).Scan(&n); err != nil {
		return false, &StorageError{Op: "relation_exists", Table: RelationTable, Err: err}
	}
	return n > 0, nil
}

// ListServices returns distinct active services, sorted. When the relation
// table is missing the canonical table is used instead; when both are
// missing the result is empty.
func (c *Catalog) ListServices(ctx context.Context) ([]string, error) {
	return c.distinct(ctx, ColServiceName, "")
}

// ListCategories returns distinct active categories, optionally for one
// service. Falls back like ListServices.
func (c *Catalog) ListCategories(ctx context.Context, service string) ([]string, error) {
	return c.distinct(ctx, ColCategory, service)
}

func (c *Catalog) distinct(ctx context.Context, col, service string) ([]string, error) {
	table := RelationTable
	ok, err := c.registry.TableExists(ctx, c.db, RelationTable)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: RelationTable, Err: err}
	}
	if !ok {
		table = CanonicalTable
		ok, err = c.registry.TableExists(ctx, c.db, CanonicalTable)
		if err != nil {
			return nil, &StorageError{Op: "probe_table", Table: CanonicalTable, Err: err}
		}
		if !ok {
			return []string{}, nil
		}
	}

	wb := NewWhereBuilder(c.dialect).Add(ColServiceName, service)
	if table == RelationTable {
		wb.AddValue("is_active", true)
	}
	where, args := wb.Build()

	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s%s ORDER BY %s",
		c.dialect.QuoteIdent(col), c.dialect.QuoteIdent(table), where, c.dialect.QuoteIdent(col))
	out, err := queryStrings(ctx, c.db, q, args...)
	if err != nil {
		return nil, &StorageError{Op: "list_" + strings.TrimSuffix(col, "_name"), Table: table, Err: err}
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// ListRelations returns every relation ordered by service and category.
func (c *Catalog) ListRelations(ctx context.Context) ([]Relation, error) {
	ok, err := c.registry.TableExists(ctx, c.db, RelationTable)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: RelationTable, Err: err}
	}
	if !ok {
		return []Relation{}, nil
	}

	d := c.dialect
	q := fmt.Sprintf("SELECT %s, %s, %s, COALESCE(%s, ''), %s, %s, %s FROM %s ORDER BY %s, %s",
		d.QuoteIdent("id"), d.QuoteIdent(ColServiceName), d.QuoteIdent(ColCategory),
		d.QuoteIdent("description"), d.QuoteIdent("is_active"),
		d.QuoteIdent(ColCreatedAt), d.QuoteIdent(ColUpdatedAt),
		d.QuoteIdent(RelationTable),
		d.QuoteIdent(ColServiceName), d.QuoteIdent(ColCategory),
	)
	rows, err := c.db.Query(ctx, q)
	if err != nil {
		return nil, &StorageError{Op: "list_relations", Table: RelationTable, Err: err}
	}
	defer rows.Close()

	out := []Relation{}
	for rows.Next() {
		var (
			r                Relation
			created, updated any
		)
		if err := rows.Scan(&r.ID, &r.ServiceName, &r.Category, &r.Description, &r.IsActive, &created, &updated); err != nil {
			return nil, &StorageError{Op: "list_relations", Table: RelationTable, Err: err}
		}
		r.CreatedAt = toTime(created)
		r.UpdatedAt = toTime(updated)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list_relations", Table: RelationTable, Err: err}
	}
	return out, nil
}

// ReconcileFromCanonical registers every (service, category) pair found in
// the canonical table with its device count. Individual failures are
// collected as warnings.
func (c *Catalog) ReconcileFromCanonical(ctx context.Context) (*ReconcileResult, error) {
	res := &ReconcileResult{}

	ok, err := c.registry.TableExists(ctx, c.db, CanonicalTable)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: CanonicalTable, Err: err}
	}
	if !ok {
		return res, nil
	}

	type pairCount struct {
		ServiceCategory
		count int64
	}

	d := c.dialect
	svc, cat := d.QuoteIdent(ColServiceName), d.QuoteIdent(ColCategory)
	q := fmt.Sprintf("SELECT %s, %s, COUNT(*) FROM %s GROUP BY %s, %s ORDER BY %s, %s",
		svc, cat, d.QuoteIdent(CanonicalTable), svc, cat, svc, cat)

	// Collect first: single-connection backends cannot write while rows are open.
	var pairs []pairCount
	rows, err := c.db.Query(ctx, q)
	if err != nil {
		return nil, &StorageError{Op: "reconcile", Table: CanonicalTable, Err: err}
	}
	for rows.Next() {
		var p pairCount
		if err := rows.Scan(&p.Service, &p.Category, &p.count); err != nil {
			rows.Close()
			return nil, &StorageError{Op: "reconcile", Table: CanonicalTable, Err: err}
		}
		pairs = append(pairs, p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, &StorageError{Op: "reconcile", Table: CanonicalTable, Err: err}
	}

	for _, p := range pairs {
		res.Processed++
		desc := fmt.Sprintf("装置数: %d台 (自動構築)", p.count)
		if err := c.Register(ctx, p.Service, p.Category, desc); err != nil {
			res.Failed++
			res.Warnings = append(res.Warnings, newCatalogWarning(p.Service, p.Category, err))
			continue
		}
		res.Registered++
	}
	return res, nil
}
