package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shotam27/souchiJohoKanri/internal/logging"
	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// canonicalColumns is the read order used by SearchCanonical.
var canonicalColumns = []string{
	ColPrimaryKey, ColServiceName, ColCategory, ColEntityName,
	ColAddress, ColAccountName, ColSecret, ColCreatedAt, ColUpdatedAt,
}

// SearchCanonical returns one page of canonical records ordered by service,
// category, entity and account. Pages are 1-based. A missing canonical table
// yields an empty page.
func (s *Service) SearchCanonical(ctx context.Context, f SearchFilter, page, pageSize int) (*SearchResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}
	res := &SearchResult{Rows: []CanonicalRecord{}, Page: page, PageSize: pageSize}

	ok, err := s.registry.TableExists(ctx, s.db, CanonicalTable)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: CanonicalTable, Err: err}
	}
	if !ok {
		return res, nil
	}

	d := s.dialect
	table := d.QuoteIdent(CanonicalTable)
	wb := NewWhereBuilder(d).
		Add(ColServiceName, f.Service).
		Add(ColCategory, f.Category).
		AddContains(ColEntityName, f.EntityNameContains)
	where, args := wb.Build()

	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&res.TotalCount); err != nil {
		return nil, &StorageError{Op: "count", Table: CanonicalTable, Err: err}
	}
	if res.TotalCount == 0 {
		return res, nil
	}
	res.TotalPages = int((res.TotalCount + int64(pageSize) - 1) / int64(pageSize))
	if page > res.TotalPages {
		return res, nil
	}

	orderBy := strings.Join(storage.QuoteAll(d, []string{ColServiceName, ColCategory, ColEntityName, ColAccountName}), ", ")
	next := wb.NextArgIndex()
	q := "SELECT " + strings.Join(storage.QuoteAll(d, canonicalColumns), ", ") +
		" FROM " + table + where + d.Paginate(orderBy, next, next+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, &StorageError{Op: "search", Table: CanonicalTable, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                canonicalRow
			created, updated any
		)
		if err := rows.Scan(&r.PrimaryKey, &r.ServiceName, &r.Category, &r.EntityName,
			&r.Address, &r.AccountName, &r.Secret, &created, &updated); err != nil {
			return nil, &StorageError{Op: "search", Table: CanonicalTable, Err: err}
		}
		rec := r.canonical(created, updated)
		if !f.IncludeSecret {
			rec.Secret = ""
		}
		res.Rows = append(res.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "search", Table: CanonicalTable, Err: err}
	}
	return res, nil
}

// canonicalRow is a canonical row as scanned, with nullable optional fields.
type canonicalRow struct {
	PrimaryKey  string
	ServiceName string
	Category    string
	EntityName  string
	Address     *string
	AccountName string
	Secret      *string
}

func (r canonicalRow) canonical(created, updated any) CanonicalRecord {
	return CanonicalRecord{
		PrimaryKey:  r.PrimaryKey,
		ServiceName: r.ServiceName,
		Category:    r.Category,
		EntityName:  r.EntityName,
		Address:     deref(r.Address),
		AccountName: r.AccountName,
		Secret:      deref(r.Secret),
		CreatedAt:   toTime(created),
		UpdatedAt:   toTime(updated),
	}
}

// ListServices delegates to the catalog.
func (s *Service) ListServices(ctx context.Context) ([]string, error) {
	return s.catalog.ListServices(ctx)
}

// ListCategories delegates to the catalog. An empty service lists all.
func (s *Service) ListCategories(ctx context.Context, service string) ([]string, error) {
	return s.catalog.ListCategories(ctx, service)
}

// ListRelations delegates to the catalog.
func (s *Service) ListRelations(ctx context.Context) ([]Relation, error) {
	return s.catalog.ListRelations(ctx)
}

// ReconcileRelations rebuilds the catalog from canonical data.
func (s *Service) ReconcileRelations(ctx context.Context) (*ReconcileResult, error) {
	res, err := s.catalog.ReconcileFromCanonical(ctx)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)
	for _, w := range res.Warnings {
		log.Warn("catalog reconcile failed", "service", w.Service, "category", w.Category, "error", w.Message)
	}
	log.Info("catalog reconciled", "processed", res.Processed, "registered", res.Registered, "failed", res.Failed)
	return res, nil
}

// GetStatistics returns inventory-wide counts. Missing tables count as zero.
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{}
	d := s.dialect
	svc, cat := d.QuoteIdent(ColServiceName), d.QuoteIdent(ColCategory)

	ok, err := s.registry.TableExists(ctx, s.db, CanonicalTable)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: CanonicalTable, Err: err}
	}
	if ok {
		table := d.QuoteIdent(CanonicalTable)
		q := fmt.Sprintf("SELECT COUNT(*), COUNT(DISTINCT %s), COUNT(DISTINCT %s) FROM %s", svc, cat, table)
		if err := s.db.QueryRow(ctx, q).Scan(&stats.TotalCanonicalRows, &stats.DistinctServices, &stats.DistinctCategories); err != nil {
			return nil, &StorageError{Op: "statistics", Table: CanonicalTable, Err: err}
		}
		q = fmt.Sprintf("SELECT COUNT(*) FROM (SELECT DISTINCT %s, %s FROM %s) pairs", svc, cat, table)
		if err := s.db.QueryRow(ctx, q).Scan(&stats.DistinctCombinations); err != nil {
			return nil, &StorageError{Op: "statistics", Table: CanonicalTable, Err: err}
		}
	}

	ok, err = s.registry.TableExists(ctx, s.db, RelationTable)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: RelationTable, Err: err}
	}
	if ok {
		where, args := NewWhereBuilder(d).AddValue("is_active", true).Build()
		q := "SELECT COUNT(*) FROM " + d.QuoteIdent(RelationTable) + where
		if err := s.db.QueryRow(ctx, q, args...).Scan(&stats.ActiveRelations); err != nil {
			return nil, &StorageError{Op: "statistics", Table: RelationTable, Err: err}
		}
	}
	return stats, nil
}

// ListCategoryTables returns every stored table except the fixed ones, sorted.
func (s *Service) ListCategoryTables(ctx context.Context) ([]string, error) {
	tables, err := s.registry.ListTables(ctx, s.db)
	if err != nil {
		return nil, &StorageError{Op: "list_tables", Err: err}
	}
	out := []string{}
	for _, t := range tables {
		if isReservedTable(t) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// DescribeTable returns the columns and row count of a stored table. Names
// that are not valid sanitized identifiers are treated as missing.
func (s *Service) DescribeTable(ctx context.Context, name string) (*TableDescription, error) {
	if name == "" || SanitizeIdentifier(name) != name {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	ok, err := s.registry.TableExists(ctx, s.db, name)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: name, Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}

	cols, err := s.registry.Columns(ctx, s.db, name)
	if err != nil {
		return nil, &StorageError{Op: "read_columns", Table: name, Err: err}
	}
	desc := &TableDescription{Name: name, Columns: cols}
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.dialect.QuoteIdent(name)).Scan(&desc.RowCount); err != nil {
		return nil, &StorageError{Op: "count", Table: name, Err: err}
	}
	return desc, nil
}

// timestampLayouts are the text forms drivers return for timestamp columns.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// toTime converts a scanned timestamp to time.Time. Unknown forms yield the
// zero time.
func toTime(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
