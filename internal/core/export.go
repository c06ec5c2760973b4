package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// ExportCategory returns the canonical rows of one (service, category) pair
// joined with their extended attributes. A pair without a category table
// exports canonical columns only. The secret column is omitted unless
// opts.IncludeSecret is set.
func (s *Service) ExportCategory(ctx context.Context, service, category string, opts ExportOptions) (*ExportResult, error) {
	ok, err := s.registry.TableExists(ctx, s.db, CanonicalTable)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: CanonicalTable, Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, CanonicalTable)
	}

	table := CategoryTableName(service, category)
	res := &ExportResult{Table: table, Rows: [][]string{}}

	fixed := []string{ColServiceName, ColCategory, ColEntityName, ColAddress, ColAccountName}
	if opts.IncludeSecret {
		fixed = append(fixed, ColSecret)
	}

	var extended []string
	if table != "" && !isReservedTable(table) {
		exists, err := s.registry.TableExists(ctx, s.db, table)
		if err != nil {
			return nil, &StorageError{Op: "probe_table", Table: table, Err: err}
		}
		if exists {
			cols, err := s.registry.Columns(ctx, s.db, table)
			if err != nil {
				return nil, &StorageError{Op: "read_columns", Table: table, Err: err}
			}
			extended = TableSchema{Name: table, Columns: cols}.ExtendedColumns()
		}
	}

	d := s.dialect
	selects := make([]string, 0, len(fixed)+len(extended))
	for _, c := range fixed {
		selects = append(selects, "c."+d.QuoteIdent(c))
	}
	for _, c := range extended {
		selects = append(selects, "e."+d.QuoteIdent(c))
	}

	from := d.QuoteIdent(CanonicalTable) + " c"
	if len(extended) > 0 {
		from += fmt.Sprintf(" LEFT JOIN %s e ON e.%s = c.%s",
			d.QuoteIdent(table), d.QuoteIdent(ColPrimaryKey), d.QuoteIdent(ColPrimaryKey))
	}
	where, args := NewWhereBuilder(d).Alias("c").
		AddValue(ColServiceName, service).
		AddValue(ColCategory, category).
		Build()
	orderBy := "c." + d.QuoteIdent(ColEntityName) + ", c." + d.QuoteIdent(ColAccountName)

	q := "SELECT " + strings.Join(selects, ", ") + " FROM " + from + where + " ORDER BY " + orderBy
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, &StorageError{Op: "export", Table: table, Err: err}
	}
	defer rows.Close()

	res.Columns = append(fixed, extended...)
	for rows.Next() {
		rec, err := scanStrings(rows, len(res.Columns))
		if err != nil {
			return nil, &StorageError{Op: "export", Table: table, Err: err}
		}
		res.Rows = append(res.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "export", Table: table, Err: err}
	}
	return res, nil
}

// scanStrings scans n nullable text columns; NULL becomes "".
func scanStrings(rows storage.Rows, n int) ([]string, error) {
	vals := make([]*string, n)
	dest := make([]any, n)
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i, v := range vals {
		out[i] = deref(v)
	}
	return out, nil
}

// WriteCSV renders an export as UTF-8 CSV with a byte order mark, so
// spreadsheet tools open Japanese text correctly.
func WriteCSV(w io.Writer, res *ExportResult) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(res.Rows); err != nil {
		return err
	}
	return cw.Error()
}
