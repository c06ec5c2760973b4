package core

import (
	"strings"
	"unicode"
)

// PrimaryKey derives the composite device-account key. The order of the
// arguments matters.
func PrimaryKey(service, category, entity, account string) string {
	return service + "_" + category + "_" + entity + "_" + account
}

// SanitizeIdentifier turns caller text into a storage identifier: Unicode
// letters, digits and underscore are kept, every other rune becomes an
// underscore, runs of underscores collapse to one and leading or trailing
// underscores are trimmed. The result may be empty. Case is preserved.
//
// SanitizeIdentifier(SanitizeIdentifier(s)) == SanitizeIdentifier(s) for all s.
func SanitizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := true // suppresses a leading underscore
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// CategoryTableName is the table holding extended attributes for a
// (service, category) pair.
func CategoryTableName(service, category string) string {
	return SanitizeIdentifier(service + "_" + category)
}

// isReservedTable reports whether name would collide with a fixed table.
// Comparison ignores case because SQLite and SQL Server do.
func isReservedTable(name string) bool {
	for _, t := range []string{CanonicalTable, RelationTable, HistoryTable} {
		if strings.EqualFold(name, t) {
			return true
		}
	}
	return false
}

// Classify builds the canonical records in input order and groups extended
// records by category table in first-seen order.
//
// Two rows with the same primary key reject the whole batch with a
// *RowValidationError naming the second line.
func Classify(batch *ParsedBatch) (*Classified, error) {
	out := &Classified{
		Canonical:       make([]CanonicalRecord, 0, len(batch.Rows)),
		ExtendedColumns: batch.ExtendedColumns,
	}

	seenKey := make(map[string]int, len(batch.Rows))
	groups := make(map[string]*CategoryGroup)
	seenPair := make(map[ServiceCategory]bool)

	for _, row := range batch.Rows {
		f := row.Fixed
		pk := PrimaryKey(f.ServiceName, f.Category, f.EntityName, f.AccountName)
		if first, dup := seenKey[pk]; dup {
			return nil, &RowValidationError{
				Line:      row.Line,
				FirstLine: first,
				Field:     ColPrimaryKey,
				Value:     pk,
				Reason:    ReasonDuplicateKey,
				Err:       ErrDuplicatePrimaryKey,
			}
		}
		seenKey[pk] = row.Line

		out.Canonical = append(out.Canonical, CanonicalRecord{
			PrimaryKey:  pk,
			ServiceName: f.ServiceName,
			Category:    f.Category,
			EntityName:  f.EntityName,
			Address:     f.Address,
			AccountName: f.AccountName,
			Secret:      f.Secret,
		})

		table := CategoryTableName(f.ServiceName, f.Category)
		g, ok := groups[table]
		if !ok {
			g = &CategoryGroup{Table: table}
			groups[table] = g
			out.Groups = append(out.Groups, g)
		}

		pair := ServiceCategory{Service: f.ServiceName, Category: f.Category}
		if !seenPair[pair] {
			seenPair[pair] = true
			out.Pairs = append(out.Pairs, pair)
			g.Pairs = append(g.Pairs, pair)
		}

		g.Records = append(g.Records, ExtendedRecord{
			PrimaryKey: pk,
			Line:       row.Line,
			Values:     row.Extended,
		})
	}
	return out, nil
}
