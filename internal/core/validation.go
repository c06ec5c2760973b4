package core

// validation.go checks header lines and data rows before anything touches
// storage.
//
// Validation happens at two levels:
//  1. Header validation: every problem with the header line is collected
//     into one SchemaError.
//  2. Row validation: each data line is checked against the fixed FieldSpecs
//     and reports its first failing check as a RejectedRow.

import (
	"fmt"
	"net/netip"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// FixedFieldSpecs lists the six well-known columns in canonical order. The
// Japanese aliases are the headers used by existing inventory spreadsheets.
var FixedFieldSpecs = []FieldSpec{
	{Name: ColServiceName, Aliases: []string{"サービス名"}, Required: true, MaxLen: 100},
	{Name: ColCategory, Aliases: []string{"装置種別"}, Required: true, MaxLen: 100},
	{Name: ColEntityName, Aliases: []string{"装置名称"}, Required: true, MaxLen: 100},
	{Name: ColAddress, Aliases: []string{"装置IP"}, Type: FieldAddress, MaxLen: 45},
	{Name: ColAccountName, Aliases: []string{"ユーザー名"}, Required: true, MaxLen: 100},
	{Name: ColSecret, Aliases: []string{"パスワード"}, MaxLen: 255},
}

// reservedColumns may not be used as extended attribute names.
var reservedColumns = []string{ColPrimaryKey, ColCreatedAt, ColUpdatedAt}

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Field/column name
	Value   string // The invalid value
	Message string // Rejection reason
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// HeaderLayout is a validated header line.
type HeaderLayout struct {
	Headers  []string // normalized header cells
	Fixed    HeaderIndex
	Extended []ExtendedColumn
}

// NormalizeHeader trims a header cell and converts it to NFC so that
// visually identical names typed on different systems compare equal.
func NormalizeHeader(h string) string {
	return norm.NFC.String(CleanCell(h))
}

// fixedColumnFor resolves a normalized header to its fixed column name,
// matching the column name or any alias case-insensitively.
func fixedColumnFor(h string) (string, bool) {
	for _, spec := range FixedFieldSpecs {
		if strings.EqualFold(spec.Name, h) {
			return spec.Name, true
		}
		for _, a := range spec.Aliases {
			if strings.EqualFold(a, h) {
				return spec.Name, true
			}
		}
	}
	return "", false
}

// ValidateHeaders classifies header cells into fixed and extended columns.
// It returns a *SchemaError listing every missing required column and every
// unusable header.
func ValidateHeaders(raw []string) (*HeaderLayout, error) {
	layout := &HeaderLayout{
		Headers: make([]string, len(raw)),
		Fixed:   make(HeaderIndex, len(FixedFieldSpecs)),
	}
	var problems []string
	seenExtended := make(map[string]string) // lowercased column -> header

	for i, cell := range raw {
		h := NormalizeHeader(cell)
		layout.Headers[i] = h

		if name, ok := fixedColumnFor(h); ok {
			if _, dup := layout.Fixed[name]; dup {
				problems = append(problems, fmt.Sprintf("duplicate header %q for column %s", h, name))
				continue
			}
			layout.Fixed[name] = i
			continue
		}

		col := SanitizeIdentifier(h)
		switch {
		case col == "":
			problems = append(problems, fmt.Sprintf("header %q at column %d has no usable characters", h, i+1))
			continue
		case isReservedColumn(col):
			problems = append(problems, fmt.Sprintf("header %q uses reserved column name %q", h, col))
			continue
		}
		if prev, dup := seenExtended[strings.ToLower(col)]; dup {
			if prev == h {
				problems = append(problems, fmt.Sprintf("duplicate header %q", h))
			} else {
				problems = append(problems, fmt.Sprintf("headers %q and %q both map to column %q", prev, h, col))
			}
			continue
		}
		seenExtended[strings.ToLower(col)] = h
		layout.Extended = append(layout.Extended, ExtendedColumn{Header: h, Column: col, Index: i})
	}

	var missing []string
	for _, spec := range FixedFieldSpecs {
		if !spec.Required {
			continue
		}
		if _, ok := layout.Fixed[spec.Name]; !ok {
			missing = append(missing, spec.Name)
		}
	}

	if len(missing) > 0 || len(problems) > 0 {
		return nil, &SchemaError{Missing: missing, Problems: problems}
	}
	return layout, nil
}

func isReservedColumn(col string) bool {
	for _, r := range reservedColumns {
		if strings.EqualFold(col, r) {
			return true
		}
	}
	return false
}

// RowValidator validates data rows against a header layout.
type RowValidator struct {
	layout *HeaderLayout
}

// NewRowValidator creates a validator for a validated header.
func NewRowValidator(layout *HeaderLayout) *RowValidator {
	return &RowValidator{layout: layout}
}

// ValidateRow returns the accepted row, or the first failing check as a
// RejectedRow. Checks run in order: column count, required fields, field
// formats and lengths, category table name.
func (v *RowValidator) ValidateRow(line int, record []string) (Row, *RejectedRow) {
	if len(record) != len(v.layout.Headers) {
		return Row{}, &RejectedRow{
			Line:   line,
			Reason: ReasonColumnCount,
			Value:  fmt.Sprintf("expected %d columns, got %d", len(v.layout.Headers), len(record)),
		}
	}

	values := make(map[string]string, len(FixedFieldSpecs))
	for name, pos := range v.layout.Fixed {
		values[name] = CleanCell(record[pos])
	}

	for _, spec := range FixedFieldSpecs {
		if spec.Required && values[spec.Name] == "" {
			return Row{}, &RejectedRow{Line: line, Reason: ReasonRequiredEmpty, Field: spec.Name}
		}
	}
	for _, spec := range FixedFieldSpecs {
		if err := ValidateCell(values[spec.Name], spec); err != nil {
			return Row{}, &RejectedRow{Line: line, Reason: err.Message, Field: err.Field, Value: err.Value}
		}
	}

	fixed := FixedFields{
		ServiceName: values[ColServiceName],
		Category:    values[ColCategory],
		EntityName:  values[ColEntityName],
		Address:     values[ColAddress],
		AccountName: values[ColAccountName],
		Secret:      values[ColSecret],
	}

	table := CategoryTableName(fixed.ServiceName, fixed.Category)
	if table == "" || isReservedTable(table) {
		return Row{}, &RejectedRow{Line: line, Reason: ReasonTableName, Field: ColCategory, Value: table}
	}

	extended := make([]string, len(v.layout.Extended))
	for i, col := range v.layout.Extended {
		extended[i] = CleanCell(record[col.Index])
	}

	return Row{Line: line, Fixed: fixed, Extended: extended}, nil
}

// ValidateCell checks one fixed value against its spec. Empty values pass;
// required-ness is checked separately.
func ValidateCell(value string, spec FieldSpec) *ValidationError {
	if value == "" {
		return nil
	}
	if spec.Type == FieldAddress && !IsIPLiteral(value) {
		return &ValidationError{Field: spec.Name, Value: value, Message: ReasonInvalidAddress}
	}
	if spec.MaxLen > 0 && utf8.RuneCountInString(value) > spec.MaxLen {
		return &ValidationError{Field: spec.Name, Value: value, Message: ReasonTooLong}
	}
	return nil
}

// IsIPLiteral reports whether s is a plain IPv4 or IPv6 address. Zones and
// CIDR suffixes are rejected.
func IsIPLiteral(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return addr.Zone() == ""
}

// CleanCell trims whitespace and unwraps Excel's ="..." text guard.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}
