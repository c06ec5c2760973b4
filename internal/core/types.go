package core

import "time"

// Table and column names of the fixed schema.
const (
	CanonicalTable = "device_info"
	RelationTable  = "service_category_relations"
	HistoryTable   = "ingest_history"

	ColPrimaryKey  = "primary_key"
	ColServiceName = "service_name"
	ColCategory    = "category"
	ColEntityName  = "entity_name"
	ColAddress     = "address"
	ColAccountName = "account_name"
	ColSecret      = "secret"
	ColCreatedAt   = "created_at"
	ColUpdatedAt   = "updated_at"
)

// FieldType represents the expected data type for a fixed field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldAddress
)

// FieldSpec defines validation rules for one fixed column.
type FieldSpec struct {
	Name     string    // Header name, matched case-insensitively
	Aliases  []string  // Alternative header names mapping to Name
	Type     FieldType // Expected data type
	Required bool      // Column must exist in the header and be non-empty
	MaxLen   int       // Maximum length in runes (0 = unlimited)
}

// HeaderIndex maps fixed column names (lowercase) to their position in the row.
type HeaderIndex map[string]int

// FixedFields holds the six well-known values of one row. Empty optional
// values mean NULL.
type FixedFields struct {
	ServiceName string
	Category    string
	EntityName  string
	Address     string
	AccountName string
	Secret      string
}

// ExtendedColumn is one caller-defined attribute column.
type ExtendedColumn struct {
	Header string `json:"header"` // normalized header text
	Column string `json:"column"` // sanitized storage column name
	Index  int    `json:"-"`      // position in the raw row
}

// Row is one accepted data line.
type Row struct {
	Line     int
	Fixed    FixedFields
	Extended []string // aligned with ParsedBatch.ExtendedColumns
}

// RejectedRow describes a data line excluded from the batch.
type RejectedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
}

// ParsedBatch is the output of ParseBatch.
type ParsedBatch struct {
	Encoding        string
	Header          []string
	ExtendedColumns []ExtendedColumn
	Rows            []Row
	Rejected        []RejectedRow
	TotalRows       int // data lines seen, accepted or not
}

// CanonicalRecord is one row of the canonical table.
type CanonicalRecord struct {
	PrimaryKey  string    `json:"primary_key"`
	ServiceName string    `json:"service_name"`
	Category    string    `json:"category"`
	EntityName  string    `json:"entity_name"`
	Address     string    `json:"address,omitempty"`
	AccountName string    `json:"account_name"`
	Secret      string    `json:"secret,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// ExtendedRecord is one row destined for a category table.
type ExtendedRecord struct {
	PrimaryKey string
	Line       int
	Values     []string // aligned with the batch's extended columns
}

// ServiceCategory is a (service, category) pair.
type ServiceCategory struct {
	Service  string `json:"service_name"`
	Category string `json:"category"`
}

// CategoryGroup collects the extended records bound for one category table.
// Distinct pairs that sanitize to the same name share a group.
type CategoryGroup struct {
	Table   string
	Pairs   []ServiceCategory
	Records []ExtendedRecord
}

// Classified is the storage-ready form of a parsed batch.
type Classified struct {
	Canonical       []CanonicalRecord
	Groups          []*CategoryGroup  // first-seen order
	Pairs           []ServiceCategory // distinct, first-seen order
	ExtendedColumns []ExtendedColumn
}

// BatchState is the coordinator state a batch reached.
type BatchState string

const (
	StateReceived          BatchState = "received"
	StateRejected          BatchState = "rejected"
	StateValidated         BatchState = "validated"
	StateTransactionOpen   BatchState = "transaction_open"
	StateTablesProvisioned BatchState = "tables_provisioned"
	StateRowsApplied       BatchState = "rows_applied"
	StateCommitted         BatchState = "committed"
	StateRolledBack        BatchState = "rolled_back"
)

// IngestRequest is one batch submitted for ingestion.
type IngestRequest struct {
	Name string // file name or label, used in catalog descriptions
	Data []byte
}

// IngestResult is returned for every batch, successful or not.
type IngestResult struct {
	BatchID           string              `json:"batch_id"`
	Name              string              `json:"name"`
	Encoding          string              `json:"encoding,omitempty"`
	TotalRows         int                 `json:"total_rows"`
	AcceptedCount     int                 `json:"accepted_count"`
	RejectedRows      []RejectedRow       `json:"rejected_rows"`
	CreatedTables     []string            `json:"created_tables"`
	CanonicalApplied  int                 `json:"canonical_applied"`
	ExtendedApplied   int                 `json:"extended_applied"`
	IgnoredAttributes map[string][]string `json:"ignored_attributes,omitempty"`
	CatalogWarnings   []CatalogWarning    `json:"catalog_warnings,omitempty"`
	State             BatchState          `json:"state"`
	FailedState       BatchState          `json:"failed_state,omitempty"` // last state before rollback
	Committed         bool                `json:"committed"`
	Error             string              `json:"error,omitempty"`
	Duration          time.Duration       `json:"duration"`
}

// Relation is one row of the catalog table.
type Relation struct {
	ID          int64     `json:"id"`
	ServiceName string    `json:"service_name"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// ReconcileResult summarizes a catalog rebuild from canonical data.
type ReconcileResult struct {
	Processed  int              `json:"processed"`
	Registered int              `json:"registered"`
	Failed     int              `json:"failed"`
	Warnings   []CatalogWarning `json:"warnings,omitempty"`
}

// SearchFilter narrows SearchCanonical. Empty fields are ignored. Secrets are
// blanked unless IncludeSecret is set, as for exports.
type SearchFilter struct {
	Service            string
	Category           string
	EntityNameContains string
	IncludeSecret      bool
}

// SearchResult is one page of canonical records.
type SearchResult struct {
	Rows       []CanonicalRecord `json:"rows"`
	TotalCount int64             `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// Statistics are inventory-wide counts.
type Statistics struct {
	TotalCanonicalRows   int64 `json:"total_canonical_rows"`
	DistinctServices     int64 `json:"distinct_services"`
	DistinctCategories   int64 `json:"distinct_categories"`
	DistinctCombinations int64 `json:"distinct_combinations"`
	ActiveRelations      int64 `json:"active_relations"`
}

// ExportOptions controls ExportCategory.
type ExportOptions struct {
	IncludeSecret bool
}

// ExportResult is a canonical+extended view of one category.
type ExportResult struct {
	Table   string     `json:"table"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// TableDescription is the shape of one stored table.
type TableDescription struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	RowCount int64    `json:"row_count"`
}
