package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shotam27/souchiJohoKanri/internal/logging"
	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// BatchPreview is a read-only analysis of what Ingest would do with a batch.
type BatchPreview struct {
	Name              string              `json:"name"`
	Encoding          string              `json:"encoding,omitempty"`
	TotalRows         int                 `json:"total_rows"`
	AcceptedCount     int                 `json:"accepted_count"`
	NewRows           int                 `json:"new_rows"`
	UpdateRows        int                 `json:"update_rows"`
	RejectedRows      []RejectedRow       `json:"rejected_rows"`
	TablesToCreate    []string            `json:"tables_to_create"`
	ExistingTables    []string            `json:"existing_tables"`
	IgnoredAttributes map[string][]string `json:"ignored_attributes,omitempty"`
	NewSamples        []string            `json:"new_samples,omitempty"`
	UpdateSamples     []string            `json:"update_samples,omitempty"`
	Valid             bool                `json:"valid"`
	Error             string              `json:"error,omitempty"`
	ProcessingTimeMs  int64               `json:"processing_time_ms"`
}

// Sample limits
const (
	maxPreviewSamples = 10
	keyBatchSize      = 500
)

// PreviewBatch validates and classifies a batch and compares it with stored
// data without writing anything. It reports the same validation errors as
// Ingest; the preview is always non-nil.
func (s *Service) PreviewBatch(ctx context.Context, req IngestRequest) (*BatchPreview, error) {
	start := time.Now()
	p := &BatchPreview{
		Name:           req.Name,
		RejectedRows:   []RejectedRow{},
		TablesToCreate: []string{},
		ExistingTables: []string{},
	}
	err := s.preview(ctx, req, p)
	p.ProcessingTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		p.Error = err.Error()
		logging.WithFields(ctx, "name", req.Name).Debug("batch preview failed", "error", err)
		return p, err
	}
	p.Valid = true
	return p, nil
}

func (s *Service) preview(ctx context.Context, req IngestRequest, p *BatchPreview) error {
	parsed, err := ParseBatch(req.Data)
	if err != nil {
		return err
	}
	p.Encoding = parsed.Encoding
	p.TotalRows = parsed.TotalRows
	p.RejectedRows = append(p.RejectedRows, parsed.Rejected...)

	if len(parsed.Rows) == 0 {
		return fmt.Errorf("%w (%d lines rejected)", ErrNoAcceptedRows, len(parsed.Rejected))
	}

	classified, err := Classify(parsed)
	if err != nil {
		if row, ok := RejectedRowFrom(err); ok {
			p.RejectedRows = append(p.RejectedRows, row)
		}
		return err
	}
	p.AcceptedCount = len(classified.Canonical)

	existing, err := s.existingKeys(ctx, classified.Canonical)
	if err != nil {
		return err
	}
	for _, rec := range classified.Canonical {
		if existing[rec.PrimaryKey] {
			p.UpdateRows++
			if len(p.UpdateSamples) < maxPreviewSamples {
				p.UpdateSamples = append(p.UpdateSamples, rec.PrimaryKey)
			}
			continue
		}
		p.NewRows++
		if len(p.NewSamples) < maxPreviewSamples {
			p.NewSamples = append(p.NewSamples, rec.PrimaryKey)
		}
	}

	for _, g := range classified.Groups {
		schema, ok, err := s.registry.Existing(ctx, s.db, g.Table)
		if err != nil {
			return err
		}
		if !ok {
			p.TablesToCreate = append(p.TablesToCreate, g.Table)
			continue
		}
		p.ExistingTables = append(p.ExistingTables, g.Table)
		if plan := planExtended(g, schema, classified.ExtendedColumns); len(plan.ignored) > 0 {
			if p.IgnoredAttributes == nil {
				p.IgnoredAttributes = make(map[string][]string)
			}
			p.IgnoredAttributes[g.Table] = plan.ignored
		}
	}
	return nil
}

// existingKeys reports which primary keys are already in the canonical table.
func (s *Service) existingKeys(ctx context.Context, records []CanonicalRecord) (map[string]bool, error) {
	found := make(map[string]bool)
	ok, err := s.registry.TableExists(ctx, s.db, CanonicalTable)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: CanonicalTable, Err: err}
	}
	if !ok {
		return found, nil
	}

	d := s.dialect
	for start := 0; start < len(records); start += keyBatchSize {
		end := min(start+keyBatchSize, len(records))
		args := make([]any, 0, end-start)
		for _, rec := range records[start:end] {
			args = append(args, rec.PrimaryKey)
		}

		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
			d.QuoteIdent(ColPrimaryKey),
			d.QuoteIdent(CanonicalTable),
			d.QuoteIdent(ColPrimaryKey),
			strings.Join(storage.Placeholders(d, 1, len(args)), ", "),
		)
		keys, err := queryStrings(ctx, s.db, query, args...)
		if err != nil {
			return nil, &StorageError{Op: "lookup_keys", Table: CanonicalTable, Err: err}
		}
		for _, k := range keys {
			found[k] = true
		}
	}
	return found, nil
}
