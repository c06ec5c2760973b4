package core

// ingest.go runs one batch through parse, classify, provision, apply and
// commit, then refreshes the catalog outside the transaction.
//
// The batch transaction is all-or-nothing: canonical rows, extended rows and
// any category tables created for the batch either all commit or all roll
// back. Catalog registration afterwards is advisory and only produces
// warnings.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shotam27/souchiJohoKanri/internal/logging"
	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// Ingest processes one batch and always returns a non-nil result describing
// how far it got. The error is one of *EncodingError, *SchemaError,
// *RowValidationError, *StorageError, ErrEmptyBatch, ErrInvalidCSV,
// ErrNoAcceptedRows or ErrTooManyUploads.
//
// Once the transaction opens, cancellation of ctx no longer interrupts the
// batch; it runs to commit or rollback within the configured upload timeout.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()
	res := &IngestResult{
		BatchID:       uuid.New().String(),
		Name:          req.Name,
		RejectedRows:  []RejectedRow{},
		CreatedTables: []string{},
		State:         StateReceived,
	}
	log := logging.WithFields(ctx, "batch_id", res.BatchID, "name", req.Name).With(clientAttrs(ctx)...)

	err := s.limiter.Run(ctx, func() error {
		return s.ingest(ctx, req, res, log)
	})

	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		if res.State == StateReceived {
			res.State = StateRejected
		}
	}
	s.recordHistory(ctx, res)
	return res, err
}

func (s *Service) ingest(ctx context.Context, req IngestRequest, res *IngestResult, log *slog.Logger) error {
	log.Info("batch received", "bytes", len(req.Data))

	parsed, err := ParseBatch(req.Data)
	if err != nil {
		res.State = StateRejected
		log.Warn("batch rejected", "error", err)
		return err
	}
	res.Encoding = parsed.Encoding
	res.TotalRows = parsed.TotalRows
	res.RejectedRows = append(res.RejectedRows, parsed.Rejected...)

	if len(parsed.Rows) == 0 {
		res.State = StateRejected
		log.Warn("batch rejected", "error", ErrNoAcceptedRows, "rejected", len(parsed.Rejected))
		return fmt.Errorf("%w (%d lines rejected)", ErrNoAcceptedRows, len(parsed.Rejected))
	}

	classified, err := Classify(parsed)
	if err != nil {
		res.State = StateRejected
		if row, ok := RejectedRowFrom(err); ok {
			res.RejectedRows = append(res.RejectedRows, row)
		}
		log.Warn("batch rejected", "error", err)
		return err
	}
	res.State = StateValidated
	log.Debug("batch validated",
		"encoding", parsed.Encoding,
		"accepted", len(parsed.Rows),
		"rejected", len(parsed.Rejected),
		"tables", len(classified.Groups),
	)

	// The batch is not cancellable once the transaction opens.
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.uploadTimeout)
	defer cancel()

	if err := s.apply(txCtx, classified, res, log); err != nil {
		return err
	}
	res.AcceptedCount = len(classified.Canonical)

	log.Info("batch committed",
		"accepted", res.AcceptedCount,
		"rejected", len(res.RejectedRows),
		"created_tables", res.CreatedTables,
		"canonical_applied", res.CanonicalApplied,
		"extended_applied", res.ExtendedApplied,
	)

	s.registerPairs(txCtx, req.Name, classified.Pairs, res, log)
	return nil
}

// apply runs the batch transaction.
func (s *Service) apply(ctx context.Context, c *Classified, res *IngestResult, log *slog.Logger) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &StorageError{Op: "begin", Err: err}
	}
	res.State = StateTransactionOpen
	log.Debug("transaction open")

	pending := s.registry.NewPending()
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error("rollback failed", "error", rbErr)
		}
		pending.Discard()

		res.FailedState = res.State
		res.State = StateRolledBack
		res.CreatedTables = []string{}
		res.IgnoredAttributes = nil
		res.CanonicalApplied = 0
		res.ExtendedApplied = 0
		log.Error("batch rolled back", "failed_state", res.FailedState, "error", err)
	}()

	if err := s.registry.EnsureCanonicalTable(ctx, tx); err != nil {
		return err
	}

	extCols := make([]string, len(c.ExtendedColumns))
	for i, col := range c.ExtendedColumns {
		extCols[i] = col.Column
	}

	plans := make([]extendedPlan, 0, len(c.Groups))
	for _, g := range c.Groups {
		created, schema, err := s.registry.EnsureCategoryTable(ctx, tx, pending, g.Table, extCols)
		if err != nil {
			return err
		}
		if created {
			res.CreatedTables = append(res.CreatedTables, g.Table)
			log.Info("category table created", "table", g.Table, "columns", extCols)
		}

		plan := planExtended(g, schema, c.ExtendedColumns)
		if len(plan.ignored) > 0 {
			if res.IgnoredAttributes == nil {
				res.IgnoredAttributes = make(map[string][]string)
			}
			res.IgnoredAttributes[g.Table] = plan.ignored
			log.Warn("attributes not in existing category table were not stored",
				"table", g.Table, "ignored", plan.ignored)
		}
		plans = append(plans, plan)
	}
	res.State = StateTablesProvisioned

	if err := s.applyCanonical(ctx, tx, c.Canonical, res); err != nil {
		return err
	}
	if len(c.ExtendedColumns) > 0 {
		for _, plan := range plans {
			if err := s.applyExtended(ctx, tx, plan, res); err != nil {
				return err
			}
		}
	}
	res.State = StateRowsApplied

	if err := tx.Commit(ctx); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}
	committed = true
	pending.Commit()
	res.State = StateCommitted
	res.Committed = true
	return nil
}

func (s *Service) applyCanonical(ctx context.Context, tx storage.Tx, records []CanonicalRecord, res *IngestResult) error {
	stmt := s.dialect.Upsert(storage.UpsertSpec{
		Table: CanonicalTable,
		Columns: []string{
			ColPrimaryKey, ColServiceName, ColCategory, ColEntityName,
			ColAddress, ColAccountName, ColSecret,
		},
		Key:   []string{ColPrimaryKey},
		Touch: []string{ColUpdatedAt},
	})

	for _, r := range records {
		_, err := tx.Exec(ctx, stmt,
			r.PrimaryKey, r.ServiceName, r.Category, r.EntityName,
			nullable(r.Address), r.AccountName, nullable(r.Secret),
		)
		if err != nil {
			return &StorageError{Op: "upsert", Table: CanonicalTable, Err: err}
		}
		res.CanonicalApplied++
	}
	return nil
}

// extendedPlan maps a batch's extended columns onto one stored table.
type extendedPlan struct {
	group   *CategoryGroup
	columns []string // stored column names, in write order
	indexes []int    // positions in ExtendedRecord.Values
	ignored []string // batch columns the table does not have
}

// planExtended matches batch columns to the frozen schema case-insensitively.
// Columns the table lacks are ignored, never added.
func planExtended(g *CategoryGroup, schema TableSchema, cols []ExtendedColumn) extendedPlan {
	plan := extendedPlan{group: g}
	for i, col := range cols {
		stored, ok := schema.Column(col.Column)
		if !ok {
			plan.ignored = append(plan.ignored, col.Column)
			continue
		}
		plan.columns = append(plan.columns, stored)
		plan.indexes = append(plan.indexes, i)
	}
	return plan
}

func (s *Service) applyExtended(ctx context.Context, tx storage.Tx, plan extendedPlan, res *IngestResult) error {
	stmt := s.dialect.Upsert(storage.UpsertSpec{
		Table:   plan.group.Table,
		Columns: append([]string{ColPrimaryKey}, plan.columns...),
		Key:     []string{ColPrimaryKey},
		Touch:   []string{ColUpdatedAt},
	})

	args := make([]any, 1+len(plan.indexes))
	for _, rec := range plan.group.Records {
		args[0] = rec.PrimaryKey
		for j, idx := range plan.indexes {
			args[j+1] = nullable(rec.Values[idx])
		}
		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return &StorageError{Op: "upsert", Table: plan.group.Table, Err: err}
		}
		res.ExtendedApplied++
	}
	return nil
}

// registerPairs refreshes the catalog after commit. Failures become
// warnings on the result.
func (s *Service) registerPairs(ctx context.Context, name string, pairs []ServiceCategory, res *IngestResult, log *slog.Logger) {
	if name == "" {
		name = "upload"
	}
	desc := fmt.Sprintf("CSV自動登録: %s - %s", s.now().Format(catalogDescriptionTime), name)

	catCtx, cancel := context.WithTimeout(ctx, s.catalogTimeout)
	defer cancel()

	for _, p := range pairs {
		if err := s.catalog.Register(catCtx, p.Service, p.Category, desc); err != nil {
			w := newCatalogWarning(p.Service, p.Category, err)
			res.CatalogWarnings = append(res.CatalogWarnings, w)
			log.Warn("catalog registration failed", "service", p.Service, "category", p.Category, "error", err)
		}
	}
}

// nullable maps an empty optional value to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
