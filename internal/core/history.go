package core

import (
	"context"
	"strings"
	"time"

	"github.com/shotam27/souchiJohoKanri/internal/logging"
	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// HistoryEntry is one recorded batch outcome.
type HistoryEntry struct {
	ID            int64      `json:"id"`
	BatchID       string     `json:"batch_id"`
	Name          string     `json:"name"`
	State         BatchState `json:"state"`
	FailedState   BatchState `json:"failed_state,omitempty"`
	TotalRows     int64      `json:"total_rows"`
	AcceptedCount int64      `json:"accepted_count"`
	RejectedCount int64      `json:"rejected_count"`
	CreatedTables []string   `json:"created_tables"`
	Error         string     `json:"error,omitempty"`
	ClientAddr    string     `json:"client_addr,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `json:"created_at,omitzero"`
}

// DefaultHistoryLimit bounds ListHistory when no limit is given.
const DefaultHistoryLimit = 20

var historyColumns = []string{
	"batch_id", "name", "state", "failed_state", "total_rows", "accepted_count",
	"rejected_count", "created_tables", "error", "client_addr", "user_agent", "duration_ms",
}

// historyTableDef is the batch history layout.
func historyTableDef() storage.TableDef {
	return storage.TableDef{
		Name: HistoryTable,
		Columns: []storage.Column{
			{Name: "id", Type: storage.TypeSerial},
			{Name: "batch_id", Type: storage.TypeName, NotNull: true},
			{Name: "name", Type: storage.TypeText},
			{Name: "state", Type: storage.TypeName, NotNull: true},
			{Name: "failed_state", Type: storage.TypeName},
			{Name: "total_rows", Type: storage.TypeInt},
			{Name: "accepted_count", Type: storage.TypeInt},
			{Name: "rejected_count", Type: storage.TypeInt},
			{Name: "created_tables", Type: storage.TypeText},
			{Name: "error", Type: storage.TypeText},
			{Name: "client_addr", Type: storage.TypeText},
			{Name: "user_agent", Type: storage.TypeText},
			{Name: "duration_ms", Type: storage.TypeInt},
			{Name: ColCreatedAt, Type: storage.TypeTimestamp, Default: storage.DefaultNow},
		},
	}
}

// EnsureHistoryTable creates the batch history table when absent.
func (r *SchemaRegistry) EnsureHistoryTable(ctx context.Context, q storage.Querier) error {
	if err := r.createTable(ctx, q, historyTableDef()); err != nil {
		return &StorageError{Op: "ensure_table", Table: HistoryTable, Err: err}
	}
	return nil
}

// recordHistory stores the outcome of one batch outside its transaction.
// Failures are logged and otherwise ignored.
func (s *Service) recordHistory(ctx context.Context, res *IngestResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.catalogTimeout)
	defer cancel()

	log := logging.WithFields(ctx, "batch_id", res.BatchID)
	if err := s.registry.EnsureHistoryTable(ctx, s.db); err != nil {
		log.Warn("batch history unavailable", "error", err)
		return
	}

	addr, ua := ClientFromContext(ctx)
	d := s.dialect
	q := "INSERT INTO " + d.QuoteIdent(HistoryTable) +
		" (" + strings.Join(storage.QuoteAll(d, historyColumns), ", ") + ")" +
		" VALUES (" + strings.Join(storage.Placeholders(d, 1, len(historyColumns)), ", ") + ")"

	_, err := s.db.Exec(ctx, q,
		res.BatchID,
		nullable(res.Name),
		string(res.State),
		nullable(string(res.FailedState)),
		res.TotalRows,
		res.AcceptedCount,
		len(res.RejectedRows),
		nullable(strings.Join(res.CreatedTables, ",")),
		nullable(res.Error),
		nullable(addr),
		nullable(ua),
		res.Duration.Milliseconds(),
	)
	if err != nil {
		log.Warn("failed to record batch history", "error", err)
	}
}

// ListHistory returns the most recent batch outcomes, newest first.
func (s *Service) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	out := []HistoryEntry{}
	ok, err := s.registry.TableExists(ctx, s.db, HistoryTable)
	if err != nil {
		return nil, &StorageError{Op: "probe_table", Table: HistoryTable, Err: err}
	}
	if !ok {
		return out, nil
	}

	d := s.dialect
	cols := append([]string{"id"}, historyColumns...)
	cols = append(cols, ColCreatedAt)
	q := "SELECT " + strings.Join(storage.QuoteAll(d, cols), ", ") +
		" FROM " + d.QuoteIdent(HistoryTable) + d.Paginate(d.QuoteIdent("id")+" DESC", 1, 2)

	rows, err := s.db.Query(ctx, q, limit, 0)
	if err != nil {
		return nil, &StorageError{Op: "history", Table: HistoryTable, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                                          HistoryEntry
			name, failed, tables, msg, addr, ua, state *string
			created                                    any
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &name, &state, &failed, &e.TotalRows, &e.AcceptedCount,
			&e.RejectedCount, &tables, &msg, &addr, &ua, &e.DurationMs, &created); err != nil {
			return nil, &StorageError{Op: "history", Table: HistoryTable, Err: err}
		}
		e.Name, e.Error = deref(name), deref(msg)
		e.State, e.FailedState = BatchState(deref(state)), BatchState(deref(failed))
		e.ClientAddr, e.UserAgent = deref(addr), deref(ua)
		e.CreatedTables = []string{}
		if t := deref(tables); t != "" {
			e.CreatedTables = strings.Split(t, ",")
		}
		e.CreatedAt = toTime(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "history", Table: HistoryTable, Err: err}
	}
	return out, nil
}
