package core

// scheduler.go runs background maintenance for the batch history table.
//
// The pruner keeps the newest MaxEntries rows of ingest_history and deletes
// the rest. It runs once on start, then every CheckInterval, and stops when
// its context is cancelled. A failed cycle is logged and retried on the next
// tick.

import (
	"context"
	"time"

	"github.com/shotam27/souchiJohoKanri/internal/config"
	"github.com/shotam27/souchiJohoKanri/internal/logging"
)

// StartHistoryPruner blocks, pruning batch history until ctx is cancelled.
// A MaxEntries of zero disables pruning and returns immediately.
func (s *Service) StartHistoryPruner(ctx context.Context, cfg config.HistoryConfig) {
	log := logging.FromContext(ctx)
	if cfg.MaxEntries <= 0 || cfg.CheckInterval <= 0 {
		log.Info("batch history pruning disabled")
		return
	}
	log.Info("history pruner started", "max_entries", cfg.MaxEntries, "interval", cfg.CheckInterval)

	s.runPruneJob(ctx, cfg.MaxEntries)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("history pruner stopped")
			return
		case <-ticker.C:
			s.runPruneJob(ctx, cfg.MaxEntries)
		}
	}
}

func (s *Service) runPruneJob(ctx context.Context, keep int) {
	log := logging.FromContext(ctx)
	start := time.Now()

	pruned, err := s.PruneHistory(ctx, keep)
	if err != nil {
		log.Error("history prune failed", "error", err)
		return
	}
	log.Info("history pruned", "entries_pruned", pruned, "duration_ms", time.Since(start).Milliseconds())
}

// PruneHistory deletes all but the newest keep batch history entries and
// returns the number removed.
func (s *Service) PruneHistory(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	ok, err := s.registry.TableExists(ctx, s.db, HistoryTable)
	if err != nil {
		return 0, &StorageError{Op: "probe_table", Table: HistoryTable, Err: err}
	}
	if !ok {
		return 0, nil
	}

	d := s.dialect
	id := d.QuoteIdent("id")
	q := "SELECT " + id + " FROM " + d.QuoteIdent(HistoryTable) + d.Paginate(id+" DESC", 1, 2)

	rows, err := s.db.Query(ctx, q, 1, keep)
	if err != nil {
		return 0, &StorageError{Op: "prune_history", Table: HistoryTable, Err: err}
	}
	var cutoff int64
	found := rows.Next()
	if found {
		err = rows.Scan(&cutoff)
	}
	if err == nil {
		err = rows.Err()
	}
	rows.Close()
	if err != nil {
		return 0, &StorageError{Op: "prune_history", Table: HistoryTable, Err: err}
	}
	if !found {
		return 0, nil
	}

	n, err := s.db.Exec(ctx, "DELETE FROM "+d.QuoteIdent(HistoryTable)+" WHERE "+id+" <= "+d.Placeholder(1), cutoff)
	if err != nil {
		return 0, &StorageError{Op: "prune_history", Table: HistoryTable, Err: err}
	}
	return n, nil
}
