package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shotam27/souchiJohoKanri/internal/config"
	"github.com/shotam27/souchiJohoKanri/internal/storage"
	"github.com/shotam27/souchiJohoKanri/internal/storage/sqlite"
)

const testHeader = "service_name,category,entity_name,address,account_name,secret"

// openTestDB opens a fresh SQLite file under t.TempDir.
func openTestDB(t *testing.T) storage.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "inventory.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return newTestServiceWith(t, openTestDB(t), nil)
}

func newTestServiceWith(t *testing.T, db storage.DB, cfg *config.Config) *Service {
	t.Helper()
	s := NewService(db, cfg)
	s.now = func() time.Time { return time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC) }
	return s
}

// csvLines joins lines into a batch body.
func csvLines(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

func mustIngest(t *testing.T, s *Service, name string, data []byte) *IngestResult {
	t.Helper()
	res, err := s.Ingest(context.Background(), IngestRequest{Name: name, Data: data})
	if err != nil {
		t.Fatalf("Ingest(%s) error = %v (state %s)", name, err, res.State)
	}
	return res
}

var errInjected = errors.New("injected failure")

// faultDB fails any statement containing failOn, both inside and outside
// transactions.
type faultDB struct {
	storage.DB
	failOn string
}

func (f *faultDB) Exec(ctx context.Context, q string, args ...any) (int64, error) {
	if strings.Contains(q, f.failOn) {
		return 0, errInjected
	}
	return f.DB.Exec(ctx, q, args...)
}

func (f *faultDB) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := f.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultTx{Tx: tx, failOn: f.failOn}, nil
}

type faultTx struct {
	storage.Tx
	failOn string
}

func (f *faultTx) Exec(ctx context.Context, q string, args ...any) (int64, error) {
	if strings.Contains(q, f.failOn) {
		return 0, errInjected
	}
	return f.Tx.Exec(ctx, q, args...)
}
