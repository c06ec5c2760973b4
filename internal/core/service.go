package core

import (
	"context"
	"time"

	"github.com/shotam27/souchiJohoKanri/internal/config"
	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// Defaults used when no configuration is supplied.
const (
	DefaultUploadTimeout   = 10 * time.Minute
	DefaultPageSize        = 50
	DefaultMaxPageSize     = 500
	DefaultCatalogTimeout  = 30 * time.Second
	catalogDescriptionTime = "2006-01-02 15:04:05"
)

// Service is the entry point for ingestion, catalog and query operations.
// It is safe for concurrent use.
type Service struct {
	db       storage.DB
	dialect  storage.Dialect
	registry *SchemaRegistry
	catalog  *Catalog
	limiter  *UploadLimiter

	uploadTimeout   time.Duration
	catalogTimeout  time.Duration
	defaultPageSize int
	maxPageSize     int

	now func() time.Time
}

// NewService wires a Service over an open backend. A nil cfg uses defaults.
func NewService(db storage.DB, cfg *config.Config) *Service {
	s := &Service{
		db:              db,
		dialect:         db.Dialect(),
		registry:        NewSchemaRegistry(db.Dialect()),
		uploadTimeout:   DefaultUploadTimeout,
		catalogTimeout:  DefaultCatalogTimeout,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     DefaultMaxPageSize,
		now:             time.Now,
	}

	maxConcurrent, maxWait := 0, time.Duration(0)
	if cfg != nil {
		maxConcurrent = cfg.Upload.MaxConcurrent
		maxWait = cfg.Upload.MaxWaitTime
		if cfg.Upload.Timeout > 0 {
			s.uploadTimeout = cfg.Upload.Timeout
		}
		if cfg.Query.DefaultPageSize > 0 {
			s.defaultPageSize = cfg.Query.DefaultPageSize
		}
		if cfg.Query.MaxPageSize > 0 {
			s.maxPageSize = cfg.Query.MaxPageSize
		}
	}
	s.limiter = NewUploadLimiter(maxConcurrent, maxWait)
	s.catalog = NewCatalog(db, s.registry)
	return s
}

// Catalog returns the category catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Registry returns the schema registry.
func (s *Service) Registry() *SchemaRegistry { return s.registry }

// Dialect returns the backend dialect name.
func (s *Service) Dialect() string { return s.dialect.Name() }

// UploadTimeout bounds one batch transaction.
func (s *Service) UploadTimeout() time.Duration { return s.uploadTimeout }

// UploadLimiterStatus reports batch concurrency for health output.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until in-flight batches finish or ctx ends.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Ping checks storage connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
