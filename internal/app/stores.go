// Package app wires storage and sample data for the server and the admin CLI.
package app

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-request-workflow/internal/platform/config"
	"github.com/pesio-ai/be-request-workflow/internal/platform/database"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
	"github.com/pesio-ai/be-request-workflow/internal/repository/memstore"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

// Stores bundles every persistence port the services need.
type Stores struct {
	Users     service.UserStore
	Approvers service.DepartmentApproverStore
	Requests  service.RequestStore
	Flow      service.FlowStore
	Documents service.DocumentStore
	Analytics service.AnalyticsStore

	// Ready reports storage health; nil for the in-memory driver.
	Ready func(context.Context) error

	db *database.DB
}

// postgresDocuments joins the document and document log repositories.
type postgresDocuments struct {
	*repository.DocumentRepository
	*repository.DocumentApprovalRepository
}

// OpenStores connects the configured driver. With migrate set the Postgres
// schema is applied before returning.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, migrate bool, log *logger.Logger) (*Stores, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		mem := memstore.New()
		return &Stores{
			Users:     mem,
			Approvers: mem,
			Requests:  mem,
			Flow:      mem,
			Documents: mem,
			Analytics: mem,
		}, nil

	case "postgres":
		db, err := database.New(ctx, database.Config{
			DSN:         cfg.DSN(),
			MaxConns:    cfg.MaxConns,
			MinConns:    cfg.MinConns,
			MaxConnTime: cfg.MaxConnTime,
			MaxIdleTime: cfg.MaxIdleTime,
			HealthCheck: cfg.HealthCheck,
		})
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Str("database", cfg.Database).
			Msg("Database connection established")

		if migrate {
			if err := repository.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, err
			}
			log.Info().Msg("Database schema applied")
		}

		return &Stores{
			Users:     repository.NewUserRepository(db),
			Approvers: repository.NewDepartmentApproverRepository(db),
			Requests:  repository.NewRequestRepository(db),
			Flow:      repository.NewFlowRepository(db),
			Documents: postgresDocuments{
				DocumentRepository:         repository.NewDocumentRepository(db),
				DocumentApprovalRepository: repository.NewDocumentApprovalRepository(db),
			},
			Analytics: repository.NewAnalyticsRepository(db),
			Ready:     db.Ping,
			db:        db,
		}, nil
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
