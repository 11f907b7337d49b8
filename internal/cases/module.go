// Package cases provides the case management domain module.
package cases

import (
	"labcase_backend/internal/cases/handler"
	"labcase_backend/internal/cases/repository"
	"labcase_backend/internal/cases/service"
	"labcase_backend/internal/events"
	apphttp "labcase_backend/internal/http"
	"labcase_backend/platform/logger"
	"labcase_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the cases domain module.
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates a new cases module with all dependencies wired.
func NewModule(pool *pgxpool.Pool, composer service.TicketComposer, fetcher service.OrderFetcher, objects service.ObjectStore, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, composer, fetcher, objects, bus, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		Service: svc,
	}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "cases"
}

// RegisterRoutes registers the module's routes under /api/v1/cases.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	cases := ctx.Protected.Group("/cases")
	m.handler.RegisterRoutes(cases)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
