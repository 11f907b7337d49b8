// Package tickets provides the ticket composition domain module.
package tickets

import (
	"labcase_backend/internal/events"
	apphttp "labcase_backend/internal/http"
	"labcase_backend/internal/tickets/handler"
	"labcase_backend/internal/tickets/repository"
	"labcase_backend/internal/tickets/service"
	"labcase_backend/internal/tickets/token"
	"labcase_backend/platform/logger"
	"labcase_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the tickets domain module.
type Module struct {
	handler *handler.Handler

	// Service is exported so other modules can compose tickets inside
	// their own transactions.
	Service *service.Service
}

// NewModule creates a new tickets module with all dependencies wired.
// enqueuer may be nil when no task queue is configured; ticket emails
// are then skipped with a diagnostic.
func NewModule(pool *pgxpool.Pool, enqueuer service.EmailEnqueuer, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	resolver := token.NewResolver(repo, log)
	svc := service.New(repo, resolver, enqueuer, bus, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		Service: svc,
	}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "tickets"
}

// RegisterRoutes registers the module's routes under /api/v1/cases/:id/tickets.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	tickets := ctx.Protected.Group("/cases/:id/tickets")
	m.handler.RegisterRoutes(tickets)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
