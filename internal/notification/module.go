// Package notification subscribes to domain events and records operational
// activity. Domain modules publish facts; this module decides what deserves
// attention, so importers and ticket composers never carry notification
// concerns themselves.
package notification

import (
	"context"
	"fmt"

	"labcase_backend/internal/events"
	"labcase_backend/platform/logger"
)

// Module holds the event handlers for case activity notifications.
type Module struct {
	log *logger.Logger
}

// New creates the notification module.
func New(log *logger.Logger) *Module {
	return &Module{log: log}
}

// RegisterHandlers subscribes the module to the domain events it consumes.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.CaseImported{}.EventName(), events.HandlerFunc(m.onCaseImported))
	bus.Subscribe(events.CaseStatusChanged{}.EventName(), events.HandlerFunc(m.onCaseStatusChanged))
	bus.Subscribe(events.TicketCreated{}.EventName(), events.HandlerFunc(m.onTicketCreated))
}

func (m *Module) onCaseImported(_ context.Context, event events.Event) error {
	e, ok := event.(events.CaseImported)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.log.Info("case imported",
		"caseId", e.CaseID,
		"orderNumber", e.OrderNumber,
		"itemCount", e.ItemCount,
		"rush", e.Rush,
		"importedBy", e.ImportedBy,
	)
	if e.ItemCount == 0 {
		m.log.Warn("case imported without items, needs manual entry", "caseId", e.CaseID)
	}
	return nil
}

func (m *Module) onCaseStatusChanged(_ context.Context, event events.Event) error {
	e, ok := event.(events.CaseStatusChanged)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.log.Info("case status changed",
		"caseId", e.CaseID,
		"fromStatus", e.FromStatus,
		"toStatus", e.ToStatus,
		"changedBy", e.ChangedBy,
	)
	return nil
}

func (m *Module) onTicketCreated(_ context.Context, event events.Event) error {
	e, ok := event.(events.TicketCreated)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.log.TicketEvent(e.CaseID, e.TicketNumber, e.Status)
	return nil
}
