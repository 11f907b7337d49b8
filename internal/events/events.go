// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"labcase_backend/platform/events"
	"labcase_backend/platform/logger"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// CaseImported is published after a case import commits.
type CaseImported struct {
	BaseEvent
	CaseID      string `json:"caseId"`
	OrderNumber string `json:"orderNumber"`
	ItemCount   int    `json:"itemCount"`
	Rush        bool   `json:"rush"`
	ImportedBy  int64  `json:"importedBy"`
}

func (e CaseImported) EventName() string { return "cases.imported" }

// CaseStatusChanged is published after a case status transition commits.
type CaseStatusChanged struct {
	BaseEvent
	CaseID     string `json:"caseId"`
	FromStatus int    `json:"fromStatus"`
	ToStatus   int    `json:"toStatus"`
	ChangedBy  int64  `json:"changedBy"`
}

func (e CaseStatusChanged) EventName() string { return "cases.status_changed" }

// TicketCreated is published after a ticket and its opening detail commit.
type TicketCreated struct {
	BaseEvent
	CaseID       string `json:"caseId"`
	TicketNumber int    `json:"ticketNumber"`
	DetailID     int64  `json:"detailId"`
	Status       string `json:"status"`
}

func (e TicketCreated) EventName() string { return "tickets.created" }
