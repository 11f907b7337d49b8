// Package service implements ticket composition: template resolution, token
// substitution, per-case numbering, and deferred email dispatch.
package service

import (
	"context"
	"fmt"
	"time"

	"labcase_backend/internal/events"
	"labcase_backend/internal/tickets/repository"
	"labcase_backend/platform/apperr"
	"labcase_backend/platform/logger"

	"github.com/jackc/pgx/v5"
)

const (
	// supportAddress backs the from/to fallbacks when nothing else resolves.
	supportAddress = "support@labcase.io"

	// FallbackTemplateID is the seeded template for import-review tickets.
	FallbackTemplateID = 1

	// StatusOpen is the status a freshly composed ticket carries.
	StatusOpen = "Open"

	// StatusScheduled is the status a template with a scheduled-status
	// default composes into when the caller supplies none.
	StatusScheduled = "Scheduled"

	actionEmail    = "Email"
	firstDetailNum = 1
)

// Store is the persistence surface the composer needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetTemplate(ctx context.Context, tx pgx.Tx, templateID int) (*repository.EmailTemplate, error)
	NextTicketNumber(ctx context.Context, tx pgx.Tx, caseID string) (int, error)
	GetCaseContact(ctx context.Context, tx pgx.Tx, caseID string) (statusID int, userID int64, err error)
	GetUserEmail(ctx context.Context, tx pgx.Tx, userID int64) (string, error)
	InsertTicket(ctx context.Context, tx pgx.Tx, t *repository.Ticket) error
	InsertTicketDetail(ctx context.Context, tx pgx.Tx, d *repository.TicketDetail) error
	LatestAssignee(ctx context.Context, tx pgx.Tx, detailID int64) (int64, error)
	InsertAssignmentLog(ctx context.Context, tx pgx.Tx, detailID, assigneeID int64) error
	ListByCase(ctx context.Context, caseID string) ([]repository.Ticket, map[int64]repository.TicketDetail, error)
}

// TokenResolver substitutes @@ tokens in ticket text.
type TokenResolver interface {
	Resolve(ctx context.Context, tx pgx.Tx, text, caseID, ticketNumberDisplay string) (string, []string)
}

// EmailEnqueuer hands a composed detail to the background mailer.
type EmailEnqueuer interface {
	EnqueueTicketEmail(ctx context.Context, detailID int64) error
}

// CreateTicketParams configures one ticket composition. Zero values mean
// "not supplied"; defaults are documented per field.
type CreateTicketParams struct {
	CaseID string

	// TemplateID selects an email template; 0 skips template resolution.
	TemplateID int

	// From, Subject and Message replace the template defaults outright.
	// To, Cc and Bcc are merged with the template defaults instead
	// (semicolon-joined, template value first).
	From    string
	To      string
	Cc      string
	Bcc     string
	Subject string
	Message string

	// OverrideSubject and OverrideMessage are applied after token
	// substitution and defaulting, and are never tokenized. nil means
	// "not supplied"; an empty string clears the field.
	OverrideSubject *string
	OverrideMessage *string

	// Status defaults to StatusScheduled when the template carries a
	// scheduled-status default, otherwise StatusOpen.
	Status string

	CreatedBy int64

	// AssigneeID defaults to CreatedBy.
	AssigneeID int64

	// SendEmail requests a notification dispatch after commit.
	SendEmail bool
}

// PendingEmail is a dispatch the caller must enqueue after its own commit.
type PendingEmail struct {
	DetailID int64
}

// CreateTicketResult reports the persisted ticket plus non-fatal diagnostics
// (token-resolution warnings, enqueue failures).
type CreateTicketResult struct {
	TicketID      int64
	DetailID      int64
	TicketNumber  int
	DisplayNumber string
	Status        string
	PendingEmail  *PendingEmail
	Diagnostics   []string
}

// Service composes tickets.
type Service struct {
	store    Store
	resolver TokenResolver
	enqueuer EmailEnqueuer
	bus      events.Bus
	log      *logger.Logger
}

// New creates a ticket composition service. enqueuer may be nil when no
// background mailer is configured; pending dispatches then surface as
// diagnostics.
func New(store Store, resolver TokenResolver, enqueuer EmailEnqueuer, bus events.Bus, log *logger.Logger) *Service {
	return &Service{store: store, resolver: resolver, enqueuer: enqueuer, bus: bus, log: log}
}

// CreateTicket composes a ticket in its own transaction and, after commit,
// enqueues the notification email when one was requested.
func (s *Service) CreateTicket(ctx context.Context, params CreateTicketParams) (CreateTicketResult, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return CreateTicketResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := s.CreateTicketTx(ctx, tx, params)
	if err != nil {
		return CreateTicketResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return CreateTicketResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if result.PendingEmail != nil {
		if err := s.DispatchPending(ctx, *result.PendingEmail); err != nil {
			result.Diagnostics = append(result.Diagnostics,
				fmt.Sprintf("ticket %s: email enqueue failed: %v", result.DisplayNumber, err))
		}
		result.PendingEmail = nil
	}

	s.bus.Publish(ctx, events.TicketCreated{
		BaseEvent:    events.NewBaseEvent(),
		CaseID:       params.CaseID,
		TicketNumber: result.TicketNumber,
		DetailID:     result.DetailID,
		Status:       result.Status,
	})
	return result, nil
}

// CreateTicketTx composes a ticket inside the caller's transaction. The
// caller must enqueue result.PendingEmail after its own commit; enqueuing
// before commit would race the mailer against an uncommitted detail row.
func (s *Service) CreateTicketTx(ctx context.Context, tx pgx.Tx, params CreateTicketParams) (CreateTicketResult, error) {
	if params.CaseID == "" {
		return CreateTicketResult{}, apperr.Validation("case id is required")
	}
	status := params.Status
	assignee := params.AssigneeID
	if assignee == 0 {
		assignee = params.CreatedBy
	}

	from := params.From
	to := params.To
	cc := params.Cc
	bcc := params.Bcc
	subject := params.Subject
	message := params.Message

	if params.TemplateID != 0 {
		tmpl, err := s.store.GetTemplate(ctx, tx, params.TemplateID)
		if err != nil {
			return CreateTicketResult{}, err
		}
		from = orDefault(from, tmpl.FromAddress)
		subject = orDefault(subject, tmpl.Subject)
		message = orDefault(message, tmpl.Message)
		to = joinAddresses(tmpl.ToAddress, to)
		cc = joinAddresses(tmpl.CcAddress, cc)
		bcc = joinAddresses(tmpl.BccAddress, bcc)
		if status == "" && tmpl.DefaultScheduledStatusID != 0 {
			status = StatusScheduled
		}
	}
	status = orDefault(status, StatusOpen)

	statusSnapshot, caseUserID, err := s.store.GetCaseContact(ctx, tx, params.CaseID)
	if err != nil {
		return CreateTicketResult{}, err
	}

	number, err := s.store.NextTicketNumber(ctx, tx, params.CaseID)
	if err != nil {
		return CreateTicketResult{}, err
	}
	display := fmt.Sprintf("%s-%d-1", params.CaseID, number)

	var diags []string
	from, diags = s.resolve(ctx, tx, from, params.CaseID, display, diags)
	to, diags = s.resolve(ctx, tx, to, params.CaseID, display, diags)
	subject, diags = s.resolve(ctx, tx, subject, params.CaseID, display, diags)
	message, diags = s.resolve(ctx, tx, message, params.CaseID, display, diags)

	if from == "" {
		from = supportAddress
	}
	if to == "" {
		to, err = s.store.GetUserEmail(ctx, tx, caseUserID)
		if err != nil {
			return CreateTicketResult{}, err
		}
		if to == "" {
			to = supportAddress
		}
	}

	// Overrides land last and skip tokenization entirely. A non-nil
	// empty override clears the field.
	if params.OverrideSubject != nil {
		subject = *params.OverrideSubject
	}
	if params.OverrideMessage != nil {
		message = *params.OverrideMessage
	}

	ticket := &repository.Ticket{
		CaseID:       params.CaseID,
		TicketNumber: number,
		Status:       status,
		CreatedBy:    params.CreatedBy,
		CreatedAt:    time.Now(),
	}
	if err := s.insertTicketIsolated(ctx, tx, ticket); err != nil {
		// A concurrent composer may have taken the number between the
		// max+1 read and the insert; reallocate once. The savepoint
		// around the attempt confines the unique-violation abort, so
		// the surrounding transaction stays usable for the retry.
		if apperr.GetKind(err) != apperr.KindConflict {
			return CreateTicketResult{}, err
		}
		if ticket.TicketNumber, err = s.store.NextTicketNumber(ctx, tx, params.CaseID); err != nil {
			return CreateTicketResult{}, err
		}
		number = ticket.TicketNumber
		display = fmt.Sprintf("%s-%d-1", params.CaseID, number)
		if err := s.insertTicketIsolated(ctx, tx, ticket); err != nil {
			return CreateTicketResult{}, err
		}
	}

	detail := &repository.TicketDetail{
		TicketID:       ticket.ID,
		DetailNumber:   firstDetailNum,
		Action:         actionEmail,
		FromAddress:    from,
		ToAddress:      to,
		CcAddress:      cc,
		BccAddress:     bcc,
		Subject:        subject,
		Message:        message,
		StatusSnapshot: statusSnapshot,
		CreatedAt:      time.Now(),
	}
	if err := s.store.InsertTicketDetail(ctx, tx, detail); err != nil {
		return CreateTicketResult{}, err
	}

	latest, err := s.store.LatestAssignee(ctx, tx, detail.ID)
	if err != nil {
		return CreateTicketResult{}, err
	}
	if latest != assignee {
		if err := s.store.InsertAssignmentLog(ctx, tx, detail.ID, assignee); err != nil {
			return CreateTicketResult{}, err
		}
	}

	result := CreateTicketResult{
		TicketID:      ticket.ID,
		DetailID:      detail.ID,
		TicketNumber:  number,
		DisplayNumber: display,
		Status:        status,
		Diagnostics:   diags,
	}
	if params.SendEmail {
		result.PendingEmail = &PendingEmail{DetailID: detail.ID}
	}

	s.log.TicketEvent(params.CaseID, number, status)
	return result, nil
}

// insertTicketIsolated inserts the ticket header inside a savepoint. A
// unique-violation abort is confined to the savepoint, keeping the caller's
// transaction usable for the number reallocation retry.
func (s *Service) insertTicketIsolated(ctx context.Context, tx pgx.Tx, t *repository.Ticket) error {
	nested, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}
	if err := s.store.InsertTicket(ctx, nested, t); err != nil {
		nested.Rollback(ctx)
		return err
	}
	if err := nested.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// DispatchPending hands a committed detail to the background mailer.
func (s *Service) DispatchPending(ctx context.Context, p PendingEmail) error {
	if s.enqueuer == nil {
		return apperr.Unavailable("no email enqueuer configured")
	}
	return s.enqueuer.EnqueueTicketEmail(ctx, p.DetailID)
}

// ListByCase returns a case's tickets with their opening detail.
func (s *Service) ListByCase(ctx context.Context, caseID string) ([]repository.Ticket, map[int64]repository.TicketDetail, error) {
	return s.store.ListByCase(ctx, caseID)
}

func (s *Service) resolve(ctx context.Context, tx pgx.Tx, text, caseID, display string, diags []string) (string, []string) {
	out, d := s.resolver.Resolve(ctx, tx, text, caseID, display)
	return out, append(diags, d...)
}

// joinAddresses merges a template default with an explicit address,
// semicolon-joined, each included only when non-empty.
func joinAddresses(tmpl, explicit string) string {
	switch {
	case tmpl == "":
		return explicit
	case explicit == "":
		return tmpl
	default:
		return tmpl + ";" + explicit
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
