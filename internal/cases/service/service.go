// Package service contains the case workflows: order extraction, import
// orchestration, status transitions, and the read surface.
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"labcase_backend/internal/cases/repository"
	"labcase_backend/internal/events"
	"labcase_backend/internal/shopify"
	"labcase_backend/platform/apperr"
	"labcase_backend/platform/logger"

	ticketsvc "labcase_backend/internal/tickets/service"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store is the persistence surface the case workflows need.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CaseExists(ctx context.Context, tx pgx.Tx, caseID string) (bool, error)
	InsertCase(ctx context.Context, tx pgx.Tx, c *repository.Case) error
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *repository.CaseTransaction) error
	InsertItem(ctx context.Context, tx pgx.Tx, item *repository.CaseItem) error
	InsertItemTooth(ctx context.Context, tx pgx.Tx, caseItemID int64, location string) error
	MarkItemsApplied(ctx context.Context, tx pgx.Tx, caseID string, caseTypeID int, needsReview bool) error
	GetByID(ctx context.Context, caseID string) (*repository.Case, error)
	List(ctx context.Context, params repository.ListParams) ([]repository.Case, int, error)
	ListItems(ctx context.Context, caseID string) ([]repository.CaseItem, map[int64][]string, error)
	GetStatus(ctx context.Context, tx pgx.Tx, caseID string) (int, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, caseID string, statusID int) error
	StatusExists(ctx context.Context, statusID int) (bool, error)
	InsertAttachment(ctx context.Context, a *repository.Attachment) error
	ListAttachments(ctx context.Context, caseID string) ([]repository.Attachment, error)
}

// TicketComposer is the slice of the tickets module the case workflows use.
type TicketComposer interface {
	CreateTicketTx(ctx context.Context, tx pgx.Tx, params ticketsvc.CreateTicketParams) (ticketsvc.CreateTicketResult, error)
	DispatchPending(ctx context.Context, p ticketsvc.PendingEmail) error
}

// OrderFetcher retrieves orders from the storefront.
type OrderFetcher interface {
	FetchOrderByNumber(ctx context.Context, name string) (shopify.Order, error)
}

// ObjectStore holds case attachment files.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Service implements the case workflows.
type Service struct {
	store    Store
	composer TicketComposer
	fetcher  OrderFetcher
	objects  ObjectStore
	bus      events.Bus
	log      *logger.Logger
}

// New creates the case service. fetcher and objects may be nil when the
// storefront or object storage is not configured; the operations that need
// them then fail with an unavailable error.
func New(store Store, composer TicketComposer, fetcher OrderFetcher, objects ObjectStore, bus events.Bus, log *logger.Logger) *Service {
	return &Service{store: store, composer: composer, fetcher: fetcher, objects: objects, bus: bus, log: log}
}

// CaseDetail is a case with its decoded items.
type CaseDetail struct {
	Case  repository.Case
	Items []ItemDetail
}

// ItemDetail is a case item with its tooth rows.
type ItemDetail struct {
	Item  repository.CaseItem
	Teeth []string
}

// GetCase returns a case with its items and tooth rows.
func (s *Service) GetCase(ctx context.Context, caseID string) (*CaseDetail, error) {
	c, err := s.store.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	items, teeth, err := s.store.ListItems(ctx, caseID)
	if err != nil {
		return nil, err
	}

	detail := &CaseDetail{Case: *c}
	for _, item := range items {
		detail.Items = append(detail.Items, ItemDetail{Item: item, Teeth: teeth[item.ID]})
	}
	return detail, nil
}

// ListCases returns a page of cases.
func (s *Service) ListCases(ctx context.Context, params repository.ListParams) ([]repository.Case, int, error) {
	return s.store.List(ctx, params)
}

// ChangeStatusParams configures a status transition.
type ChangeStatusParams struct {
	CaseID   string
	StatusID int
	Note     string

	// NotifyTemplateID, when non-zero, composes a notification ticket from
	// that template in the same unit of work.
	NotifyTemplateID int

	ChangedBy int64
}

// ChangeStatus moves a case to a new status, appends the audit row, and
// optionally composes a notification ticket. Ticket composition failures are
// reported as diagnostics, never as errors: the transition must land even
// when notification cannot.
func (s *Service) ChangeStatus(ctx context.Context, params ChangeStatusParams) ([]string, error) {
	ok, err := s.store.StatusExists(ctx, params.StatusID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %d", params.StatusID))
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	fromStatus, err := s.store.GetStatus(ctx, tx, params.CaseID)
	if err != nil {
		return nil, err
	}
	if fromStatus == params.StatusID {
		return nil, apperr.Validation(fmt.Sprintf("case already in status %d", params.StatusID))
	}

	if err := s.store.UpdateStatus(ctx, tx, params.CaseID, params.StatusID); err != nil {
		return nil, err
	}
	if err := s.store.InsertTransaction(ctx, tx, &repository.CaseTransaction{
		CaseID:    params.CaseID,
		StatusID:  params.StatusID,
		UserID:    params.ChangedBy,
		Note:      params.Note,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	var diags []string
	var pending *ticketsvc.PendingEmail
	if params.NotifyTemplateID != 0 {
		result, err := s.composeIsolated(ctx, tx, ticketsvc.CreateTicketParams{
			CaseID:     params.CaseID,
			TemplateID: params.NotifyTemplateID,
			CreatedBy:  params.ChangedBy,
			SendEmail:  true,
		})
		if err != nil {
			diags = append(diags, fmt.Sprintf("status notification ticket failed: %v", err))
		} else {
			diags = append(diags, result.Diagnostics...)
			pending = result.PendingEmail
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if pending != nil {
		if err := s.composer.DispatchPending(ctx, *pending); err != nil {
			diags = append(diags, fmt.Sprintf("notification email enqueue failed: %v", err))
		}
	}

	s.bus.Publish(ctx, events.CaseStatusChanged{
		BaseEvent:  events.NewBaseEvent(),
		CaseID:     params.CaseID,
		FromStatus: fromStatus,
		ToStatus:   params.StatusID,
		ChangedBy:  params.ChangedBy,
	})
	return diags, nil
}

// composeIsolated runs ticket composition inside a savepoint so a failure
// aborts only the composition, not the surrounding transaction.
func (s *Service) composeIsolated(ctx context.Context, tx pgx.Tx, params ticketsvc.CreateTicketParams) (ticketsvc.CreateTicketResult, error) {
	nested, err := tx.Begin(ctx)
	if err != nil {
		return ticketsvc.CreateTicketResult{}, fmt.Errorf("failed to open savepoint: %w", err)
	}
	result, err := s.composer.CreateTicketTx(ctx, nested, params)
	if err != nil {
		nested.Rollback(ctx)
		return ticketsvc.CreateTicketResult{}, err
	}
	if err := nested.Commit(ctx); err != nil {
		return ticketsvc.CreateTicketResult{}, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return result, nil
}

// UploadAttachmentParams describes one attachment upload.
type UploadAttachmentParams struct {
	CaseID      string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
	UploadedBy  int64
}

// AttachmentView is an attachment with a presigned download URL.
type AttachmentView struct {
	Attachment repository.Attachment
	URL        string
}

const attachmentURLExpiry = 15 * time.Minute

// UploadAttachment stores the file in object storage, then records it.
func (s *Service) UploadAttachment(ctx context.Context, params UploadAttachmentParams) (*repository.Attachment, error) {
	if s.objects == nil {
		return nil, apperr.Unavailable("object storage not configured")
	}
	if _, err := s.store.GetByID(ctx, params.CaseID); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("cases/%s/%s-%s", params.CaseID, uuid.NewString(), params.FileName)
	if err := s.objects.Upload(ctx, key, params.Body, params.Size, params.ContentType); err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}

	a := &repository.Attachment{
		CaseID:      params.CaseID,
		FileName:    params.FileName,
		ContentType: params.ContentType,
		SizeBytes:   params.Size,
		ObjectKey:   key,
		UploadedBy:  params.UploadedBy,
		CreatedAt:   time.Now(),
	}
	if err := s.store.InsertAttachment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAttachments returns a case's attachments with presigned download URLs.
func (s *Service) ListAttachments(ctx context.Context, caseID string) ([]AttachmentView, error) {
	if s.objects == nil {
		return nil, apperr.Unavailable("object storage not configured")
	}
	attachments, err := s.store.ListAttachments(ctx, caseID)
	if err != nil {
		return nil, err
	}

	views := make([]AttachmentView, 0, len(attachments))
	for _, a := range attachments {
		url, err := s.objects.PresignedGetURL(ctx, a.ObjectKey, attachmentURLExpiry)
		if err != nil {
			return nil, fmt.Errorf("failed to presign attachment url: %w", err)
		}
		views = append(views, AttachmentView{Attachment: a, URL: url})
	}
	return views, nil
}
