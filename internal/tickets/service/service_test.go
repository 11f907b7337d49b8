package service

import (
	"context"
	"strings"
	"testing"

	"labcase_backend/internal/events"
	"labcase_backend/internal/tickets/repository"
	"labcase_backend/platform/apperr"
	"labcase_backend/platform/logger"

	"github.com/jackc/pgx/v5"
)

// fakeTx mimics Postgres scoping: a failed statement aborts its transaction
// (or savepoint) scope, and statements on an aborted scope fail until it is
// rolled back. Begin opens a nested savepoint scope.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	aborted    bool
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }
func (f *fakeTx) Commit(ctx context.Context) error          { f.committed = true; return nil }
func (f *fakeTx) Rollback(ctx context.Context) error        { f.rolledBack = true; return nil }

func txAborted(tx pgx.Tx) bool {
	ft, ok := tx.(*fakeTx)
	return ok && ft.aborted
}

func abortTx(tx pgx.Tx) {
	if ft, ok := tx.(*fakeTx); ok {
		ft.aborted = true
	}
}

var errTxAborted = apperr.Internal("current transaction is aborted, commands ignored until end of transaction block")

type fakeStore struct {
	template     *repository.EmailTemplate
	templateErr  error
	nextNumber   int
	statusID     int
	caseUserID   int64
	userEmail    string
	conflictOnce bool

	tickets []*repository.Ticket
	details []*repository.TicketDetail
	logs    []int64
}

func (f *fakeStore) Begin(ctx context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

func (f *fakeStore) GetTemplate(ctx context.Context, tx pgx.Tx, id int) (*repository.EmailTemplate, error) {
	if f.templateErr != nil {
		return nil, f.templateErr
	}
	if f.template == nil || f.template.ID != id {
		return nil, apperr.NotFound("email template not found")
	}
	return f.template, nil
}

func (f *fakeStore) NextTicketNumber(ctx context.Context, tx pgx.Tx, caseID string) (int, error) {
	if txAborted(tx) {
		return 0, errTxAborted
	}
	f.nextNumber++
	return f.nextNumber, nil
}

func (f *fakeStore) GetCaseContact(ctx context.Context, tx pgx.Tx, caseID string) (int, int64, error) {
	return f.statusID, f.caseUserID, nil
}

func (f *fakeStore) GetUserEmail(ctx context.Context, tx pgx.Tx, userID int64) (string, error) {
	return f.userEmail, nil
}

func (f *fakeStore) InsertTicket(ctx context.Context, tx pgx.Tx, t *repository.Ticket) error {
	if txAborted(tx) {
		return errTxAborted
	}
	if f.conflictOnce {
		f.conflictOnce = false
		abortTx(tx)
		return apperr.Conflict("ticket number taken")
	}
	t.ID = int64(len(f.tickets) + 1)
	f.tickets = append(f.tickets, t)
	return nil
}

func (f *fakeStore) InsertTicketDetail(ctx context.Context, tx pgx.Tx, d *repository.TicketDetail) error {
	d.ID = int64(len(f.details) + 100)
	f.details = append(f.details, d)
	return nil
}

func (f *fakeStore) LatestAssignee(ctx context.Context, tx pgx.Tx, detailID int64) (int64, error) {
	return 0, nil
}

func (f *fakeStore) InsertAssignmentLog(ctx context.Context, tx pgx.Tx, detailID, assigneeID int64) error {
	f.logs = append(f.logs, assigneeID)
	return nil
}

func (f *fakeStore) ListByCase(ctx context.Context, caseID string) ([]repository.Ticket, map[int64]repository.TicketDetail, error) {
	return nil, nil, nil
}

// fakeResolver substitutes @@CASE_ID and @@TICKET_NUMBER so tests can tell
// tokenized fields from bypassed ones.
type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, tx pgx.Tx, text, caseID, display string) (string, []string) {
	out := strings.ReplaceAll(text, "@@CASE_ID", caseID)
	return strings.ReplaceAll(out, "@@TICKET_NUMBER", display), nil
}

type fakeEnqueuer struct {
	enqueued []int64
	err      error
}

func (f *fakeEnqueuer) EnqueueTicketEmail(ctx context.Context, detailID int64) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, detailID)
	return nil
}

func newTestService(store *fakeStore, enq *fakeEnqueuer) *Service {
	log := logger.New("development")
	return New(store, fakeResolver{}, enq, events.NewInMemoryBus(log), log)
}

func strptr(s string) *string { return &s }

func TestCreateTicketAddressMerge(t *testing.T) {
	store := &fakeStore{
		template: &repository.EmailTemplate{
			ID:        5,
			ToAddress: "a@x.com",
			Subject:   "Tmpl subject",
			Message:   "Tmpl message",
		},
		statusID:   10,
		caseUserID: 7,
	}
	svc := newTestService(store, &fakeEnqueuer{})

	_, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:     "1042",
		TemplateID: 5,
		To:         "b@x.com",
		CreatedBy:  7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if len(store.details) != 1 {
		t.Fatalf("details = %d, want 1", len(store.details))
	}
	if got := store.details[0].ToAddress; got != "a@x.com;b@x.com" {
		t.Errorf("to address = %q, want template default joined with explicit", got)
	}
}

func TestCreateTicketSubjectIsPureOverride(t *testing.T) {
	store := &fakeStore{
		template: &repository.EmailTemplate{
			ID:          5,
			FromAddress: "tmpl@x.com",
			Subject:     "Tmpl subject",
			Message:     "Tmpl message",
		},
		statusID: 10,
	}
	svc := newTestService(store, &fakeEnqueuer{})

	_, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:     "1042",
		TemplateID: 5,
		Subject:    "Explicit subject",
		From:       "me@x.com",
		CreatedBy:  7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	d := store.details[0]
	if d.Subject != "Explicit subject" {
		t.Errorf("subject = %q, want explicit value replacing template", d.Subject)
	}
	if d.FromAddress != "me@x.com" {
		t.Errorf("from = %q, want explicit value replacing template", d.FromAddress)
	}
	if d.Message != "Tmpl message" {
		t.Errorf("message = %q, want template default", d.Message)
	}
}

func TestCreateTicketTemplateDefaultsScheduledStatus(t *testing.T) {
	store := &fakeStore{
		template: &repository.EmailTemplate{
			ID:                       5,
			Subject:                  "Tmpl subject",
			Message:                  "Tmpl message",
			DefaultScheduledStatusID: 30,
		},
		statusID: 10,
	}
	svc := newTestService(store, &fakeEnqueuer{})

	result, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:     "1042",
		TemplateID: 5,
		CreatedBy:  7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if result.Status != StatusScheduled {
		t.Errorf("result status = %q, want template to default to scheduled", result.Status)
	}
	if got := store.tickets[0].Status; got != StatusScheduled {
		t.Errorf("ticket status = %q, want %q", got, StatusScheduled)
	}

	// An explicit status always wins over the template default.
	result, err = svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:     "1042",
		TemplateID: 5,
		Status:     StatusOpen,
		CreatedBy:  7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if result.Status != StatusOpen {
		t.Errorf("result status = %q, want explicit status kept", result.Status)
	}
}

func TestCreateTicketEmptyOverrideClearsField(t *testing.T) {
	store := &fakeStore{
		template: &repository.EmailTemplate{
			ID:      5,
			Subject: "Tmpl subject",
			Message: "Tmpl message",
		},
		statusID: 10,
	}
	svc := newTestService(store, &fakeEnqueuer{})

	_, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:          "1042",
		TemplateID:      5,
		OverrideMessage: strptr(""),
		CreatedBy:       7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	d := store.details[0]
	if d.Message != "" {
		t.Errorf("message = %q, want empty override to clear the template body", d.Message)
	}
	if d.Subject != "Tmpl subject" {
		t.Errorf("subject = %q, want template default when no override given", d.Subject)
	}
}

func TestCreateTicketOverrideBypassesTokenization(t *testing.T) {
	store := &fakeStore{statusID: 10}
	svc := newTestService(store, &fakeEnqueuer{})

	_, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:          "1042",
		Message:         "Case @@CASE_ID",
		OverrideMessage: strptr("Override @@CASE_ID"),
		CreatedBy:       7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if got := store.details[0].Message; got != "Override @@CASE_ID" {
		t.Errorf("message = %q, want override with token text preserved", got)
	}
}

func TestCreateTicketTokenizesMessage(t *testing.T) {
	store := &fakeStore{statusID: 10}
	svc := newTestService(store, &fakeEnqueuer{})

	_, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:    "1042",
		Message:   "Case @@CASE_ID ticket @@TICKET_NUMBER",
		Cc:        "cc@@CASE_ID",
		CreatedBy: 7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	d := store.details[0]
	if d.Message != "Case 1042 ticket 1042-1-1" {
		t.Errorf("message = %q, want tokens resolved", d.Message)
	}
	if d.CcAddress != "cc@@CASE_ID" {
		t.Errorf("cc = %q, want untokenized", d.CcAddress)
	}
}

func TestCreateTicketNumberingAndDefaults(t *testing.T) {
	store := &fakeStore{
		nextNumber: 4, // four prior tickets
		statusID:   20,
		caseUserID: 9,
		userEmail:  "doctor@x.com",
	}
	svc := newTestService(store, &fakeEnqueuer{})

	result, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:    "1042",
		Message:   "body",
		CreatedBy: 7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if result.TicketNumber != 5 {
		t.Errorf("ticket number = %d, want max+1 = 5", result.TicketNumber)
	}
	if result.DisplayNumber != "1042-5-1" {
		t.Errorf("display = %q, want 1042-5-1", result.DisplayNumber)
	}
	d := store.details[0]
	if d.FromAddress != supportAddress {
		t.Errorf("from = %q, want support fallback", d.FromAddress)
	}
	if d.ToAddress != "doctor@x.com" {
		t.Errorf("to = %q, want case user's email", d.ToAddress)
	}
	if d.StatusSnapshot != 20 {
		t.Errorf("status snapshot = %d, want 20", d.StatusSnapshot)
	}
	if len(store.logs) != 1 || store.logs[0] != 7 {
		t.Errorf("assignment logs = %v, want one entry for creator", store.logs)
	}
}

func TestCreateTicketToFallsBackToSupport(t *testing.T) {
	store := &fakeStore{statusID: 10, userEmail: ""}
	svc := newTestService(store, &fakeEnqueuer{})

	_, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:    "1042",
		Message:   "body",
		CreatedBy: 7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if got := store.details[0].ToAddress; got != supportAddress {
		t.Errorf("to = %q, want support fallback", got)
	}
}

func TestCreateTicketReallocatesOnConflict(t *testing.T) {
	store := &fakeStore{statusID: 10, conflictOnce: true}
	svc := newTestService(store, &fakeEnqueuer{})

	result, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:    "1042",
		Message:   "body",
		CreatedBy: 7,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if result.TicketNumber != 2 {
		t.Errorf("ticket number = %d, want reallocated 2", result.TicketNumber)
	}
	if len(store.tickets) != 1 {
		t.Errorf("tickets = %d, want 1", len(store.tickets))
	}
}

func TestCreateTicketEnqueuesAfterCommit(t *testing.T) {
	store := &fakeStore{statusID: 10}
	enq := &fakeEnqueuer{}
	svc := newTestService(store, enq)

	result, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:    "1042",
		Message:   "body",
		CreatedBy: 7,
		SendEmail: true,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if len(enq.enqueued) != 1 || enq.enqueued[0] != result.DetailID {
		t.Errorf("enqueued = %v, want [%d]", enq.enqueued, result.DetailID)
	}
	if result.PendingEmail != nil {
		t.Error("pending email should be cleared once enqueued")
	}
}

func TestCreateTicketEnqueueFailureIsDiagnostic(t *testing.T) {
	store := &fakeStore{statusID: 10}
	svc := newTestService(store, &fakeEnqueuer{err: apperr.Unavailable("redis down")})

	result, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:    "1042",
		Message:   "body",
		CreatedBy: 7,
		SendEmail: true,
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v, dispatch failure must not fail composition", err)
	}
	if len(result.Diagnostics) != 1 || !strings.Contains(result.Diagnostics[0], "enqueue failed") {
		t.Errorf("diagnostics = %v, want one enqueue failure", result.Diagnostics)
	}
}

func TestCreateTicketTxLeavesPendingEmail(t *testing.T) {
	store := &fakeStore{statusID: 10}
	svc := newTestService(store, &fakeEnqueuer{})

	result, err := svc.CreateTicketTx(context.Background(), &fakeTx{}, CreateTicketParams{
		CaseID:    "1042",
		Message:   "body",
		CreatedBy: 7,
		SendEmail: true,
	})
	if err != nil {
		t.Fatalf("CreateTicketTx() error = %v", err)
	}
	if result.PendingEmail == nil || result.PendingEmail.DetailID != result.DetailID {
		t.Errorf("pending email = %+v, want dispatch deferred to caller", result.PendingEmail)
	}
}

func TestCreateTicketMissingTemplate(t *testing.T) {
	store := &fakeStore{statusID: 10}
	svc := newTestService(store, &fakeEnqueuer{})

	_, err := svc.CreateTicket(context.Background(), CreateTicketParams{
		CaseID:     "1042",
		TemplateID: 99,
		CreatedBy:  7,
	})
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Errorf("error kind = %v, want not found", apperr.GetKind(err))
	}
}
