package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"labcase_backend/internal/cases/repository"
	"labcase_backend/internal/events"
	"labcase_backend/internal/shopify"
	"labcase_backend/platform/apperr"
	"labcase_backend/platform/httpkit"
	"labcase_backend/platform/logger"

	ticketsvc "labcase_backend/internal/tickets/service"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }
func (f *fakeTx) Commit(ctx context.Context) error          { f.committed = true; return nil }
func (f *fakeTx) Rollback(ctx context.Context) error        { f.rolledBack = true; return nil }

type fakeStore struct {
	existing map[string]bool
	statuses map[int]bool

	cases        []*repository.Case
	transactions []*repository.CaseTransaction
	items        []*repository.CaseItem
	teeth        map[int64][]string
	applied      map[string]bool
	needsReview  map[string]bool

	failItemProduct string // InsertItem fails for this product name
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing:    make(map[string]bool),
		statuses:    map[int]bool{10: true, 20: true},
		teeth:       make(map[int64][]string),
		applied:     make(map[string]bool),
		needsReview: make(map[string]bool),
	}
}

func (f *fakeStore) Begin(ctx context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

func (f *fakeStore) CaseExists(ctx context.Context, tx pgx.Tx, caseID string) (bool, error) {
	return f.existing[caseID], nil
}

func (f *fakeStore) InsertCase(ctx context.Context, tx pgx.Tx, c *repository.Case) error {
	if f.existing[c.CaseID] {
		return apperr.Conflict("case already imported")
	}
	f.existing[c.CaseID] = true
	f.cases = append(f.cases, c)
	return nil
}

func (f *fakeStore) InsertTransaction(ctx context.Context, tx pgx.Tx, t *repository.CaseTransaction) error {
	f.transactions = append(f.transactions, t)
	return nil
}

func (f *fakeStore) InsertItem(ctx context.Context, tx pgx.Tx, item *repository.CaseItem) error {
	if f.failItemProduct != "" && item.ProductName == f.failItemProduct {
		return apperr.Internal("insert failed")
	}
	item.ID = int64(len(f.items) + 1)
	f.items = append(f.items, item)
	return nil
}

func (f *fakeStore) InsertItemTooth(ctx context.Context, tx pgx.Tx, caseItemID int64, location string) error {
	f.teeth[caseItemID] = append(f.teeth[caseItemID], location)
	return nil
}

func (f *fakeStore) MarkItemsApplied(ctx context.Context, tx pgx.Tx, caseID string, caseTypeID int, needsReview bool) error {
	f.applied[caseID] = true
	f.needsReview[caseID] = needsReview
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, caseID string) (*repository.Case, error) {
	for _, c := range f.cases {
		if c.CaseID == caseID {
			return c, nil
		}
	}
	return nil, apperr.NotFound("case not found")
}

func (f *fakeStore) List(ctx context.Context, params repository.ListParams) ([]repository.Case, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) ListItems(ctx context.Context, caseID string) ([]repository.CaseItem, map[int64][]string, error) {
	var items []repository.CaseItem
	for _, item := range f.items {
		if item.CaseID == caseID {
			items = append(items, *item)
		}
	}
	return items, f.teeth, nil
}

func (f *fakeStore) GetStatus(ctx context.Context, tx pgx.Tx, caseID string) (int, error) {
	for _, c := range f.cases {
		if c.CaseID == caseID {
			return c.StatusID, nil
		}
	}
	return 0, apperr.NotFound("case not found")
}

func (f *fakeStore) UpdateStatus(ctx context.Context, tx pgx.Tx, caseID string, statusID int) error {
	for _, c := range f.cases {
		if c.CaseID == caseID {
			c.StatusID = statusID
			return nil
		}
	}
	return apperr.NotFound("case not found")
}

func (f *fakeStore) StatusExists(ctx context.Context, statusID int) (bool, error) {
	return f.statuses[statusID], nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, a *repository.Attachment) error { return nil }

func (f *fakeStore) ListAttachments(ctx context.Context, caseID string) ([]repository.Attachment, error) {
	return nil, nil
}

type composedTicket struct {
	params ticketsvc.CreateTicketParams
}

type fakeComposer struct {
	composed   []composedTicket
	composeErr error
	dispatched []int64
	nextDetail int64
}

func (f *fakeComposer) CreateTicketTx(ctx context.Context, tx pgx.Tx, params ticketsvc.CreateTicketParams) (ticketsvc.CreateTicketResult, error) {
	if f.composeErr != nil {
		return ticketsvc.CreateTicketResult{}, f.composeErr
	}
	f.composed = append(f.composed, composedTicket{params: params})
	f.nextDetail++
	result := ticketsvc.CreateTicketResult{
		TicketID:     f.nextDetail,
		DetailID:     f.nextDetail,
		TicketNumber: len(f.composed),
	}
	if params.SendEmail {
		result.PendingEmail = &ticketsvc.PendingEmail{DetailID: result.DetailID}
	}
	return result, nil
}

func (f *fakeComposer) DispatchPending(ctx context.Context, p ticketsvc.PendingEmail) error {
	f.dispatched = append(f.dispatched, p.DetailID)
	return nil
}

type fakeFetcher struct {
	orders map[string]shopify.Order
}

func (f *fakeFetcher) FetchOrderByNumber(ctx context.Context, name string) (shopify.Order, error) {
	order, ok := f.orders[name]
	if !ok {
		return shopify.Order{}, apperr.NotFound(fmt.Sprintf("order %s not found", name))
	}
	return order, nil
}

func newImportService(store *fakeStore, composer *fakeComposer) *Service {
	log := logger.New("development")
	return New(store, composer, nil, nil, events.NewInMemoryBus(log), log)
}

func importer() httpkit.Identity {
	return httpkit.NewIdentity(7, "Dana Reyes", []string{"staff"})
}

func validOrder() shopify.Order {
	return shopify.Order{
		Name: "1042",
		Note: "Crown per model --A1-UL-R33330.1--",
		Customer: &shopify.Customer{
			FirstName: "Jane",
			LastName:  "Miller",
			Email:     "jane@example.com",
		},
		LineItems: []shopify.LineItem{
			{SKU: "--B2-U-R1010--", Title: "Single Crown"},
		},
	}
}

func TestImportCase(t *testing.T) {
	store := newFakeStore()
	composer := &fakeComposer{}
	svc := newImportService(store, composer)

	result, err := svc.ImportCase(context.Background(), validOrder(), importer())
	if err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}
	if result.CaseID != "1042" || result.OrderNumber != "1042" {
		t.Errorf("result = %+v, want case/order 1042", result)
	}
	if result.ItemCount != 2 {
		t.Errorf("item count = %d, want 2 (one from note, one from line item)", result.ItemCount)
	}
	if result.TicketCreated {
		t.Error("no fallback ticket expected when items decode")
	}

	if len(store.cases) != 1 {
		t.Fatalf("cases = %d, want 1", len(store.cases))
	}
	c := store.cases[0]
	if c.CustomerID != 1 || c.LabID != 1 || c.ShipToID != 1 || c.CarrierID != 1 {
		t.Errorf("default intake ids = %d/%d/%d/%d, want all 1", c.CustomerID, c.LabID, c.ShipToID, c.CarrierID)
	}
	if c.StatusID != 10 {
		t.Errorf("status = %d, want initial 10", c.StatusID)
	}
	if len(store.transactions) != 1 || store.transactions[0].StatusID != 10 || store.transactions[0].UserID != 7 {
		t.Errorf("transactions = %+v, want one opening row for user 7", store.transactions)
	}

	// The combined-location item gets both tooth rows.
	noteItem := store.items[0]
	if noteItem.ProductName != "R33330.1" || noteItem.Quantity != 2 {
		t.Errorf("note item = %+v, want product R33330.1 qty 2", noteItem)
	}
	if got := store.teeth[noteItem.ID]; len(got) != 2 || got[0] != "Upper" || got[1] != "Lower" {
		t.Errorf("teeth = %v, want [Upper Lower]", got)
	}
	if !store.applied["1042"] || store.needsReview["1042"] {
		t.Errorf("applied = %v, needsReview = %v, want applied without review",
			store.applied["1042"], store.needsReview["1042"])
	}
}

func TestImportCaseDuplicate(t *testing.T) {
	store := newFakeStore()
	svc := newImportService(store, &fakeComposer{})

	if _, err := svc.ImportCase(context.Background(), validOrder(), importer()); err != nil {
		t.Fatalf("first import error = %v", err)
	}
	_, err := svc.ImportCase(context.Background(), validOrder(), importer())
	if apperr.GetKind(err) != apperr.KindConflict {
		t.Fatalf("second import error kind = %v, want conflict", apperr.GetKind(err))
	}
	if len(store.cases) != 1 {
		t.Errorf("cases = %d, want exactly one row after duplicate rejection", len(store.cases))
	}
}

func TestImportCaseExtractionFailure(t *testing.T) {
	store := newFakeStore()
	svc := newImportService(store, &fakeComposer{})

	order := validOrder()
	order.Customer = nil
	order.Email = ""

	_, err := svc.ImportCase(context.Background(), order, importer())
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("error kind = %v, want validation", apperr.GetKind(err))
	}
	if !strings.Contains(err.Error(), "Missing customer email") {
		t.Errorf("error = %q", err.Error())
	}
	if len(store.cases) != 0 {
		t.Errorf("cases = %d, want none written", len(store.cases))
	}
}

func TestImportCaseRushDates(t *testing.T) {
	store := newFakeStore()
	svc := newImportService(store, &fakeComposer{})

	order := validOrder()
	order.LineItems = append(order.LineItems, shopify.LineItem{SKU: "rush-fee", Title: "Rush Fee"})

	if _, err := svc.ImportCase(context.Background(), order, importer()); err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}

	c := store.cases[0]
	if !c.Rush {
		t.Fatal("expected rush case")
	}
	wantRequired := c.ReceivedDate.AddDate(0, 0, 7)
	wantReturn := c.ReceivedDate.AddDate(0, 0, 14)
	if !sameDay(c.RequiredDate, wantRequired) {
		t.Errorf("required date = %v, want received + 7 days", c.RequiredDate)
	}
	if !sameDay(c.EstimatedReturnDate, wantReturn) {
		t.Errorf("estimated return = %v, want received + 14 days regardless of rush", c.EstimatedReturnDate)
	}
}

func TestImportCaseFallbackTicket(t *testing.T) {
	store := newFakeStore()
	composer := &fakeComposer{}
	svc := newImportService(store, composer)

	order := validOrder()
	order.Note = "no encoded items here"
	order.LineItems = []shopify.LineItem{{SKU: "plain-product", Title: "Plain Product"}}

	result, err := svc.ImportCase(context.Background(), order, importer())
	if err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}
	if result.ItemCount != 0 {
		t.Errorf("item count = %d, want 0", result.ItemCount)
	}
	if !result.TicketCreated {
		t.Error("expected fallback ticket")
	}
	if len(composer.composed) != 1 {
		t.Fatalf("composed = %d, want 1", len(composer.composed))
	}
	params := composer.composed[0].params
	if params.TemplateID != ticketsvc.FallbackTemplateID || params.Status != ticketsvc.StatusOpen {
		t.Errorf("ticket params = %+v, want fallback template with status Open", params)
	}
	if !store.needsReview["1042"] {
		t.Error("case should be flagged for review")
	}
	// Email goes out only after the import commits.
	if len(composer.dispatched) != 1 {
		t.Errorf("dispatched = %v, want one post-commit dispatch", composer.dispatched)
	}
}

func TestImportCaseFallbackTicketFailureIsDiagnostic(t *testing.T) {
	store := newFakeStore()
	composer := &fakeComposer{composeErr: apperr.Internal("template table missing")}
	svc := newImportService(store, composer)

	order := validOrder()
	order.Note = "nothing encoded"
	order.LineItems = nil

	result, err := svc.ImportCase(context.Background(), order, importer())
	if err != nil {
		t.Fatalf("ImportCase() error = %v, ticket failure must not fail import", err)
	}
	if result.TicketCreated {
		t.Error("ticket reported created despite failure")
	}
	if len(result.Diagnostics) == 0 || !strings.Contains(result.Diagnostics[0], "review ticket failed") {
		t.Errorf("diagnostics = %v, want review ticket failure", result.Diagnostics)
	}
	if len(store.cases) != 1 {
		t.Errorf("cases = %d, want the case still imported", len(store.cases))
	}
}

func TestImportCaseBadSKUIsolated(t *testing.T) {
	store := newFakeStore()
	svc := newImportService(store, &fakeComposer{})

	order := validOrder()
	// First SKU has too few segments and must be skipped, second decodes.
	order.Note = ""
	order.LineItems = []shopify.LineItem{
		{SKU: "--ONLYTWO-U--", Title: "Broken"},
		{SKU: "--B2-U-R1010--", Title: "Single Crown"},
	}

	result, err := svc.ImportCase(context.Background(), order, importer())
	if err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}
	if result.ItemCount != 1 {
		t.Errorf("item count = %d, want 1", result.ItemCount)
	}
	if len(result.Diagnostics) != 1 || !strings.Contains(result.Diagnostics[0], "skipped") {
		t.Errorf("diagnostics = %v, want one skip", result.Diagnostics)
	}
}

func TestImportCaseItemInsertFailureIsolated(t *testing.T) {
	store := newFakeStore()
	store.failItemProduct = "R1010"
	svc := newImportService(store, &fakeComposer{})

	result, err := svc.ImportCase(context.Background(), validOrder(), importer())
	if err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}
	if result.ItemCount != 1 {
		t.Errorf("item count = %d, want 1 surviving item", result.ItemCount)
	}
	if len(result.Diagnostics) != 1 || !strings.Contains(result.Diagnostics[0], "not saved") {
		t.Errorf("diagnostics = %v, want one insert failure", result.Diagnostics)
	}
	if len(store.cases) != 1 {
		t.Errorf("cases = %d, want the case still imported", len(store.cases))
	}
}

func TestImportCaseDeduplicatesSKUs(t *testing.T) {
	store := newFakeStore()
	svc := newImportService(store, &fakeComposer{})

	order := validOrder()
	order.Note = "see --B2-U-R1010--"
	order.LineItems = []shopify.LineItem{{SKU: "--B2-U-R1010--", Title: "Single Crown"}}

	result, err := svc.ImportCase(context.Background(), order, importer())
	if err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}
	if result.ItemCount != 1 {
		t.Errorf("item count = %d, want 1 after dedupe", result.ItemCount)
	}
}

func TestImportByOrderNumber(t *testing.T) {
	store := newFakeStore()
	log := logger.New("development")
	fetcher := &fakeFetcher{orders: map[string]shopify.Order{"1042": validOrder()}}
	svc := New(store, &fakeComposer{}, fetcher, nil, events.NewInMemoryBus(log), log)

	result, err := svc.ImportByOrderNumber(context.Background(), "1042", importer())
	if err != nil {
		t.Fatalf("ImportByOrderNumber() error = %v", err)
	}
	if result.CaseID != "1042" {
		t.Errorf("case id = %q, want 1042", result.CaseID)
	}

	_, err = svc.ImportByOrderNumber(context.Background(), "9999", importer())
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Errorf("error kind = %v, want not found for missing order", apperr.GetKind(err))
	}

	_, err = svc.ImportByOrderNumber(context.Background(), "  ", importer())
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Errorf("error kind = %v, want validation for blank order number", apperr.GetKind(err))
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
