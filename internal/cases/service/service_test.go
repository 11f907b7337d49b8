package service

import (
	"context"
	"testing"

	"labcase_backend/platform/apperr"
)

func TestChangeStatus(t *testing.T) {
	store := newFakeStore()
	composer := &fakeComposer{}
	svc := newImportService(store, composer)

	if _, err := svc.ImportCase(context.Background(), validOrder(), importer()); err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}

	diags, err := svc.ChangeStatus(context.Background(), ChangeStatusParams{
		CaseID:    "1042",
		StatusID:  20,
		Note:      "moved to production",
		ChangedBy: 7,
	})
	if err != nil {
		t.Fatalf("ChangeStatus() error = %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none", diags)
	}
	if store.cases[0].StatusID != 20 {
		t.Errorf("status = %d, want 20", store.cases[0].StatusID)
	}
	// Opening import row plus the transition row.
	if len(store.transactions) != 2 {
		t.Fatalf("transactions = %d, want 2", len(store.transactions))
	}
	last := store.transactions[1]
	if last.StatusID != 20 || last.Note != "moved to production" {
		t.Errorf("transition row = %+v", last)
	}
}

func TestChangeStatusUnknownStatus(t *testing.T) {
	store := newFakeStore()
	svc := newImportService(store, &fakeComposer{})

	_, err := svc.ChangeStatus(context.Background(), ChangeStatusParams{CaseID: "1042", StatusID: 99})
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Errorf("error kind = %v, want validation", apperr.GetKind(err))
	}
}

func TestChangeStatusSameStatus(t *testing.T) {
	store := newFakeStore()
	svc := newImportService(store, &fakeComposer{})

	if _, err := svc.ImportCase(context.Background(), validOrder(), importer()); err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}

	_, err := svc.ChangeStatus(context.Background(), ChangeStatusParams{
		CaseID:   "1042",
		StatusID: 10,
	})
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Errorf("error kind = %v, want validation for no-op transition", apperr.GetKind(err))
	}
}

func TestChangeStatusWithNotification(t *testing.T) {
	store := newFakeStore()
	composer := &fakeComposer{}
	svc := newImportService(store, composer)

	if _, err := svc.ImportCase(context.Background(), validOrder(), importer()); err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}

	diags, err := svc.ChangeStatus(context.Background(), ChangeStatusParams{
		CaseID:           "1042",
		StatusID:         20,
		NotifyTemplateID: 3,
		ChangedBy:        7,
	})
	if err != nil {
		t.Fatalf("ChangeStatus() error = %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none", diags)
	}
	if len(composer.composed) != 1 || composer.composed[0].params.TemplateID != 3 {
		t.Errorf("composed = %+v, want one ticket from template 3", composer.composed)
	}
	if len(composer.dispatched) != 1 {
		t.Errorf("dispatched = %v, want one post-commit dispatch", composer.dispatched)
	}
}

func TestChangeStatusNotificationFailureIsDiagnostic(t *testing.T) {
	store := newFakeStore()
	composer := &fakeComposer{composeErr: apperr.NotFound("email template 3 not found")}
	svc := newImportService(store, composer)

	if _, err := svc.ImportCase(context.Background(), validOrder(), importer()); err != nil {
		t.Fatalf("ImportCase() error = %v", err)
	}

	diags, err := svc.ChangeStatus(context.Background(), ChangeStatusParams{
		CaseID:           "1042",
		StatusID:         20,
		NotifyTemplateID: 3,
		ChangedBy:        7,
	})
	if err != nil {
		t.Fatalf("ChangeStatus() error = %v, ticket failure must not fail transition", err)
	}
	if len(diags) != 1 {
		t.Errorf("diagnostics = %v, want one notification failure", diags)
	}
	if store.cases[0].StatusID != 20 {
		t.Errorf("status = %d, want transition applied", store.cases[0].StatusID)
	}
}
