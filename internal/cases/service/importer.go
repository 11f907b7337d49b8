package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labcase_backend/internal/cases/repository"
	"labcase_backend/internal/cases/sku"
	"labcase_backend/internal/events"
	"labcase_backend/internal/shopify"
	"labcase_backend/platform/apperr"
	"labcase_backend/platform/httpkit"

	ticketsvc "labcase_backend/internal/tickets/service"

	"github.com/jackc/pgx/v5"
)

// Fixed associative IDs for the single storefront intake channel. Every
// imported case hangs off the same seeded customer, lab, ship-to, and carrier.
const (
	defaultCustomerID = 1
	defaultLabID      = 1
	defaultShipToID   = 1
	defaultCarrierID  = 1
	defaultCaseTypeID = 1

	// initialStatusID is the seeded "Entered" status.
	initialStatusID = 10

	rushLeadDays     = 7
	standardLeadDays = 14
)

// ImportResult reports a completed import plus non-fatal diagnostics from the
// line-item sub-step (decode skips, fallback-ticket and enqueue failures).
type ImportResult struct {
	CaseID        string
	OrderNumber   string
	ItemCount     int
	TicketCreated bool
	Diagnostics   []string
}

// ImportByOrderNumber fetches the order from the storefront and imports it.
// A missing order surfaces as not-found, a storefront outage as unavailable;
// both are the fetcher's classification, passed through untouched.
func (s *Service) ImportByOrderNumber(ctx context.Context, orderNumber string, principal httpkit.Identity) (ImportResult, error) {
	if strings.TrimSpace(orderNumber) == "" {
		return ImportResult{}, apperr.Validation("order number is required")
	}
	if s.fetcher == nil {
		return ImportResult{}, apperr.Unavailable("order source not configured")
	}

	order, err := s.fetcher.FetchOrderByNumber(ctx, orderNumber)
	if err != nil {
		return ImportResult{}, err
	}
	return s.ImportCase(ctx, order, principal)
}

// ImportCase turns a storefront order into a case: extract, duplicate-check,
// insert case and opening transaction, decode line items, commit. Steps up to
// the line-item sub-step are atomic; the sub-step is isolated so item or
// ticketing failures never lose the case itself.
func (s *Service) ImportCase(ctx context.Context, order shopify.Order, principal httpkit.Identity) (ImportResult, error) {
	extracted, err := Extract(order, principal.UserID())
	if err != nil {
		return ImportResult{}, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	exists, err := s.store.CaseExists(ctx, tx, extracted.CaseID)
	if err != nil {
		return ImportResult{}, err
	}
	if exists {
		return ImportResult{}, apperr.Conflict(fmt.Sprintf("case %s already imported", extracted.CaseID))
	}

	now := time.Now()
	requiredDays := standardLeadDays
	if extracted.IsRush {
		requiredDays = rushLeadDays
	}
	// Estimated return stays at the standard lead regardless of rush. The
	// asymmetry matches the source data and is kept on purpose.
	c := &repository.Case{
		CaseID:              extracted.CaseID,
		OrderNumber:         extracted.OrderNumber,
		PatientFirstName:    extracted.FirstName,
		PatientLastName:     extracted.LastName,
		ContactEmail:        extracted.Email,
		Instructions:        extracted.Instructions,
		UserID:              extracted.UserID,
		CustomerID:          defaultCustomerID,
		LabID:               defaultLabID,
		ShipToID:            defaultShipToID,
		CarrierID:           defaultCarrierID,
		StatusID:            initialStatusID,
		CaseTypeID:          defaultCaseTypeID,
		Rush:                extracted.IsRush,
		ReceivedDate:        now,
		RequiredDate:        now.AddDate(0, 0, requiredDays),
		EstimatedReturnDate: now.AddDate(0, 0, standardLeadDays),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.InsertCase(ctx, tx, c); err != nil {
		return ImportResult{}, err
	}

	if err := s.store.InsertTransaction(ctx, tx, &repository.CaseTransaction{
		CaseID:    extracted.CaseID,
		StatusID:  initialStatusID,
		UserID:    extracted.UserID,
		Note:      fmt.Sprintf("Imported from order %s by %s", extracted.OrderNumber, principal.DisplayName()),
		CreatedAt: now,
	}); err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{CaseID: extracted.CaseID, OrderNumber: extracted.OrderNumber}
	pending := s.applyLineItems(ctx, tx, order, extracted, &result)

	if err := tx.Commit(ctx); err != nil {
		return ImportResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if pending != nil {
		if err := s.composer.DispatchPending(ctx, *pending); err != nil {
			result.Diagnostics = append(result.Diagnostics,
				fmt.Sprintf("review ticket email enqueue failed: %v", err))
		}
	}

	s.log.ImportEvent(result.CaseID, result.OrderNumber, "imported", result.ItemCount)
	s.bus.Publish(ctx, events.CaseImported{
		BaseEvent:   events.NewBaseEvent(),
		CaseID:      result.CaseID,
		OrderNumber: result.OrderNumber,
		ItemCount:   result.ItemCount,
		Rush:        extracted.IsRush,
		ImportedBy:  extracted.UserID,
	})
	return result, nil
}

// applyLineItems runs the isolated line-item sub-step: decode every encoded
// SKU from the note and the line items, insert item and tooth rows, and fall
// back to a review ticket when nothing decodes. All failures inside it become
// diagnostics; the import itself proceeds.
func (s *Service) applyLineItems(ctx context.Context, tx pgx.Tx, order shopify.Order, extracted ExtractedCase, result *ImportResult) *ticketsvc.PendingEmail {
	skus := collectSKUs(order)

	for _, raw := range skus {
		item, err := sku.Decode(raw)
		if err != nil {
			s.log.Warn("sku decode failed", "case_id", extracted.CaseID, "sku", raw, "error", err)
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("sku %q skipped: %v", raw, err))
			continue
		}
		if err := s.insertItemIsolated(ctx, tx, extracted.CaseID, item); err != nil {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("sku %q not saved: %v", raw, err))
			continue
		}
		result.ItemCount++
	}

	var pending *ticketsvc.PendingEmail
	if result.ItemCount == 0 {
		ticketResult, err := s.composeIsolated(ctx, tx, ticketsvc.CreateTicketParams{
			CaseID:     extracted.CaseID,
			TemplateID: ticketsvc.FallbackTemplateID,
			Status:     ticketsvc.StatusOpen,
			CreatedBy:  extracted.UserID,
			SendEmail:  true,
		})
		if err != nil {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("review ticket failed: %v", err))
		} else {
			result.TicketCreated = true
			result.Diagnostics = append(result.Diagnostics, ticketResult.Diagnostics...)
			pending = ticketResult.PendingEmail
		}
	}

	if err := s.markAppliedIsolated(ctx, tx, extracted.CaseID, result.ItemCount == 0); err != nil {
		result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("items-applied flag not set: %v", err))
	}
	return pending
}

// insertItemIsolated writes one item and its tooth rows inside a savepoint so
// a failure cannot poison the surrounding transaction.
func (s *Service) insertItemIsolated(ctx context.Context, tx pgx.Tx, caseID string, item sku.LineItem) error {
	nested, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	row := &repository.CaseItem{
		CaseID:        caseID,
		ProductName:   item.Product,
		ToothLocation: item.ToothLocation,
		Quantity:      item.Quantity,
		ShadeGingival: item.Shade,
		ShadeBody:     item.Shade,
		ShadeIncisal:  item.Shade,
		CreatedAt:     time.Now(),
	}
	if err := s.store.InsertItem(ctx, nested, row); err != nil {
		nested.Rollback(ctx)
		return err
	}
	for _, tooth := range item.Teeth() {
		if err := s.store.InsertItemTooth(ctx, nested, row.ID, tooth); err != nil {
			nested.Rollback(ctx)
			return err
		}
	}
	return nested.Commit(ctx)
}

func (s *Service) markAppliedIsolated(ctx context.Context, tx pgx.Tx, caseID string, needsReview bool) error {
	nested, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}
	if err := s.store.MarkItemsApplied(ctx, nested, caseID, defaultCaseTypeID, needsReview); err != nil {
		nested.Rollback(ctx)
		return err
	}
	return nested.Commit(ctx)
}

// collectSKUs unions the encoded SKUs scanned out of the order note with the
// line items whose SKU carries the encoding marker, deduplicated in order of
// first appearance.
func collectSKUs(order shopify.Order) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(raw string) {
		if _, ok := seen[raw]; ok {
			return
		}
		seen[raw] = struct{}{}
		out = append(out, raw)
	}

	for _, raw := range sku.Scan(order.Note) {
		add(raw)
	}
	for _, item := range order.LineItems {
		if strings.HasPrefix(strings.TrimSpace(item.SKU), sku.Marker) {
			add(strings.TrimSpace(item.SKU))
		}
	}
	return out
}
