package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"labcase_backend/internal/shopify"
	"labcase_backend/platform/apperr"
)

// Storage-width limits of the backing columns. Longer values are truncated
// silently, never rejected.
const (
	maxNameLen         = 255
	maxEmailLen        = 255
	maxInstructionsLen = 4000
)

// rushFeeSKU is the add-on product the storefront sells for expedited turnaround.
const rushFeeSKU = "rush-fee"

// ExtractedCase is the validated, normalized projection of an order used to
// create a case. The external order number doubles as the internal case key.
type ExtractedCase struct {
	CaseID       string
	FirstName    string
	LastName     string
	Email        string
	Instructions string
	IsRush       bool
	OrderNumber  string
	UserID       int64
}

// Extract validates and normalizes a raw order into case fields.
// Validation failures return apperr.Validation errors; no partial result is produced.
func Extract(order shopify.Order, userID int64) (ExtractedCase, error) {
	email := ""
	firstName := ""
	lastName := ""
	if order.Customer != nil {
		email = strings.TrimSpace(order.Customer.Email)
		firstName = strings.TrimSpace(order.Customer.FirstName)
		lastName = strings.TrimSpace(order.Customer.LastName)
	}
	if email == "" {
		email = strings.TrimSpace(order.Email)
	}
	if email == "" {
		return ExtractedCase{}, apperr.Validation("Missing customer email")
	}
	if firstName == "" && lastName == "" {
		return ExtractedCase{}, apperr.Validation("Missing customer first and last name")
	}

	var instructions strings.Builder
	instructions.WriteString(order.Note)
	for _, item := range order.LineItems {
		fmt.Fprintf(&instructions, "\n%s\n%s", item.SKU, item.Title)
	}
	if instructions.Len() == 0 {
		return ExtractedCase{}, apperr.Validation("Order has no note or line items")
	}

	return ExtractedCase{
		CaseID:       order.Name,
		FirstName:    truncate(firstName, maxNameLen),
		LastName:     truncate(lastName, maxNameLen),
		Email:        truncate(email, maxEmailLen),
		Instructions: truncate(instructions.String(), maxInstructionsLen),
		IsRush:       isRushOrder(order),
		OrderNumber:  order.Name,
		UserID:       userID,
	}, nil
}

// isRushOrder detects the expedited flag from the rush-fee product, a RUSH
// marker in any line-item SKU, or a RUSH shipping option.
func isRushOrder(order shopify.Order) bool {
	for _, item := range order.LineItems {
		if item.SKU == rushFeeSKU || strings.Contains(item.SKU, "RUSH") {
			return true
		}
	}
	for _, line := range order.ShippingLines {
		if strings.Contains(line.Code, "RUSH") || strings.Contains(line.Title, "RUSH") {
			return true
		}
	}
	return false
}

// truncate cuts s to at most max bytes, backing up so a multibyte rune is
// never split at the boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
