package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"labcase_backend/internal/shopify"
	"labcase_backend/platform/apperr"
)

func TestExtract(t *testing.T) {
	order := shopify.Order{
		Name: "1042",
		Note: "Please match existing crown",
		Customer: &shopify.Customer{
			FirstName: "Jane",
			LastName:  "Miller",
			Email:     "jane@example.com",
		},
		LineItems: []shopify.LineItem{
			{SKU: "--A1-U-R33330--", Title: "Zirconia Crown"},
		},
	}

	got, err := Extract(order, 7)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.CaseID != "1042" || got.OrderNumber != "1042" {
		t.Errorf("case id = %q, order number = %q, want both 1042", got.CaseID, got.OrderNumber)
	}
	if got.FirstName != "Jane" || got.LastName != "Miller" {
		t.Errorf("name = %q %q", got.FirstName, got.LastName)
	}
	if got.Email != "jane@example.com" {
		t.Errorf("email = %q", got.Email)
	}
	if got.UserID != 7 {
		t.Errorf("user id = %d, want 7", got.UserID)
	}
	want := "Please match existing crown\n--A1-U-R33330--\nZirconia Crown"
	if got.Instructions != want {
		t.Errorf("instructions = %q, want %q", got.Instructions, want)
	}
	if got.IsRush {
		t.Error("expected non-rush order")
	}
}

func TestExtractMissingEmail(t *testing.T) {
	// Customer absent and no top-level email.
	order := shopify.Order{
		Name:      "1043",
		Note:      "note",
		LineItems: []shopify.LineItem{{SKU: "x", Title: "y"}},
	}

	_, err := Extract(order, 1)
	if err == nil {
		t.Fatal("expected error for missing email")
	}
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Errorf("kind = %v, want validation", apperr.GetKind(err))
	}
	if !strings.Contains(err.Error(), "Missing customer email") {
		t.Errorf("error = %q, want mention of missing customer email", err.Error())
	}
}

func TestExtractFallbackEmail(t *testing.T) {
	order := shopify.Order{
		Name:      "1044",
		Email:     "front-desk@example.com",
		Note:      "note",
		Customer:  &shopify.Customer{FirstName: "Ann"},
		LineItems: []shopify.LineItem{{SKU: "x", Title: "y"}},
	}

	got, err := Extract(order, 1)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Email != "front-desk@example.com" {
		t.Errorf("email = %q, want top-level order email", got.Email)
	}
}

func TestExtractMissingName(t *testing.T) {
	order := shopify.Order{
		Name:      "1045",
		Note:      "note",
		Customer:  &shopify.Customer{Email: "a@b.com"},
		LineItems: []shopify.LineItem{{SKU: "x", Title: "y"}},
	}

	_, err := Extract(order, 1)
	if err == nil {
		t.Fatal("expected error for missing name")
	}
	if !strings.Contains(err.Error(), "Missing customer first and last name") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestExtractEmptyInstructions(t *testing.T) {
	order := shopify.Order{
		Name:     "1046",
		Customer: &shopify.Customer{FirstName: "Ann", Email: "a@b.com"},
	}

	_, err := Extract(order, 1)
	if err == nil {
		t.Fatal("expected error for empty instructions")
	}
	if !strings.Contains(err.Error(), "Order has no note or line items") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestExtractRushDetection(t *testing.T) {
	base := shopify.Order{
		Name:     "1047",
		Note:     "note",
		Customer: &shopify.Customer{FirstName: "Ann", Email: "a@b.com"},
	}

	tests := []struct {
		name  string
		mod   func(o *shopify.Order)
		wantR bool
	}{
		{
			name:  "rush fee product",
			mod:   func(o *shopify.Order) { o.LineItems = []shopify.LineItem{{SKU: "rush-fee", Title: "Rush Fee"}} },
			wantR: true,
		},
		{
			name:  "rush marker in sku",
			mod:   func(o *shopify.Order) { o.LineItems = []shopify.LineItem{{SKU: "CROWN-RUSH-01", Title: "Crown"}} },
			wantR: true,
		},
		{
			name: "rush shipping code",
			mod: func(o *shopify.Order) {
				o.LineItems = []shopify.LineItem{{SKU: "x", Title: "y"}}
				o.ShippingLines = []shopify.ShippingLine{{Code: "RUSH", Title: "Expedited"}}
			},
			wantR: true,
		},
		{
			name: "rush shipping title",
			mod: func(o *shopify.Order) {
				o.LineItems = []shopify.LineItem{{SKU: "x", Title: "y"}}
				o.ShippingLines = []shopify.ShippingLine{{Code: "EXP", Title: "RUSH delivery"}}
			},
			wantR: true,
		},
		{
			name: "lowercase rush in sku is not a marker",
			mod: func(o *shopify.Order) {
				o.LineItems = []shopify.LineItem{{SKU: "brush-kit", Title: "Brush Kit"}}
			},
			wantR: false,
		},
		{
			name:  "standard order",
			mod:   func(o *shopify.Order) { o.LineItems = []shopify.LineItem{{SKU: "x", Title: "y"}} },
			wantR: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := base
			tt.mod(&order)
			got, err := Extract(order, 1)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got.IsRush != tt.wantR {
				t.Errorf("IsRush = %v, want %v", got.IsRush, tt.wantR)
			}
		})
	}
}

func TestExtractTruncation(t *testing.T) {
	order := shopify.Order{
		Name: "1048",
		Note: strings.Repeat("a", 5000),
		Customer: &shopify.Customer{
			FirstName: strings.Repeat("F", 300),
			LastName:  "Miller",
			Email:     "a@b.com",
		},
	}

	got, err := Extract(order, 1)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got.FirstName) != 255 {
		t.Errorf("first name length = %d, want 255", len(got.FirstName))
	}
	if len(got.Instructions) != 4000 {
		t.Errorf("instructions length = %d, want 4000", len(got.Instructions))
	}
}

func TestExtractTruncationKeepsRuneBoundary(t *testing.T) {
	// A two-byte rune straddling the 255-byte limit must be dropped whole,
	// not sliced into an invalid byte.
	order := shopify.Order{
		Name: "1049",
		Note: "note",
		Customer: &shopify.Customer{
			FirstName: strings.Repeat("a", 254) + "é",
			LastName:  "Müller",
			Email:     "a@b.com",
		},
	}

	got, err := Extract(order, 1)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !utf8.ValidString(got.FirstName) {
		t.Errorf("first name %q is not valid UTF-8", got.FirstName)
	}
	if want := strings.Repeat("a", 254); got.FirstName != want {
		t.Errorf("first name length = %d, want the straddling rune dropped whole", len(got.FirstName))
	}
	if got.LastName != "Müller" {
		t.Errorf("last name = %q, want untouched below the limit", got.LastName)
	}
}
