package sku

import (
	"reflect"
	"testing"
)

func TestDecodeUpperLowerWithDottedProduct(t *testing.T) {
	item, err := Decode("--A1-UL-R33330.1--")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Product != "R33330.1" {
		t.Fatalf("expected product R33330.1, got %q", item.Product)
	}
	if item.ToothLocation != "Upper, Lower" {
		t.Fatalf("expected location %q, got %q", "Upper, Lower", item.ToothLocation)
	}
	if item.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", item.Quantity)
	}
	if item.Shade != "A1" {
		t.Fatalf("expected shade A1, got %q", item.Shade)
	}
	if teeth := item.Teeth(); !reflect.DeepEqual(teeth, []string{"Upper", "Lower"}) {
		t.Fatalf("expected two tooth rows, got %v", teeth)
	}
}

func TestDecodeToothCodes(t *testing.T) {
	tests := []struct {
		sku      string
		location string
		quantity int
		teeth    int
	}{
		{"--B2-U-N100--", "Upper", 1, 1},
		{"--B2-l-N100--", "Lower", 1, 1},
		{"--B2-lu-N100--", "Upper, Lower", 2, 2},
		{"--B2-X-N100--", "", 1, 0},
	}

	for _, tt := range tests {
		item, err := Decode(tt.sku)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", tt.sku, err)
		}
		if item.ToothLocation != tt.location {
			t.Errorf("Decode(%q) location = %q, want %q", tt.sku, item.ToothLocation, tt.location)
		}
		if item.Quantity != tt.quantity {
			t.Errorf("Decode(%q) quantity = %d, want %d", tt.sku, item.Quantity, tt.quantity)
		}
		if got := len(item.Teeth()); got != tt.teeth {
			t.Errorf("Decode(%q) teeth = %d, want %d", tt.sku, got, tt.teeth)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{"", "--", "----", "plain-sku", "--A1UL--", "--A1-UL--"} {
		if _, err := Decode(raw); err == nil {
			t.Errorf("Decode(%q) expected error, got none", raw)
		}
	}
}

func TestScanFindsEmbeddedSKUs(t *testing.T) {
	note := "Please expedite.\n--A1-U-C200-- and also --B3-LU-R33330.1-- thanks"
	got := Scan(note)
	want := []string{"--A1-U-C200--", "--B3-LU-R33330.1--"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Scan = %v, want %v", got, want)
	}
}

func TestScanNoMarkerFastPath(t *testing.T) {
	if got := Scan("nothing encoded here"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
