// Package sku decodes the embedded product encoding used in order notes and
// line-item SKUs. An encoded SKU has the form --<shade>-<toothCode>-<product>--
// where the product segment may contain literal dots, e.g. --A1-UL-R33330.1--.
package sku

import (
	"fmt"
	"regexp"
	"strings"
)

// Marker opens and closes every encoded SKU.
const Marker = "--"

// Tooth location labels produced by the decoder.
const (
	LocationUpper = "Upper"
	LocationLower = "Lower"
	LocationBoth  = "Upper, Lower"
)

// dotSentinel temporarily replaces literal dots so the dash split cannot be
// confused by them. It must never occur in real SKU text.
const dotSentinel = "\x00"

// embeddedPattern scans free text for encoded SKUs.
var embeddedPattern = regexp.MustCompile(`--[A-Za-z0-9]+-[A-Za-z]+-[A-Za-z0-9.]+--`)

// LineItem is one decoded SKU.
type LineItem struct {
	Product       string
	Shade         string
	ToothLocation string
	Quantity      int
}

// Teeth expands the tooth location into the individual anatomical locations
// ("Upper" and/or "Lower"). An unclassified item yields none.
func (li LineItem) Teeth() []string {
	var teeth []string
	if strings.Contains(li.ToothLocation, LocationUpper) {
		teeth = append(teeth, LocationUpper)
	}
	if strings.Contains(li.ToothLocation, LocationLower) {
		teeth = append(teeth, LocationLower)
	}
	return teeth
}

// Scan returns every encoded SKU embedded in free text, in order of appearance.
func Scan(text string) []string {
	if !strings.Contains(text, Marker) {
		return nil
	}
	return embeddedPattern.FindAllString(text, -1)
}

// Decode parses one encoded SKU. A malformed SKU returns an error; callers
// processing batches treat that as a per-item skip, never a batch failure.
func Decode(raw string) (LineItem, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, Marker) || !strings.HasSuffix(trimmed, Marker) || len(trimmed) <= 2*len(Marker) {
		return LineItem{}, fmt.Errorf("sku %q is not an encoded item", raw)
	}

	body := trimmed[len(Marker) : len(trimmed)-len(Marker)]

	// Literal dots are escaped before the dash split and restored after, so a
	// product code like R33330.1 survives intact.
	escaped := strings.ReplaceAll(body, ".", dotSentinel)
	fields := strings.Split(escaped, "-")
	if len(fields) < 3 {
		return LineItem{}, fmt.Errorf("sku %q has %d fields, want 3", raw, len(fields))
	}

	shade := strings.ReplaceAll(fields[0], dotSentinel, ".")
	code := fields[1]
	product := strings.ReplaceAll(strings.Join(fields[2:], "-"), dotSentinel, ".")

	location, quantity := toothLocation(code)

	return LineItem{
		Product:       product,
		Shade:         shade,
		ToothLocation: location,
		Quantity:      quantity,
	}, nil
}

// toothLocation maps the upper/lower code to a location label and quantity.
// Unrecognized codes still produce a line item, just without a classification.
func toothLocation(code string) (string, int) {
	switch strings.ToUpper(code) {
	case "U":
		return LocationUpper, 1
	case "L":
		return LocationLower, 1
	case "UL", "LU":
		return LocationBoth, 2
	default:
		return "", 1
	}
}
