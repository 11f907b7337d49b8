package shopify

// Order is the subset of a Shopify order consumed by the import pipeline.
// It is received per request and never stored as-is.
type Order struct {
	Name          string         `json:"name"`
	Note          string         `json:"note"`
	Email         string         `json:"email"`
	Customer      *Customer      `json:"customer"`
	LineItems     []LineItem     `json:"line_items"`
	ShippingLines []ShippingLine `json:"shipping_lines"`
}

// Customer carries the purchaser's contact fields.
type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// LineItem is a purchased product line.
type LineItem struct {
	SKU   string `json:"sku"`
	Title string `json:"title"`
}

// ShippingLine is a shipping option chosen at checkout.
type ShippingLine struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

type ordersEnvelope struct {
	Orders []Order `json:"orders"`
}
