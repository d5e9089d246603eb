package models

type PayloadShape string

const (
	PayloadShapeUnrecognized PayloadShape = "unrecognized"
	PayloadShapeProduct      PayloadShape = "product"
	PayloadShapeOrder        PayloadShape = "order"
)

type ProductShape struct {
	ID          int64    `json:"id"`
	SKU         string   `json:"sku"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Stock       *int     `json:"stock,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

type OrderLine struct {
	SKU      string   `json:"sku"`
	Quantity int      `json:"quantity"`
	Price    *float64 `json:"price,omitempty"`
}

type OrderShape struct {
	ID          int64       `json:"id"`
	OrderNumber string      `json:"orderNumber"`
	Marketplace string      `json:"marketplace"`
	Status      string      `json:"status,omitempty"`
	Total       *float64    `json:"total,omitempty"`
	Lines       []OrderLine `json:"lines,omitempty"`
}

// ParseResult carries exactly one of Product or Order, or neither when Shape
// is PayloadShapeUnrecognized. Raw always holds the decrypted text.
type ParseResult struct {
	Shape      PayloadShape  `json:"shape"`
	Product    *ProductShape `json:"product,omitempty"`
	Order      *OrderShape   `json:"order,omitempty"`
	ChangeType string        `json:"change_type,omitempty"`
	Raw        string        `json:"-"`
}
