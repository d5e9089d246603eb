package services

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/malwarebo/partnersync/models"
)

const (
	productWrapperKey = "productData"
	orderWrapperKey   = "orderData"
	changeTypeKey     = "changeType"
)

// PayloadClassifier decides which known shape a decrypted payload has. The
// partner sometimes wraps the object and sometimes sends it bare, so several
// decodings are tried in a fixed order.
type PayloadClassifier struct{}

func NewPayloadClassifier() *PayloadClassifier {
	return &PayloadClassifier{}
}

// Classify never fails: anything it cannot place comes back as
// PayloadShapeUnrecognized.
func (c *PayloadClassifier) Classify(plaintext, declaredKind string) models.ParseResult {
	result := models.ParseResult{Shape: models.PayloadShapeUnrecognized, Raw: plaintext}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(plaintext), &fields); err != nil || fields == nil {
		return result
	}
	result.ChangeType = changeType(fields)

	if raw, ok := fields[productWrapperKey]; ok && isObject(raw) {
		var product models.ProductShape
		if json.Unmarshal(raw, &product) == nil {
			result.Shape = models.PayloadShapeProduct
			result.Product = &product
			return result
		}
	}

	if raw, ok := fields[orderWrapperKey]; ok && isObject(raw) {
		var order models.OrderShape
		if json.Unmarshal(raw, &order) == nil {
			result.Shape = models.PayloadShapeOrder
			result.Order = &order
			return result
		}
	}

	body := []byte(plaintext)
	switch kindHint(declaredKind) {
	case models.PayloadShapeProduct:
		if product, ok := decodeProduct(body); ok {
			return withProduct(result, product)
		}
	case models.PayloadShapeOrder:
		if order, ok := decodeOrder(body); ok {
			return withOrder(result, order)
		}
	}

	// Last resort when the declared kind is missing or wrong.
	if product, ok := decodeProduct(body); ok {
		return withProduct(result, product)
	}
	if order, ok := decodeOrder(body); ok {
		return withOrder(result, order)
	}

	return result
}

func withProduct(r models.ParseResult, p *models.ProductShape) models.ParseResult {
	r.Shape = models.PayloadShapeProduct
	r.Product = p
	return r
}

func withOrder(r models.ParseResult, o *models.OrderShape) models.ParseResult {
	r.Shape = models.PayloadShapeOrder
	r.Order = o
	return r
}

// A bare product is identified by its SKU.
func decodeProduct(body []byte) (*models.ProductShape, bool) {
	var product models.ProductShape
	if err := json.Unmarshal(body, &product); err != nil {
		return nil, false
	}
	if strings.TrimSpace(product.SKU) == "" {
		return nil, false
	}
	return &product, true
}

// A bare order is identified by its order number.
func decodeOrder(body []byte) (*models.OrderShape, bool) {
	var order models.OrderShape
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, false
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return nil, false
	}
	return &order, true
}

func kindHint(kind string) models.PayloadShape {
	k := strings.ToLower(kind)
	switch {
	case strings.Contains(k, "product"), strings.Contains(k, "stock"), strings.Contains(k, "inventory"):
		return models.PayloadShapeProduct
	case strings.Contains(k, "order"):
		return models.PayloadShapeOrder
	}
	return models.PayloadShapeUnrecognized
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func changeType(fields map[string]json.RawMessage) string {
	raw, ok := fields[changeTypeKey]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}
