package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/malwarebo/partnersync/models"
)

// DispatchContext carries the request-scoped data every strategy may use.
type DispatchContext struct {
	GUID          string
	Kind          string
	Plaintext     string
	CorrelationID string
}

// Strategy turns one classified payload into queue items.
type Strategy interface {
	Name() string
	CanHandle(result models.ParseResult) bool
	Build(ctx context.Context, dc DispatchContext, result models.ParseResult) ([]*models.QueueItem, error)
}

func newItem(dc DispatchContext, ownerID, category int, payload string) *models.QueueItem {
	item := &models.QueueItem{
		OwnerID:    ownerID,
		Category:   category,
		Kind:       dc.Kind,
		Payload:    payload,
		RawPayload: dc.Plaintext,
	}
	if dc.CorrelationID != "" {
		id := dc.CorrelationID
		item.CorrelationID = &id
	}
	return item
}

// ProductStrategy fans a product change out to both owners that track the
// catalogue.
type ProductStrategy struct {
	ownerIDs [2]int
	category int
}

func NewProductStrategy(ownerIDs [2]int, category int) *ProductStrategy {
	return &ProductStrategy{ownerIDs: ownerIDs, category: category}
}

func (s *ProductStrategy) Name() string { return "product" }

func (s *ProductStrategy) CanHandle(result models.ParseResult) bool {
	return result.Shape == models.PayloadShapeProduct && result.Product != nil
}

func (s *ProductStrategy) Build(ctx context.Context, dc DispatchContext, result models.ParseResult) ([]*models.QueueItem, error) {
	payload, err := json.Marshal(result.Product)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize product: %w", err)
	}

	items := make([]*models.QueueItem, 0, len(s.ownerIDs))
	for _, owner := range s.ownerIDs {
		items = append(items, newItem(dc, owner, s.category, string(payload)))
	}
	return items, nil
}

type MarketplaceRoute struct {
	Pattern *regexp.Regexp
	OwnerID int
}

// OrderStrategy routes an order to the owner whose marketplace pattern
// matches first, or to the default owner.
type OrderStrategy struct {
	routes       []MarketplaceRoute
	defaultOwner int
	category     int
}

func NewOrderStrategy(routes []MarketplaceRoute, defaultOwner, category int) *OrderStrategy {
	return &OrderStrategy{routes: routes, defaultOwner: defaultOwner, category: category}
}

func (s *OrderStrategy) Name() string { return "order" }

func (s *OrderStrategy) CanHandle(result models.ParseResult) bool {
	return result.Shape == models.PayloadShapeOrder && result.Order != nil
}

func (s *OrderStrategy) OwnerFor(marketplace string) int {
	for _, route := range s.routes {
		if route.Pattern != nil && route.Pattern.MatchString(marketplace) {
			return route.OwnerID
		}
	}
	return s.defaultOwner
}

func (s *OrderStrategy) Build(ctx context.Context, dc DispatchContext, result models.ParseResult) ([]*models.QueueItem, error) {
	payload, err := json.Marshal(result.Order)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize order: %w", err)
	}
	return []*models.QueueItem{
		newItem(dc, s.OwnerFor(result.Order.Marketplace), s.category, string(payload)),
	}, nil
}

// UnrecognizedStrategy keeps payloads nobody understood as diagnostic items.
type UnrecognizedStrategy struct {
	ownerID int
}

func NewUnrecognizedStrategy(ownerID int) *UnrecognizedStrategy {
	return &UnrecognizedStrategy{ownerID: ownerID}
}

func (s *UnrecognizedStrategy) Name() string { return "unrecognized" }

func (s *UnrecognizedStrategy) CanHandle(result models.ParseResult) bool {
	return true
}

func (s *UnrecognizedStrategy) Build(ctx context.Context, dc DispatchContext, result models.ParseResult) ([]*models.QueueItem, error) {
	return []*models.QueueItem{
		newItem(dc, s.ownerID, models.DiagnosticCategory, dc.Plaintext),
	}, nil
}
