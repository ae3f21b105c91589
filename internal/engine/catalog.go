package engine

import (
	"sourceline/internal/domain"
)

// Catalog validates that bid line items reference purchasable items. The
// default implementation checks references against the RFQ's own requested
// item list; deployments with an external catalog can inject their own.
type Catalog interface {
	ValidateItems(rfq domain.RFQ, items []domain.BidItem) error
}

func (e Engine) catalog() Catalog {
	if e.Catalog != nil {
		return e.Catalog
	}
	return rfqCatalog{}
}

type rfqCatalog struct{}

func (rfqCatalog) ValidateItems(rfq domain.RFQ, items []domain.BidItem) error {
	if len(items) == 0 {
		return validationf("bid requires at least one priced line item")
	}
	requested := make(map[string]bool, len(rfq.Items))
	for _, it := range rfq.Items {
		requested[it.ItemRef] = true
	}
	for i, it := range items {
		if it.ItemRef == "" {
			return validationf("items[%d].item_ref is required", i)
		}
		if !requested[it.ItemRef] {
			return validationf("items[%d].item_ref %s is not requested by the rfq", i, it.ItemRef)
		}
		if it.Quantity <= 0 {
			return validationf("items[%d].quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() {
			return validationf("items[%d].unit_price must not be negative", i)
		}
	}
	return nil
}
