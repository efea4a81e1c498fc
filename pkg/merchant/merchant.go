// Package merchant defines the catalog collaborator. The merchant role
// provides product data only and never sees payment information. Result
// order is load-bearing: the coordinator buys the first matching candidate.
package merchant

import "context"

type StockStatus string

const (
	InStock    StockStatus = "in_stock"
	OutOfStock StockStatus = "out_of_stock"
)

// Product is one catalog candidate.
type Product struct {
	ProductID            string      `json:"product_id"`
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	Category             string      `json:"category"`
	PriceCents           int64       `json:"price_cents"`
	StockStatus          StockStatus `json:"stock_status"`
	DeliveryEstimateDays int         `json:"delivery_estimate_days"`
	ImageURL             string      `json:"image_url,omitempty"`
}

// Catalog is the product search surface. maxPriceCents bounds the sticker
// price of returned candidates; zero means unbounded. Implementations must
// return candidates in their ranking order.
type Catalog interface {
	Search(ctx context.Context, query string, maxPriceCents int64) ([]Product, error)
}
