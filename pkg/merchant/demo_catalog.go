package merchant

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DemoCatalog is an in-process catalog of fifteen products across four
// categories, with a price-drop planner for demonstrations: once a drop is
// planned for a query, matching products report the target price after the
// configured delay. Planner state lives on the instance so two catalogs
// never share drops.
type DemoCatalog struct {
	dropDelay time.Duration
	now       func() time.Time

	mu    sync.Mutex
	drops map[string]plannedDrop
}

type plannedDrop struct {
	targetPriceCents int64
	plannedAt        time.Time
}

func NewDemoCatalog(dropDelay time.Duration) *DemoCatalog {
	return &DemoCatalog{
		dropDelay: dropDelay,
		now:       time.Now,
		drops:     make(map[string]plannedDrop),
	}
}

// PlanPriceDrop schedules products matching query to fall to
// targetPriceCents after the catalog's drop delay.
func (c *DemoCatalog) PlanPriceDrop(query string, targetPriceCents int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drops[strings.ToLower(query)] = plannedDrop{
		targetPriceCents: targetPriceCents,
		plannedAt:        c.now(),
	}
}

// RestorePriceDrop re-registers a drop as already elapsed. Used when active
// monitoring jobs are reloaded after a restart: the in-memory planner state
// was lost while the jobs persisted.
func (c *DemoCatalog) RestorePriceDrop(query string, targetPriceCents int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drops[strings.ToLower(query)] = plannedDrop{
		targetPriceCents: targetPriceCents,
		plannedAt:        c.now().Add(-c.dropDelay),
	}
}

func (c *DemoCatalog) effectivePrice(p Product, query string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	queryLower := strings.ToLower(query)
	nameLower := strings.ToLower(p.Name)
	descLower := strings.ToLower(p.Description)
	for dropQuery, drop := range c.drops {
		if !strings.Contains(queryLower, dropQuery) &&
			!strings.Contains(nameLower, dropQuery) &&
			!strings.Contains(descLower, dropQuery) {
			continue
		}
		if c.now().Sub(drop.plannedAt) < c.dropDelay {
			continue
		}
		if p.PriceCents > drop.targetPriceCents {
			return drop.targetPriceCents
		}
	}
	return p.PriceCents
}

// Search implements Catalog. Drops apply before the price filter so a
// product can match once its price has fallen.
func (c *DemoCatalog) Search(_ context.Context, query string, maxPriceCents int64) ([]Product, error) {
	queryLower := strings.ToLower(query)
	var out []Product
	for _, p := range demoProducts {
		if query != "" &&
			!strings.Contains(strings.ToLower(p.Name), queryLower) &&
			!strings.Contains(strings.ToLower(p.Description), queryLower) {
			continue
		}
		p.PriceCents = c.effectivePrice(p, query)
		if maxPriceCents > 0 && p.PriceCents > maxPriceCents {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GetProduct returns a product by id, or false when unknown.
func (c *DemoCatalog) GetProduct(productID string) (Product, bool) {
	for _, p := range demoProducts {
		if p.ProductID == productID {
			return p, true
		}
	}
	return Product{}, false
}

var demoProducts = []Product{
	// Electronics
	{ProductID: "prod_airpods_001", Name: "Apple AirPods Pro", Description: "Active noise cancellation, wireless charging case", Category: "Electronics", PriceCents: 24900, StockStatus: InStock, DeliveryEstimateDays: 1},
	{ProductID: "prod_headphones_001", Name: "Sony WH-1000XM5 Headphones", Description: "Industry-leading noise canceling headphones", Category: "Electronics", PriceCents: 39900, StockStatus: InStock, DeliveryEstimateDays: 2},
	{ProductID: "prod_tablet_001", Name: "Samsung Galaxy Tab S9", Description: "11-inch Android tablet with S Pen", Category: "Electronics", PriceCents: 79900, StockStatus: OutOfStock, DeliveryEstimateDays: 7},
	{ProductID: "prod_watch_001", Name: "Fitbit Charge 6", Description: "Fitness tracker with heart rate monitor", Category: "Electronics", PriceCents: 15999, StockStatus: InStock, DeliveryEstimateDays: 1},
	// Kitchen
	{ProductID: "prod_coffee_001", Name: "Philips HD7462 Coffee Maker", Description: "12-cup programmable coffee maker with timer", Category: "Kitchen", PriceCents: 6900, StockStatus: InStock, DeliveryEstimateDays: 2},
	{ProductID: "prod_blender_001", Name: "Ninja Professional Blender", Description: "1000-watt blender with 72oz pitcher", Category: "Kitchen", PriceCents: 8999, StockStatus: InStock, DeliveryEstimateDays: 1},
	{ProductID: "prod_mixer_001", Name: "KitchenAid Stand Mixer", Description: "5-quart tilt-head stand mixer", Category: "Kitchen", PriceCents: 37999, StockStatus: InStock, DeliveryEstimateDays: 3},
	{ProductID: "prod_airfryer_001", Name: "Cosori Air Fryer", Description: "5.8-quart air fryer with 11 presets", Category: "Kitchen", PriceCents: 11999, StockStatus: OutOfStock, DeliveryEstimateDays: 5},
	// Fashion
	{ProductID: "prod_sneakers_001", Name: "Nike Air Max 270", Description: "Men's running shoes, size 10", Category: "Fashion", PriceCents: 14999, StockStatus: InStock, DeliveryEstimateDays: 2},
	{ProductID: "prod_jacket_001", Name: "The North Face Fleece Jacket", Description: "Men's full-zip fleece jacket, size L", Category: "Fashion", PriceCents: 9999, StockStatus: InStock, DeliveryEstimateDays: 1},
	{ProductID: "prod_backpack_001", Name: "Herschel Supply Co. Backpack", Description: "Classic backpack with laptop sleeve", Category: "Fashion", PriceCents: 7999, StockStatus: InStock, DeliveryEstimateDays: 1},
	{ProductID: "prod_sunglasses_001", Name: "Ray-Ban Aviator Sunglasses", Description: "Classic metal aviator sunglasses", Category: "Fashion", PriceCents: 15300, StockStatus: OutOfStock, DeliveryEstimateDays: 10},
	// Home
	{ProductID: "prod_vacuum_001", Name: "Dyson V11 Cordless Vacuum", Description: "Powerful cordless vacuum with LCD screen", Category: "Home", PriceCents: 59999, StockStatus: InStock, DeliveryEstimateDays: 2},
	{ProductID: "prod_sheets_001", Name: "Egyptian Cotton Sheet Set", Description: "Queen size, 800 thread count, white", Category: "Home", PriceCents: 12999, StockStatus: InStock, DeliveryEstimateDays: 3},
	{ProductID: "prod_lamp_001", Name: "Modern LED Desk Lamp", Description: "Adjustable brightness and color temperature", Category: "Home", PriceCents: 4599, StockStatus: InStock, DeliveryEstimateDays: 1},
}
