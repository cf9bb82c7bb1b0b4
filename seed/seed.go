/*
Package seed populates a backend with demo records.

AVAILABLE SCENARIOS:

	corner-shop: one customer, one product, one store and a single sale
	busy-week:   generated catalogue with a week of sales across every store

HOW SCENARIOS WORK:
 1. Create parents through the services (validation applies)
 2. Create sales referencing the ids the parents received
 3. Return a Summary of what was written

Scenarios append to whatever is already stored. Random scenarios draw from
a PCG source seeded by the caller, so the same seed on an empty backend
always produces the same records.

SEE ALSO:
  - api/scenarios.go: POST /api/scenarios/load
  - cli/seed.go: retail seed --scenario busy-week --seed 42
*/
package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/retail-records/retail"
)

// Scenario is a named demo data loader.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	load func(ctx context.Context, svc *retail.Services, rng *rand.Rand) (Summary, error)
}

// Summary counts the records a scenario created.
type Summary struct {
	Customers int `json:"customers"`
	Products  int `json:"products"`
	Stores    int `json:"stores"`
	Sales     int `json:"sales"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []Scenario{
	{
		ID:          "corner-shop",
		Name:        "Corner Shop",
		Description: "One customer buys one product at one store",
		load:        loadCornerShop,
	},
	{
		ID:          "busy-week",
		Name:        "Busy Week",
		Description: "Generated customers, products and stores with a week of sales",
		load:        loadBusyWeek,
	},
}

// All returns the available scenarios.
func All() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// Lookup finds a scenario by id.
func Lookup(id string) (Scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// Load runs the scenario with the given id.
func Load(ctx context.Context, svc *retail.Services, id string, seed uint64) (Summary, error) {
	s, ok := Lookup(id)
	if !ok {
		return Summary{}, fmt.Errorf("unknown scenario %q", id)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return s.load(ctx, svc, rng)
}

// =============================================================================
// CORNER SHOP
// =============================================================================

func loadCornerShop(ctx context.Context, svc *retail.Services, _ *rand.Rand) (Summary, error) {
	c, err := svc.Customers.Create(ctx, retail.CustomerInput{Name: "Acme", Address: "1 Main St"})
	if err != nil {
		return Summary{}, fmt.Errorf("create customer: %w", err)
	}
	p, err := svc.Products.Create(ctx, retail.ProductInput{Name: "Widget", Price: decimal.RequireFromString("9.99")})
	if err != nil {
		return Summary{}, fmt.Errorf("create product: %w", err)
	}
	s, err := svc.Stores.Create(ctx, retail.StoreInput{Name: "Downtown", Address: "2 Oak Ave"})
	if err != nil {
		return Summary{}, fmt.Errorf("create store: %w", err)
	}
	_, err = svc.Sales.Create(ctx, retail.SaleInput{
		DateSold:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		CustomerID: c.ID,
		ProductID:  p.ID,
		StoreID:    s.ID,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("create sale: %w", err)
	}
	return Summary{Customers: 1, Products: 1, Stores: 1, Sales: 1}, nil
}

// =============================================================================
// BUSY WEEK
// =============================================================================

var (
	firstNames = []string{"Javier", "Westbrooke", "Norry", "Cody", "Marlow", "Dillie", "Arie", "Vernen", "Phil", "Emmerich"}
	lastNames  = []string{"Lupins", "Broad", "Petroula", "Tofts", "Montrose", "Simmons", "Teaser", "Clemenceau", "Lamb", "Kimble"}
	streets    = []string{"Main St", "Oak Ave", "Harbour Rd", "Mill Lane", "King St", "Station Rd"}

	productAdjectives = []string{"Vintage", "Modern", "Eco friendly", "Luxury"}
	productCategories = []string{"Appliances", "Clothing", "Books", "Kitchenware", "Furniture"}

	storeAdjectives = []string{"Super", "Mega", "Fast"}
	storeBrands     = []string{"Mart", "Store", "Shop"}
)

const busyWeekSales = 60

// busyWeekStart is the Monday the generated sales begin on.
var busyWeekStart = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func loadBusyWeek(ctx context.Context, svc *retail.Services, rng *rand.Rand) (Summary, error) {
	var sum Summary

	customers := make([]retail.ID, 0, len(firstNames))
	for i, first := range firstNames {
		in := retail.CustomerInput{
			Name:    first + " " + lastNames[rng.IntN(len(lastNames))],
			Address: address(rng, i),
		}
		c, err := svc.Customers.Create(ctx, in)
		if err != nil {
			return sum, fmt.Errorf("create customer %q: %w", in.Name, err)
		}
		customers = append(customers, c.ID)
		sum.Customers++
	}

	products := make([]retail.ID, 0, len(productAdjectives)*len(productCategories))
	for _, adj := range productAdjectives {
		for _, cat := range productCategories {
			// 0.50 to 150.00
			cents := 50 + rng.Int64N(14951)
			p, err := svc.Products.Create(ctx, retail.ProductInput{
				Name:  adj + " " + cat,
				Price: decimal.New(cents, -2),
			})
			if err != nil {
				return sum, fmt.Errorf("create product: %w", err)
			}
			products = append(products, p.ID)
			sum.Products++
		}
	}

	stores := make([]retail.ID, 0, len(storeAdjectives)*len(storeBrands))
	for i, adj := range storeAdjectives {
		for j, brand := range storeBrands {
			s, err := svc.Stores.Create(ctx, retail.StoreInput{
				Name:    adj + " " + brand,
				Address: address(rng, i*len(storeBrands)+j),
			})
			if err != nil {
				return sum, fmt.Errorf("create store: %w", err)
			}
			stores = append(stores, s.ID)
			sum.Stores++
		}
	}

	for range busyWeekSales {
		sold := busyWeekStart.
			AddDate(0, 0, rng.IntN(7)).
			Add(time.Duration(8+rng.IntN(12))*time.Hour + time.Duration(rng.IntN(60))*time.Minute)
		_, err := svc.Sales.Create(ctx, retail.SaleInput{
			DateSold:   sold,
			CustomerID: customers[rng.IntN(len(customers))],
			ProductID:  products[rng.IntN(len(products))],
			StoreID:    stores[rng.IntN(len(stores))],
		})
		if err != nil {
			return sum, fmt.Errorf("create sale: %w", err)
		}
		sum.Sales++
	}
	return sum, nil
}

func address(rng *rand.Rand, n int) string {
	return fmt.Sprintf("%d %s", 1+n*10+rng.IntN(10), streets[rng.IntN(len(streets))])
}
