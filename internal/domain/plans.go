package domain

// Plan IDs. PlanFree is the fallback tier every tenant holds when no paid
// subscription is active; paid tiers are totally ordered by Tier.
const (
	PlanFree     = "free"
	PlanStarter  = "starter"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

// Plan represents a subscription tier with its quota limits.
type Plan struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Tier      int    `json:"tier"`      // 0 = free, paid tiers ascending
	PriceUSD  int    `json:"priceUsd"`  // Monthly price in USD cents (1900 = $19)
	UnitCap   int64  `json:"unitCap"`   // free: lifetime cap; paid: per billing period
	MaxBrands int    `json:"maxBrands"` // Max brands the tenant may hold
	Popular   bool   `json:"popular"`   // Show "Most Popular" badge
}

// IsFree reports whether this is the free tier, whose unit cap is a lifetime
// cap rather than a per-period one.
func (p Plan) IsFree() bool {
	return p.ID == PlanFree
}

// AvailablePlans returns all plans, free first, paid tiers in ascending order.
func AvailablePlans() []Plan {
	return []Plan{
		{
			ID:        PlanFree,
			Name:      "Free",
			Tier:      0,
			PriceUSD:  0,
			UnitCap:   3,
			MaxBrands: 1,
		},
		{
			ID:        PlanStarter,
			Name:      "Starter",
			Tier:      1,
			PriceUSD:  1900, // $19/mo
			UnitCap:   25,
			MaxBrands: 3,
		},
		{
			ID:        PlanPro,
			Name:      "Pro",
			Tier:      2,
			PriceUSD:  4900, // $49/mo
			UnitCap:   100,
			MaxBrands: 10,
			Popular:   true,
		},
		{
			ID:        PlanBusiness,
			Name:      "Business",
			Tier:      3,
			PriceUSD:  9900, // $99/mo
			UnitCap:   500,
			MaxBrands: 50,
		},
	}
}

// PlanByID looks up a plan by its identifier.
func PlanByID(id string) (Plan, bool) {
	for _, p := range AvailablePlans() {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// FreePlan returns the free tier.
func FreePlan() Plan {
	p, _ := PlanByID(PlanFree)
	return p
}
