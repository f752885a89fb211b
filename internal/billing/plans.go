package billing

import (
	"fmt"

	"github.com/kuitang/plansite/internal/terms"
)

// Plan is one purchasable billing term.
type Plan struct {
	Term       terms.Term
	Name       string
	PriceCents int
	// Blurb is Markdown shown on the pricing page.
	Blurb string
}

// PeriodDays is the length of one paid period.
func (p Plan) PeriodDays() int { return p.Term.PeriodDays() }

// PriceDisplay formats the price as dollars, e.g. "$96.00".
func (p Plan) PriceDisplay() string {
	return fmt.Sprintf("$%d.%02d", p.PriceCents/100, p.PriceCents%100)
}

// Catalog lists the plans in terms.TermsList order.
type Catalog struct {
	plans []Plan
}

// DefaultCatalog is the price list used when no override is configured.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[terms.Term]int{
		terms.TermMonthly:    1000,
		terms.TermAnnually:   9600,
		terms.TermBiennially: 16800,
	})
}

// NewCatalog builds a catalog from per-term prices. Terms missing from prices are omitted.
func NewCatalog(prices map[terms.Term]int) *Catalog {
	c := &Catalog{}
	for _, t := range terms.TermsList() {
		price, ok := prices[t]
		if !ok {
			continue
		}
		c.plans = append(c.plans, Plan{
			Term:       t,
			Name:       t.Label(),
			PriceCents: price,
			Blurb:      blurbFor(t),
		})
	}
	return c
}

func blurbFor(t terms.Term) string {
	switch t {
	case terms.TermMonthly:
		return "Billed every **31 days**. Cancel any time."
	case terms.TermAnnually:
		return "Billed every **365 days**. Two months free compared to monthly."
	case terms.TermBiennially:
		return "Billed every **730 days**. Our best price, locked in for two years."
	}
	return ""
}

// Plans returns a copy of the plans in display order.
func (c *Catalog) Plans() []Plan {
	return append([]Plan(nil), c.plans...)
}

// Plan returns the plan for term.
func (c *Catalog) Plan(t terms.Term) (Plan, bool) {
	for _, p := range c.plans {
		if p.Term == t {
			return p, true
		}
	}
	return Plan{}, false
}
