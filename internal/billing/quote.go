package billing

import (
	"fmt"
	"time"

	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/terms"
)

// Quote prices a switch from the current term to another one, effective now.
type Quote struct {
	From          terms.Term `json:"from"`
	To            terms.Term `json:"to"`
	DaysUsed      int        `json:"days_used"`
	CreditCents   int        `json:"credit_cents"`
	NewPriceCents int        `json:"new_price_cents"`
	DueCents      int        `json:"due_cents"`
	NewPeriodEnd  time.Time  `json:"new_period_end"`
}

// ChangeTermQuote credits the unused share of the current paid period against
// the new term's price. Days used are whole days since the period started.
func ChangeTermQuote(catalog *Catalog, sub *Subscription, to terms.Term, now time.Time) (Quote, error) {
	if sub == nil || !sub.Active() {
		return Quote{}, errs.New(errs.FailedPrecondition, "no active subscription to change")
	}
	if !to.Valid() {
		return Quote{}, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown billing term %q", to))
	}
	if to == sub.Term {
		return Quote{}, errs.New(errs.InvalidArgument, "already on that term")
	}
	current, ok := catalog.Plan(sub.Term)
	if !ok {
		return Quote{}, errs.New(errs.FailedPrecondition, fmt.Sprintf("term %s is no longer offered", sub.Term))
	}
	next, ok := catalog.Plan(to)
	if !ok {
		return Quote{}, errs.New(errs.InvalidArgument, fmt.Sprintf("term %s is not offered", to))
	}

	daysUsed := 0
	if now.After(sub.PeriodStart) {
		daysUsed = int(now.Sub(sub.PeriodStart) / (24 * time.Hour))
	}
	credit := terms.ProratedCreditCents(sub.Term, current.PriceCents, daysUsed)
	due := next.PriceCents - credit
	if due < 0 {
		due = 0
	}
	return Quote{
		From:          sub.Term,
		To:            to,
		DaysUsed:      daysUsed,
		CreditCents:   credit,
		NewPriceCents: next.PriceCents,
		DueCents:      due,
		NewPeriodEnd:  terms.PeriodEnd(to, now),
	}, nil
}
