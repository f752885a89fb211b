// Package terms defines the subscription billing terms and their lengths in days.
//
// The tag values and day counts are relied on by exact value across billing code
// (Stripe metadata, stored subscriptions, prorating), so they never change.
package terms

import (
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/plansite/internal/errs"
)

// Term is a billing cadence.
type Term string

const (
	TermMonthly    Term = "TERM_MONTHLY"
	TermAnnually   Term = "TERM_ANNUALLY"
	TermBiennially Term = "TERM_BIENNIALLY"
)

// Period lengths in days. Biennial is exactly twice the annual convention
// (730), not calendar-accurate across leap years.
const (
	PlanMonthlyPeriod  = 31
	PlanAnnualPeriod   = 365
	PlanBiennialPeriod = 730
)

// Compile-time check: biennial must be exactly 2x annual.
var _ = [1]struct{}{}[PlanBiennialPeriod-2*PlanAnnualPeriod]

// TermsList returns every term ordered by cadence length.
// A new slice is returned on each call.
func TermsList() []Term {
	return []Term{TermMonthly, TermAnnually, TermBiennially}
}

// Valid reports whether t is one of the defined terms.
func (t Term) Valid() bool {
	switch t {
	case TermMonthly, TermAnnually, TermBiennially:
		return true
	}
	return false
}

// PeriodDays returns the term length in days, or 0 for an unknown term.
func (t Term) PeriodDays() int {
	switch t {
	case TermMonthly:
		return PlanMonthlyPeriod
	case TermAnnually:
		return PlanAnnualPeriod
	case TermBiennially:
		return PlanBiennialPeriod
	}
	return 0
}

// Slug returns the short lowercase name used in URLs and form values.
func (t Term) Slug() string {
	switch t {
	case TermMonthly:
		return "monthly"
	case TermAnnually:
		return "annual"
	case TermBiennially:
		return "biennial"
	}
	return ""
}

// Label returns the display name.
func (t Term) Label() string {
	switch t {
	case TermMonthly:
		return "Monthly"
	case TermAnnually:
		return "Annual"
	case TermBiennially:
		return "Biennial"
	}
	return ""
}

func (t Term) String() string {
	return string(t)
}

// Parse accepts a term tag ("TERM_ANNUALLY") or slug ("annual"), case-insensitively.
func Parse(s string) (Term, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, t := range TermsList() {
		if normalized == strings.ToLower(string(t)) || normalized == t.Slug() {
			return t, nil
		}
	}
	return "", errs.New(errs.InvalidArgument, fmt.Sprintf("invalid term: %q (must be monthly, annual or biennial)", s))
}

// PeriodEnd returns the end of a term that starts at start.
func PeriodEnd(t Term, start time.Time) time.Time {
	return start.AddDate(0, 0, t.PeriodDays())
}

// ProratedCreditCents returns the unused share of a paid period:
// price * (period - daysUsed) / period, rounded down and clamped to [0, price].
// Unknown terms and non-positive prices yield 0.
func ProratedCreditCents(t Term, priceCents, daysUsed int) int {
	period := t.PeriodDays()
	if period == 0 || priceCents <= 0 {
		return 0
	}
	if daysUsed < 0 {
		daysUsed = 0
	}
	if daysUsed >= period {
		return 0
	}
	return int(int64(priceCents) * int64(period-daysUsed) / int64(period))
}
