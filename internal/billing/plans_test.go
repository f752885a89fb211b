package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/terms"
)

func TestCatalog_FollowsTermsOrder(t *testing.T) {
	plans := DefaultCatalog().Plans()
	require.Len(t, plans, len(terms.TermsList()))
	for i, term := range terms.TermsList() {
		require.Equal(t, term, plans[i].Term)
		require.Equal(t, term.PeriodDays(), plans[i].PeriodDays())
		require.NotEmpty(t, plans[i].Blurb)
	}
	require.Equal(t, "$96.00", plans[1].PriceDisplay())
}

func TestCatalog_OmitsUnpricedTerms(t *testing.T) {
	c := NewCatalog(map[terms.Term]int{terms.TermBiennially: 100, terms.TermMonthly: 5})
	plans := c.Plans()
	require.Len(t, plans, 2)
	require.Equal(t, terms.TermMonthly, plans[0].Term)
	require.Equal(t, terms.TermBiennially, plans[1].Term)
	_, ok := c.Plan(terms.TermAnnually)
	require.False(t, ok)

	plans[0].PriceCents = 0
	p, _ := c.Plan(terms.TermMonthly)
	require.Equal(t, 5, p.PriceCents)
}

func activeSub(term terms.Term, start time.Time) *Subscription {
	return &Subscription{UserID: "u", Term: term, Status: StatusActive, PeriodStart: start, PeriodEnd: terms.PeriodEnd(term, start)}
}

func TestChangeTermQuote_Examples(t *testing.T) {
	catalog := DefaultCatalog()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	q, err := ChangeTermQuote(catalog, activeSub(terms.TermAnnually, start), terms.TermBiennially, start.AddDate(0, 0, 100).Add(5*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 100, q.DaysUsed)
	require.Equal(t, 6969, q.CreditCents)
	require.Equal(t, 16800, q.NewPriceCents)
	require.Equal(t, 9831, q.DueCents)

	q, err = ChangeTermQuote(catalog, activeSub(terms.TermMonthly, start), terms.TermAnnually, start.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Equal(t, 677, q.CreditCents)
	require.Equal(t, 8923, q.DueCents)
	require.Equal(t, start.AddDate(0, 0, 10+365), q.NewPeriodEnd)
}

func TestChangeTermQuote_Rejects(t *testing.T) {
	catalog := DefaultCatalog()
	now := time.Now()

	_, err := ChangeTermQuote(catalog, nil, terms.TermAnnually, now)
	require.Equal(t, errs.FailedPrecondition, errs.CodeOf(err))

	canceled := activeSub(terms.TermMonthly, now)
	canceled.Status = StatusCanceled
	_, err = ChangeTermQuote(catalog, canceled, terms.TermAnnually, now)
	require.Equal(t, errs.FailedPrecondition, errs.CodeOf(err))

	_, err = ChangeTermQuote(catalog, activeSub(terms.TermMonthly, now), terms.TermMonthly, now)
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))

	_, err = ChangeTermQuote(catalog, activeSub(terms.TermMonthly, now), "TERM_WEEKLY", now)
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func testChangeTermQuote_DueBounded(t *rapid.T) {
	catalog := DefaultCatalog()
	list := terms.TermsList()
	from := rapid.SampledFrom(list).Draw(t, "from")
	to := rapid.SampledFrom(list).Filter(func(x terms.Term) bool { return x != from }).Draw(t, "to")
	days := rapid.IntRange(0, 1000).Draw(t, "days")

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	q, err := ChangeTermQuote(catalog, activeSub(from, start), to, start.AddDate(0, 0, days))
	if err != nil {
		t.Fatalf("ChangeTermQuote: %v", err)
	}
	if q.DueCents < 0 || q.DueCents > q.NewPriceCents {
		t.Fatalf("due %d outside [0, %d]", q.DueCents, q.NewPriceCents)
	}
	current, _ := catalog.Plan(from)
	if q.CreditCents < 0 || q.CreditCents > current.PriceCents {
		t.Fatalf("credit %d outside [0, %d]", q.CreditCents, current.PriceCents)
	}
	if days >= from.PeriodDays() && q.CreditCents != 0 {
		t.Fatalf("expired period still credited %d", q.CreditCents)
	}
}

func TestChangeTermQuote_DueBounded(t *testing.T) {
	rapid.Check(t, testChangeTermQuote_DueBounded)
}
