package allocation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
)

// LedgerEntry is the running position of a (content, cost type) group after Date.
type LedgerEntry struct {
	ContentID   string              `json:"content_id"`
	CostType    factdomain.CostType `json:"cost_type"`
	Date        time.Time           `json:"date"`
	Allocated   decimal.Decimal     `json:"allocated"`
	Cumulative  decimal.Decimal     `json:"cumulative"`
	Remaining   decimal.Decimal     `json:"remaining"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
}

type ledgerKey struct {
	contentID string
	costType  factdomain.CostType
}

type ledgerGroup struct {
	total decimal.Decimal
	days  map[time.Time]decimal.Decimal
}

// Ledger accumulates schedules and reports cumulative and remaining amounts
// per (content, cost type) in date order.
type Ledger struct {
	groups map[ledgerKey]*ledgerGroup
}

func NewLedger() *Ledger {
	return &Ledger{groups: map[ledgerKey]*ledgerGroup{}}
}

func (l *Ledger) Add(s Schedule) {
	key := ledgerKey{contentID: s.ContentID, costType: s.CostType}
	g, ok := l.groups[key]
	if !ok {
		g = &ledgerGroup{total: decimal.Zero, days: map[time.Time]decimal.Decimal{}}
		l.groups[key] = g
	}
	for _, d := range s.Days {
		g.total = g.total.Add(d.Amount)
		if prev, ok := g.days[d.Date]; ok {
			g.days[d.Date] = prev.Add(d.Amount)
		} else {
			g.days[d.Date] = d.Amount
		}
	}
}

// Entries returns prefix sums ordered by content, cost type, then date.
func (l *Ledger) Entries() []LedgerEntry {
	keys := make([]ledgerKey, 0, len(l.groups))
	for k := range l.groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].contentID != keys[j].contentID {
			return keys[i].contentID < keys[j].contentID
		}
		return keys[i].costType < keys[j].costType
	})

	var out []LedgerEntry
	for _, k := range keys {
		g := l.groups[k]
		dates := make([]time.Time, 0, len(g.days))
		for d := range g.days {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

		cumulative := decimal.Zero
		for _, d := range dates {
			cumulative = cumulative.Add(g.days[d])
			out = append(out, LedgerEntry{
				ContentID:   k.contentID,
				CostType:    k.costType,
				Date:        d,
				Allocated:   g.days[d],
				Cumulative:  cumulative,
				Remaining:   g.total.Sub(cumulative),
				TotalAmount: g.total,
			})
		}
	}
	return out
}

// Position returns cumulative and remaining amounts for a group as of date.
func (l *Ledger) Position(contentID string, costType factdomain.CostType, date time.Time) (cumulative, remaining decimal.Decimal) {
	g, ok := l.groups[ledgerKey{contentID: contentID, costType: costType}]
	if !ok {
		return decimal.Zero, decimal.Zero
	}
	cumulative = decimal.Zero
	for d, amount := range g.days {
		if !d.After(date) {
			cumulative = cumulative.Add(amount)
		}
	}
	return cumulative, g.total.Sub(cumulative)
}
