// Package billing selects consolidated entries for a billing month.
package billing

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// EntrySource is the read side of the consolidation store.
type EntrySource interface {
	EntriesByServiceMonth(ctx context.Context, period model.Period) ([]model.ServiceEntry, error)
}

// FlaggedEntry is a cross-month entry billed together with its note.
type FlaggedEntry struct {
	Entry model.ServiceEntry `json:"entry"`
	Note  string             `json:"note"`
}

// Result is the billing selection for one month. Every entry whose service
// date falls in Period appears exactly once, in Clean or in Flagged.
type Result struct {
	Period  model.Period         `json:"period"`
	Clean   []model.ServiceEntry `json:"clean"`
	Flagged []FlaggedEntry       `json:"flagged"`
	Rates   Rates                `json:"rates,omitempty"`
}

// Selector reads billing selections from an EntrySource.
type Selector struct {
	src   EntrySource
	rates Rates
}

// NewSelector creates a Selector. Entries are priced with rates; a nil map
// leaves every cost empty.
func NewSelector(src EntrySource, rates Rates) *Selector {
	return &Selector{src: src, rates: rates}
}

// SelectForBilling returns all entries with a service date in year/month,
// whatever sheet they were filed on. An empty month is not an error. Store
// failures are returned unchanged.
func (s *Selector) SelectForBilling(ctx context.Context, year, month int) (*Result, error) {
	period, err := model.NewPeriod(year, month)
	if err != nil {
		return nil, eris.Wrap(err, "billing: select")
	}
	return s.Select(ctx, period)
}

// Select is SelectForBilling for an already parsed period.
func (s *Selector) Select(ctx context.Context, period model.Period) (*Result, error) {
	entries, err := s.src.EntriesByServiceMonth(ctx, period)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "billing"), zap.String("period", period.String()))
	res := &Result{Period: period, Rates: s.rates}
	for _, e := range entries {
		if e.Classification == model.ClassificationCrossMonth {
			res.Flagged = append(res.Flagged, FlaggedEntry{Entry: e, Note: e.AnomalyNote})
			log.Info(e.AnomalyNote,
				zap.String("entry_id", e.ID),
				zap.String("client_ref", e.ClientRef),
				zap.Int("row", e.SourceRowIndex),
			)
			continue
		}
		res.Clean = append(res.Clean, e)
	}

	log.Info("billing selection complete",
		zap.Int("clean", len(res.Clean)),
		zap.Int("flagged", len(res.Flagged)),
	)
	return res, nil
}

// Len is the number of selected entries.
func (r *Result) Len() int {
	return len(r.Clean) + len(r.Flagged)
}

// Entries merges clean and flagged entries back into store order.
func (r *Result) Entries() []model.ServiceEntry {
	out := make([]model.ServiceEntry, 0, r.Len())
	out = append(out, r.Clean...)
	for _, f := range r.Flagged {
		out = append(out, f.Entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return entryLess(out[i], out[j]) })
	return out
}

// TotalHours sums the billable hours of the selection.
func (r *Result) TotalHours() decimal.Decimal {
	total := decimal.Zero
	for _, e := range r.Clean {
		total = total.Add(e.Hours)
	}
	for _, f := range r.Flagged {
		total = total.Add(f.Entry.Hours)
	}
	return total
}

// TotalCost sums the cost of every priced entry. Entries of clients without
// a rate add nothing.
func (r *Result) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, e := range r.Entries() {
		if c, ok := r.Rates.Cost(e); ok {
			total = total.Add(c)
		}
	}
	return total
}

// ClientSummary totals one client's hours in a selection. Cost is the sum of
// the entry costs and only set when HasRate is true.
type ClientSummary struct {
	ClientRef    string          `json:"client_ref"`
	Entries      int             `json:"entries"`
	Flagged      int             `json:"flagged"`
	CleanHours   decimal.Decimal `json:"clean_hours"`
	FlaggedHours decimal.Decimal `json:"flagged_hours"`
	HasRate      bool            `json:"has_rate"`
	Rate         decimal.Decimal `json:"rate"`
	Cost         decimal.Decimal `json:"cost"`
}

// TotalHours is clean plus flagged hours.
func (s ClientSummary) TotalHours() decimal.Decimal {
	return s.CleanHours.Add(s.FlaggedHours)
}

// Summaries returns per-client totals ordered by client reference.
func (r *Result) Summaries() []ClientSummary {
	byClient := make(map[string]*ClientSummary)
	get := func(ref string) *ClientSummary {
		s, ok := byClient[ref]
		if !ok {
			s = &ClientSummary{ClientRef: ref, CleanHours: decimal.Zero, FlaggedHours: decimal.Zero, Cost: decimal.Zero}
			s.Rate, s.HasRate = r.Rates[ref]
			byClient[ref] = s
		}
		return s
	}

	for _, e := range r.Clean {
		s := get(e.ClientRef)
		s.Entries++
		s.CleanHours = s.CleanHours.Add(e.Hours)
		if c, ok := r.Rates.Cost(e); ok {
			s.Cost = s.Cost.Add(c)
		}
	}
	for _, f := range r.Flagged {
		s := get(f.Entry.ClientRef)
		s.Entries++
		s.Flagged++
		s.FlaggedHours = s.FlaggedHours.Add(f.Entry.Hours)
		if c, ok := r.Rates.Cost(f.Entry); ok {
			s.Cost = s.Cost.Add(c)
		}
	}

	out := make([]ClientSummary, 0, len(byClient))
	for _, s := range byClient {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientRef < out[j].ClientRef })
	return out
}

func entryLess(a, b model.ServiceEntry) bool {
	if a.ClientRef != b.ClientRef {
		return a.ClientRef < b.ClientRef
	}
	if !a.ServiceDate.Equal(b.ServiceDate) {
		return a.ServiceDate.Before(b.ServiceDate)
	}
	if a.SourceSheetID != b.SourceSheetID {
		return a.SourceSheetID < b.SourceSheetID
	}
	return a.SourceRowIndex < b.SourceRowIndex
}
