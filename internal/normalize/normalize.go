// Package normalize turns raw row candidates into typed service entries.
package normalize

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/wegpiraten/billing-cli/internal/masterdata"
	"github.com/wegpiraten/billing-cli/internal/model"
)

// Normalizer resolves codes and parses dates and hours. It performs no writes.
type Normalizer struct {
	resolver masterdata.Resolver
}

// New creates a Normalizer backed by resolver.
func New(resolver masterdata.Resolver) *Normalizer {
	return &Normalizer{resolver: resolver}
}

// Normalize converts one candidate. Data problems come back as a RowError
// naming the first failing field in the order client, provider, payer,
// date, hours. The error result is reserved for resolver failures.
// Classification is left unset.
func (n *Normalizer) Normalize(ctx context.Context, cand model.RowCandidate, period model.Period) (model.ServiceEntry, *model.RowError, error) {
	if cand.Err != nil {
		return model.ServiceEntry{}, cand.Err, nil
	}
	if cand.Fields == nil {
		return model.ServiceEntry{}, rowErr(cand, "row", "", "empty candidate"), nil
	}
	f := cand.Fields

	e := model.ServiceEntry{
		ID:             model.EntryID(cand.SheetID, cand.RowIndex),
		ServiceType:    f.ServiceType,
		Notes:          f.Notes,
		SheetPeriod:    period,
		SourceSheetID:  cand.SheetID,
		SourceRowIndex: cand.RowIndex,
	}

	refs := []struct {
		kind model.MasterKind
		raw  string
		dst  *string
	}{
		{model.KindClient, f.Client, &e.ClientRef},
		{model.KindProvider, f.Provider, &e.ProviderRef},
		{model.KindPayer, f.Payer, &e.PayerRef},
	}
	for _, ref := range refs {
		field := string(ref.kind)
		raw := ref.raw
		if ref.kind == model.KindPayer && masterdata.NormalizeCode(raw) == "" {
			code, rerr, err := n.clientPayer(ctx, cand, e.ClientRef)
			if rerr != nil || err != nil {
				return model.ServiceEntry{}, rerr, err
			}
			raw = code
		}
		if masterdata.NormalizeCode(raw) == "" {
			return model.ServiceEntry{}, rowErr(cand, field, raw, "missing "+field+" code"), nil
		}
		id, err := n.resolver.Resolve(ctx, ref.kind, raw)
		if errors.Is(err, masterdata.ErrNotFound) {
			return model.ServiceEntry{}, rowErr(cand, field, raw, fmt.Sprintf("unknown %s code %q", field, raw)), nil
		}
		if err != nil {
			return model.ServiceEntry{}, nil, eris.Wrapf(err, "normalize: row %d", cand.RowIndex)
		}
		*ref.dst = id
	}

	date, err := model.ParseDate(f.ServiceDate)
	if err != nil {
		return model.ServiceEntry{}, rowErr(cand, "date", f.ServiceDate, "invalid service date"), nil
	}
	e.ServiceDate = date

	parts := []struct {
		field string
		raw   string
		dst   *decimal.Decimal
	}{
		{"travel", f.Travel, &e.TravelHours},
		{"direct", f.Direct, &e.DirectHours},
		{"indirect", f.Indirect, &e.IndirectHours},
	}
	hours, rerr := parseOptional(cand, "hours", f.Hours)
	if rerr != nil {
		return model.ServiceEntry{}, rerr, nil
	}
	for _, p := range parts {
		v, rerr := parseOptional(cand, p.field, p.raw)
		if rerr != nil {
			return model.ServiceEntry{}, rerr, nil
		}
		v = v.Round(model.HoursScale)
		if v.IsNegative() {
			return model.ServiceEntry{}, rowErr(cand, p.field, p.raw, "must not be negative"), nil
		}
		*p.dst = v
	}

	raw := f.Hours
	if raw == "" {
		// Billable time defaults to direct plus indirect; travel is excluded.
		hours = e.DirectHours.Add(e.IndirectHours)
		raw = hours.String()
	}
	// The store keeps four decimal places; anything that rounds to zero is zero.
	hours = hours.Round(model.HoursScale)
	if !hours.IsPositive() {
		return model.ServiceEntry{}, rowErr(cand, "hours", raw, "hours must be greater than zero"), nil
	}
	e.Hours = hours

	return e, nil, nil
}

// clientPayer reads the payer code from the client record for sheets that
// carry no payer of their own.
func (n *Normalizer) clientPayer(ctx context.Context, cand model.RowCandidate, clientID string) (string, *model.RowError, error) {
	attrs, err := n.resolver.Attributes(ctx, clientID)
	if err != nil {
		return "", nil, eris.Wrapf(err, "normalize: row %d", cand.RowIndex)
	}
	code := masterdata.Attr(attrs, masterdata.AttrPayer)
	if code == "" {
		reason := fmt.Sprintf("client %q has no payer code in master data", cand.Fields.Client)
		return "", rowErr(cand, "payer", "", reason), nil
	}
	return code, nil, nil
}

func parseOptional(cand model.RowCandidate, field, raw string) (decimal.Decimal, *model.RowError) {
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := model.ParseHours(raw)
	if err != nil {
		return decimal.Zero, rowErr(cand, field, raw, "not a number")
	}
	return v, nil
}

func rowErr(cand model.RowCandidate, field, raw, reason string) *model.RowError {
	return &model.RowError{SheetID: cand.SheetID, RowIndex: cand.RowIndex, Field: field, Raw: raw, Reason: reason}
}
