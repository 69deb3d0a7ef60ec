package billing

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/wegpiraten/billing-cli/internal/masterdata"
	"github.com/wegpiraten/billing-cli/internal/model"
)

// centScale is the precision costs are rounded to.
const centScale = 2

// Rates maps client record ids to their hourly rate.
type Rates map[string]decimal.Decimal

// RatesFrom reads the hourly rate attribute of every client record. Clients
// without a rate are left out; a rate that does not parse is an error naming
// the client.
func RatesFrom(records []model.MasterRecord) (Rates, error) {
	rates := make(Rates)
	var bad []string
	for _, rec := range records {
		if rec.Kind != model.KindClient {
			continue
		}
		rate, ok, err := masterdata.HourlyRate(rec.Attributes)
		if err != nil {
			bad = append(bad, rec.DisplayCode)
			continue
		}
		if ok {
			rates[rec.ID] = rate
		}
	}
	if len(bad) > 0 {
		return rates, eris.Errorf("billing: invalid hourly rate for %s", strings.Join(bad, ", "))
	}
	return rates, nil
}

// Cost prices one entry at its client's rate, rounded to cents. ok is false
// when the client has no rate.
func (r Rates) Cost(e model.ServiceEntry) (cost decimal.Decimal, ok bool) {
	rate, ok := r[e.ClientRef]
	if !ok {
		return decimal.Zero, false
	}
	return e.Hours.Mul(rate).Round(centScale), true
}
