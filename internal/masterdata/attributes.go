package masterdata

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// Captions under which the client sheet carries its per-client settings.
// Attributes keep the workbook caption as key, so lookups try each alias.
var (
	AttrPayer        = []string{"ZdNr", "Zd-Nr", "Zahlungsdienstleister", "Kostenträger", "Kostentraeger", "payer"}
	AttrHourlyRate   = []string{"Stundensatz", "Stundenlohn", "Satz", "hourly_rate"}
	AttrEnd          = []string{"Ende", "end"}
	AttrShortCode    = []string{"Kürzel", "Kuerzel", "short"}
	AttrAllowedHours = []string{"Stunden pro Monat", "Sollstunden", "allowed_hours"}
	AttrServiceType  = []string{"SPF / BBT", "SPF/BBT", "Betreuungstyp", "Leistungsart", "service_type"}
	AttrProvider     = []string{"MA_ID", "PersNr", "provider"}
	AttrProviderName = []string{"Sozialpädagogin", "Sozialpädagoge", "Betreuer", "provider_name"}
)

// Attr returns the first non-empty attribute stored under one of names.
// Captions compare like codes, so "zdnr" finds "ZdNr".
func Attr(attrs map[string]string, names []string) string {
	if len(attrs) == 0 {
		return ""
	}
	for _, name := range names {
		if v := strings.TrimSpace(attrs[name]); v != "" {
			return v
		}
	}
	for _, name := range names {
		want := NormalizeCode(name)
		for k, v := range attrs {
			if NormalizeCode(k) == want && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// HourlyRate reads the hourly rate of a client record. ok is false when the
// record has none.
func HourlyRate(attrs map[string]string) (rate decimal.Decimal, ok bool, err error) {
	raw := Attr(attrs, AttrHourlyRate)
	if raw == "" {
		return decimal.Zero, false, nil
	}
	rate, err = model.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, false, eris.Wrapf(err, "masterdata: hourly rate %q", raw)
	}
	if rate.IsNegative() {
		return decimal.Zero, false, eris.Errorf("masterdata: negative hourly rate %q", raw)
	}
	return rate, true, nil
}

// ActiveIn reports whether a client is still cared for in period: its end
// date is empty or falls on or after the first day of the month.
func ActiveIn(attrs map[string]string, period model.Period) (bool, error) {
	raw := Attr(attrs, AttrEnd)
	if raw == "" {
		return true, nil
	}
	end, err := model.ParseDate(raw)
	if err != nil {
		return false, eris.Wrapf(err, "masterdata: end date %q", raw)
	}
	return !end.Before(period.Start()), nil
}
