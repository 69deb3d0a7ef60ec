package model

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// HoursScale is the number of decimal places hours are stored with.
const HoursScale = 4

var sixty = decimal.NewFromInt(60)

// ParseHours reads an hour amount. Both "1,5" and "1.5" are accepted, as are
// "1.234,5" style thousands separators and signed "h:mm" durations.
func ParseHours(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "h"), " ")
	if s == "" {
		return decimal.Zero, eris.New("model: empty hours")
	}

	if strings.Contains(s, ":") {
		body, neg := strings.CutPrefix(s, "-")
		if strings.ContainsAny(body, "+-") {
			return decimal.Zero, eris.Errorf("model: invalid hours %q", s)
		}
		h, m, _ := strings.Cut(body, ":")
		hd, err := decimal.NewFromString(h)
		if err != nil {
			return decimal.Zero, eris.Errorf("model: invalid hours %q", s)
		}
		md, err := decimal.NewFromString(m)
		if err != nil || len(m) != 2 || md.GreaterThanOrEqual(sixty) {
			return decimal.Zero, eris.Errorf("model: invalid hours %q", s)
		}
		d := hd.Add(md.DivRound(sixty, HoursScale))
		if neg {
			d = d.Neg()
		}
		return d, nil
	}

	d, err := ParseDecimal(s)
	if err != nil {
		return decimal.Zero, eris.Errorf("model: invalid hours %q", s)
	}
	return d, nil
}

// ParseDecimal reads a plain amount such as "85,50", "85.5" or "1.234,5".
// A trailing currency sign or code is ignored.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	for _, suffix := range []string{"€", "EUR"} {
		s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
	}
	if s == "" {
		return decimal.Zero, eris.New("model: empty amount")
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Errorf("model: invalid amount %q", s)
	}
	return d, nil
}
