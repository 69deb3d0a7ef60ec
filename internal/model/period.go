package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Period is a calendar month. The zero value is not a valid period.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// NewPeriod returns the period for year and month, validating the month.
func NewPeriod(year, month int) (Period, error) {
	p := Period{Year: year, Month: month}
	if !p.Valid() {
		return Period{}, eris.Errorf("model: invalid period %04d-%02d", year, month)
	}
	return p, nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// Valid reports whether p names a real month.
func (p Period) Valid() bool {
	return p.Year >= 1900 && p.Year <= 9999 && p.Month >= 1 && p.Month <= 12
}

// IsZero reports whether p is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Start returns the first instant of the month (UTC).
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant after the month; the range is [Start, End).
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Contains reports whether the calendar date of t falls in p.
func (p Period) Contains(t time.Time) bool {
	return t.Year() == p.Year && int(t.Month()) == p.Month
}

// Equal compares two periods.
func (p Period) Equal(o Period) bool {
	return p.Year == o.Year && p.Month == o.Month
}

// ParsePeriod parses a period from YYYY-MM, MM.YYYY, M.YYYY, YYYYMM, MM/YYYY
// or a date (DD.MM.YYYY, YYYY-MM-DD, Excel serial), taking the month of the date.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Period{}, eris.New("model: empty period")
	}

	if p, ok := parsePeriodForms(s); ok {
		return p, nil
	}

	// A bare year is never a period, even though it is a valid serial.
	if isDigits(s) && len(s) < 5 {
		return Period{}, eris.Errorf("model: ambiguous period %q", s)
	}

	if d, err := ParseDate(s); err == nil {
		return PeriodOf(d), nil
	}

	return Period{}, eris.Errorf("model: unrecognized period %q", s)
}

func parsePeriodForms(s string) (Period, bool) {
	var y, m string
	switch {
	case len(s) == 6 && isDigits(s):
		y, m = s[:4], s[4:]
	case strings.Count(s, "-") == 1:
		y, m, _ = strings.Cut(s, "-")
	case strings.Count(s, ".") == 1:
		m, y, _ = strings.Cut(s, ".")
	case strings.Count(s, "/") == 1:
		m, y, _ = strings.Cut(s, "/")
	default:
		return Period{}, false
	}

	if len(y) != 4 || !isDigits(y) || len(m) == 0 || len(m) > 2 || !isDigits(m) {
		return Period{}, false
	}
	yi, _ := strconv.Atoi(y)
	mi, _ := strconv.Atoi(m)
	p, err := NewPeriod(yi, mi)
	if err != nil {
		return Period{}, false
	}
	return p, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
