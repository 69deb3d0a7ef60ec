package model

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// excelEpoch is day zero of the 1900 date system as used by spreadsheet serials.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Serials below minSerial (2000-01-01) are rejected so that short numbers
// such as "28.7" are not read as dates in early 1900.
const (
	minSerial = 36526
	maxSerial = 2958465 // 9999-12-31
)

var dateLayouts = []string{
	"02.01.2006",
	"2.1.2006",
	"2006-01-02",
	"02.01.06",
	"2.1.06",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04",
}

// ParseDate parses a service date. Accepted forms are DD.MM.YYYY, D.M.YYYY,
// YYYY-MM-DD, DD.MM.YY and spreadsheet serial numbers. The result is a UTC
// calendar date with no time component.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("model: empty date")
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromSerial(f)
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), nil
		}
	}
	return time.Time{}, eris.Errorf("model: unrecognized date %q", s)
}

func fromSerial(f float64) (time.Time, error) {
	if math.IsNaN(f) || f < minSerial || f > maxSerial {
		return time.Time{}, eris.Errorf("model: date serial %v out of range", f)
	}
	return excelEpoch.AddDate(0, 0, int(math.Floor(f))), nil
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a date as DD.MM.YYYY.
func FormatDate(t time.Time) string {
	return t.Format("02.01.2006")
}
