// Package reconcile compares a service date against the month of the sheet it
// was recorded on.
package reconcile

import (
	"fmt"
	"time"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// Classify returns Matching when serviceDate lies in sheetPeriod and
// CrossMonth with a human-readable note otherwise.
func Classify(serviceDate time.Time, sheetPeriod model.Period) (model.Classification, string) {
	if sheetPeriod.Contains(serviceDate) {
		return model.ClassificationMatching, ""
	}
	return model.ClassificationCrossMonth, Note(serviceDate, sheetPeriod)
}

// Note is the anomaly text stored with a cross-month entry.
func Note(serviceDate time.Time, sheetPeriod model.Period) string {
	return fmt.Sprintf("Leistung vom %s in Bogen %s", model.FormatDate(serviceDate), sheetPeriod.String())
}

// Apply classifies e from its own ServiceDate and SheetPeriod. Entries that
// already carry a classification are left alone.
func Apply(e *model.ServiceEntry) {
	if e.Classification.Valid() {
		return
	}
	e.Classification, e.AnomalyNote = Classify(e.ServiceDate, e.SheetPeriod)
}
