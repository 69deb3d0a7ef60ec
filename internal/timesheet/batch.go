package timesheet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegpiraten/billing-cli/internal/masterdata"
	"github.com/wegpiraten/billing-cli/internal/model"
)

// BatchSheet is the timesheet of one client for a month.
type BatchSheet struct {
	ClientRef string
	FileName  string
	Template  Template
}

// BatchFileName names the timesheet handed out for one client.
func BatchFileName(p model.Period, short string) string {
	return fmt.Sprintf("Aufwandserfassung_%s_%s.xlsx", p, safeFileName(short))
}

// PlanBatch builds one sheet per client still cared for in period, that is
// with no end date or one on or after the first of the month. Header values
// come from the client record; the provider name falls back to the name of
// the provider record the client points at.
func PlanBatch(period model.Period, records []model.MasterRecord) []BatchSheet {
	log := zap.L().With(zap.String("component", "timesheet"), zap.String("period", period.String()))

	providers := make(map[string]model.MasterRecord)
	for _, rec := range records {
		if rec.Kind == model.KindProvider {
			providers[masterdata.NormalizeCode(rec.DisplayCode)] = rec
		}
	}

	var out []BatchSheet
	names := make(map[string]bool)
	for _, rec := range records {
		if rec.Kind != model.KindClient {
			continue
		}
		active, err := masterdata.ActiveIn(rec.Attributes, period)
		if err != nil {
			// An unreadable end date counts as none.
			log.Warn("ignoring end date", zap.String("client", rec.DisplayCode), zap.Error(err))
			active = true
		}
		if !active {
			log.Debug("client ended before period", zap.String("client", rec.DisplayCode))
			continue
		}

		short := masterdata.Attr(rec.Attributes, masterdata.AttrShortCode)
		tpl := Template{
			Period:       period,
			ProviderName: masterdata.Attr(rec.Attributes, masterdata.AttrProviderName),
			Provider:     masterdata.Attr(rec.Attributes, masterdata.AttrProvider),
			AllowedHours: masterdata.Attr(rec.Attributes, masterdata.AttrAllowedHours),
			ServiceType:  masterdata.Attr(rec.Attributes, masterdata.AttrServiceType),
			ClientShort:  short,
			Client:       rec.DisplayCode,
		}
		if p, ok := providers[masterdata.NormalizeCode(tpl.Provider)]; ok {
			tpl.Provider = p.DisplayCode
			if tpl.ProviderName == "" {
				tpl.ProviderName = p.Name
			}
		}

		if short == "" {
			short = rec.DisplayCode
		}
		name := BatchFileName(period, short)
		if names[name] {
			name = BatchFileName(period, short+"_"+rec.DisplayCode)
		}
		names[name] = true

		out = append(out, BatchSheet{ClientRef: rec.ID, FileName: name, Template: tpl})
	}
	return out
}

// WriteBatch writes the planned sheets into dir. Existing files are kept
// unless overwrite is set. It returns the paths written.
func WriteBatch(dir string, sheets []BatchSheet, overwrite bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "timesheet: create %s", dir)
	}
	log := zap.L().With(zap.String("component", "timesheet"))

	var written []string
	for _, s := range sheets {
		path := filepath.Join(dir, s.FileName)
		if _, err := os.Stat(path); err == nil && !overwrite {
			log.Warn("timesheet exists, skipping", zap.String("path", path))
			continue
		}
		if err := WriteTemplate(path, s.Template); err != nil {
			return written, err
		}
		log.Info("timesheet written",
			zap.String("path", path),
			zap.String("client", s.Template.Client),
			zap.String("provider", s.Template.ProviderName),
		)
		written = append(written, path)
	}
	return written, nil
}

func safeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}
