package timesheet

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/wegpiraten/billing-cli/internal/fetcher"
)

// Logical column names.
const (
	ColClient      = "client"
	ColProvider    = "provider"
	ColPayer       = "payer"
	ColDate        = "date"
	ColHours       = "hours"
	ColTravel      = "travel"
	ColDirect      = "direct"
	ColIndirect    = "indirect"
	ColServiceType = "service_type"
	ColNotes       = "notes"
)

// Columns lists every logical column in field order.
var Columns = []string{
	ColClient, ColProvider, ColPayer, ColDate, ColHours,
	ColTravel, ColDirect, ColIndirect, ColServiceType, ColNotes,
}

// HeaderCells holds the A1 addresses of the sheet-level values. An empty
// address disables that header value; the standard template has no payer cell.
type HeaderCells struct {
	Period      string `yaml:"period"`
	Provider    string `yaml:"provider"`
	Payer       string `yaml:"payer"`
	ServiceType string `yaml:"service_type"`
	Client      string `yaml:"client"`
}

// Profile describes the layout of a timesheet.
type Profile struct {
	SheetName    string              `yaml:"sheet_name"`
	Header       HeaderCells         `yaml:"header_cells"`
	HeaderRow    int                 `yaml:"header_row"`     // 1-based; 0 = no caption row
	FirstDataRow int                 `yaml:"first_data_row"` // 1-based
	LastDataRow  int                 `yaml:"last_data_row"`  // 1-based, inclusive; 0 = to the end
	Captions     map[string][]string `yaml:"captions"`
	Letters      map[string]string   `yaml:"column_letters"` // fixed columns, bypass caption lookup
}

// DefaultProfile matches the standard monthly timesheet template: fixed
// columns B to H in rows 10 to 28, with the totals line below ignored. The
// payer comes from the client's master record. Captions are only consulted
// by profiles that clear column_letters and set a header_row.
func DefaultProfile() Profile {
	return Profile{
		Header: HeaderCells{
			Period:      "C6",
			Provider:    "G5",
			ServiceType: "G7",
			Client:      "G8",
		},
		FirstDataRow: 10,
		LastDataRow:  28,
		Letters: map[string]string{
			ColDate:     "B",
			ColTravel:   "C",
			ColDirect:   "E",
			ColIndirect: "F",
			ColHours:    "G",
			ColNotes:    "H",
		},
		Captions: map[string][]string{
			ColClient:      {"klient", "klientin", "klient-id", "client"},
			ColProvider:    {"leistungserbringer", "mitarbeiter", "mitarbeiter-id", "provider"},
			ColPayer:       {"kostenträger", "kostentraeger", "payer"},
			ColDate:        {"datum", "leistungsdatum", "date"},
			ColHours:       {"stunden", "abrechenbare stunden", "abrechenbar", "hours"},
			ColTravel:      {"fahrtzeit", "reisezeit", "fahrt", "travel"},
			ColDirect:      {"direkt", "direkte zeit", "direct"},
			ColIndirect:    {"indirekt", "indirekte zeit", "indirect"},
			ColServiceType: {"leistungsart", "leistung", "service type"},
			ColNotes:       {"bemerkung", "bemerkungen", "notiz", "notes"},
		},
	}
}

// LoadProfile reads a YAML profile on top of the defaults. Keys absent from
// the file keep their default value.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, eris.Wrapf(err, "timesheet: read profile %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, eris.Wrap(err, "timesheet: parse profile")
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks row ranges and cell addresses.
func (p Profile) Validate() error {
	var problems []string

	if p.FirstDataRow < 1 {
		problems = append(problems, "first_data_row must be >= 1")
	}
	if p.HeaderRow < 0 || (p.HeaderRow > 0 && p.HeaderRow >= p.FirstDataRow) {
		problems = append(problems, "header_row must precede first_data_row")
	}
	if p.LastDataRow != 0 && p.LastDataRow < p.FirstDataRow {
		problems = append(problems, "last_data_row must be >= first_data_row")
	}
	for name, ref := range map[string]string{
		"period": p.Header.Period, "provider": p.Header.Provider, "payer": p.Header.Payer,
		"service_type": p.Header.ServiceType, "client": p.Header.Client,
	} {
		if ref == "" {
			continue
		}
		if _, _, err := fetcher.ParseCellRef(ref); err != nil {
			problems = append(problems, "header cell "+name+": bad address "+ref)
		}
	}
	for col, letter := range p.Letters {
		if _, err := columnIndex(letter); err != nil {
			problems = append(problems, "column "+col+": bad letter "+letter)
		}
	}
	if p.HeaderRow == 0 && p.Letters[ColDate] == "" {
		problems = append(problems, "without header_row the date column needs a column letter")
	}

	if len(problems) > 0 {
		return eris.Errorf("timesheet: invalid profile: %s", strings.Join(problems, "; "))
	}
	return nil
}

func columnIndex(letter string) (int, error) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if letter == "" {
		return 0, eris.New("timesheet: empty column letter")
	}
	for _, r := range letter {
		if r < 'A' || r > 'Z' {
			return 0, eris.Errorf("timesheet: bad column letter %q", letter)
		}
	}
	return xlsx.ColLettersToIndex(letter), nil
}

// normalizeCaption lowercases, trims, drops parentheses and collapses spaces.
func normalizeCaption(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "(", "")
	s = strings.ReplaceAll(s, ")", "")
	s = strings.TrimSuffix(s, ":")
	return strings.Join(strings.Fields(s), " ")
}
