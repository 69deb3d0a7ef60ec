package masterdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegpiraten/billing-cli/internal/model"
)

func TestAttr(t *testing.T) {
	t.Parallel()

	attrs := map[string]string{
		"ZdNr":        " JA-01 ",
		"kürzel":      "AB",
		"Stundensatz": "",
		"hourly_rate": "72",
		"SPF / BBT":   "SPF",
	}

	assert.Equal(t, "JA-01", Attr(attrs, AttrPayer))
	assert.Equal(t, "AB", Attr(attrs, AttrShortCode))
	assert.Equal(t, "72", Attr(attrs, AttrHourlyRate))
	assert.Equal(t, "SPF", Attr(attrs, AttrServiceType))
	assert.Empty(t, Attr(attrs, AttrEnd))
	assert.Empty(t, Attr(nil, AttrPayer))
}

func TestHourlyRate(t *testing.T) {
	t.Parallel()

	rate, ok, err := HourlyRate(map[string]string{"Stundensatz": "85,50"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "85.5", rate.String())

	_, ok, err = HourlyRate(map[string]string{"Name": "Meier"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = HourlyRate(map[string]string{"Stundensatz": "viel"})
	assert.Error(t, err)

	_, _, err = HourlyRate(map[string]string{"Stundensatz": "-5"})
	assert.Error(t, err)
}

func TestActiveIn(t *testing.T) {
	t.Parallel()

	aug := model.Period{Year: 2025, Month: 8}
	tests := []struct {
		name string
		end  string
		want bool
	}{
		{"no end date", "", true},
		{"ends later", "30.09.2025", true},
		{"ends on first day", "01.08.2025", true},
		{"ended before", "31.07.2025", false},
		{"serial end date", "45869", false}, // 2025-07-31
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ActiveIn(map[string]string{"Ende": tt.end}, aug)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ActiveIn(map[string]string{"Ende": "irgendwann"}, aug)
	assert.Error(t, err)
}
