package present

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/hdotariff/internal/tariff"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatDuration(0))
	assert.Equal(t, "00:00:00", FormatDuration(-5))
	assert.Equal(t, "01:02:03", FormatDuration(3723))
	assert.Equal(t, "06:00:01", FormatDuration(21601))
	assert.Equal(t, "99:59:59", FormatDuration(99*3600+59*60+59))
	assert.Equal(t, "123:00:00", FormatDuration(123*3600))
}

func TestSentences(t *testing.T) {
	assert.Equal(t, "Remaining 00:01:00", RemainingText(60, false, English))
	assert.Equal(t, "Zbývá 00:01:00", RemainingText(60, false, Czech))
	assert.Equal(t, "Zbývá nejméně 00:00:01", RemainingText(1, true, Czech))
	assert.Equal(t, "In 08:01:00", UntilText(28860, English))
	assert.Equal(t, "Za 08:01:00", UntilText(28860, Czech))
	assert.Equal(t, "Nízký tarif", KindText(tariff.Low, Czech))
}

func TestParseLanguage(t *testing.T) {
	lang, err := ParseLanguage("CS")
	require.NoError(t, err)
	assert.Equal(t, Czech, lang)

	lang, err = ParseLanguage("")
	require.NoError(t, err)
	assert.Equal(t, English, lang)

	_, err = ParseLanguage("de")
	assert.Error(t, err)
}

func query(t *testing.T, at time.Time, docs ...tariff.RawSchedule) tariff.Result {
	t.Helper()
	s := tariff.NewStore(at.Location())
	for _, raw := range docs {
		d, err := tariff.ParseDate(raw.Date)
		require.NoError(t, err)
		ds, err := tariff.Parse(raw, d)
		require.NoError(t, err)
		_, err = s.Put(ds)
		require.NoError(t, err)
	}
	res, err := tariff.Query(s, at)
	require.NoError(t, err)
	return res
}

func cez(date string) tariff.RawSchedule {
	return tariff.RawSchedule{
		Date:    date,
		Default: tariff.High,
		Ranges: []tariff.RawRange{
			{Start: "00:00", End: "06:00", Kind: tariff.Low},
			{Start: "22:00", End: "24:00", Kind: tariff.Low},
		},
	}
}

func entity(t *testing.T, es []Entity, key string) Entity {
	t.Helper()
	e, ok := Find(es, key)
	require.True(t, ok, key)
	return e
}

func TestEntitiesDuringHighTariff(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)
	res := query(t, time.Date(2024, 1, 10, 21, 59, 0, 0, loc), cez("2024-01-10"), cez("2024-01-11"))

	es := Entities(res, Czech)
	assert.Len(t, es, 11)

	active := entity(t, es, LowTariffActive)
	assert.Equal(t, false, active.State)
	assert.Equal(t, "Vysoký tarif", active.DisplayText)

	low := entity(t, es, LowTariffRemaining)
	assert.Nil(t, low.State)
	assert.Equal(t, "Není aktivní", low.DisplayText)

	high := entity(t, es, HighTariffRemaining)
	assert.Equal(t, int64(60), high.State)
	assert.Equal(t, "00:01:00", high.FormattedTime)
	assert.Equal(t, "Zbývá 00:01:00", high.DisplayText)

	nextLow := entity(t, es, NextLowTariffCountdown)
	assert.Equal(t, int64(60), nextLow.State)
	assert.Equal(t, "Za 00:01:00", nextLow.DisplayText)

	nextHigh := entity(t, es, NextHighTariffCountdown)
	assert.Nil(t, nextHigh.State)
	assert.Equal(t, "Již aktivní", nextHigh.DisplayText)

	assert.Equal(t, "22:00", entity(t, es, LowTariffStart).State)
	assert.Equal(t, "06:00", entity(t, es, LowTariffEnd).State)
	assert.Equal(t, int64(8*3600), entity(t, es, LowTariffDuration).State)
	assert.Equal(t, "06:00", entity(t, es, HighTariffStart).State)
	assert.Equal(t, "22:00", entity(t, es, HighTariffEnd).State)
	assert.Equal(t, "16:00:00", entity(t, es, HighTariffDuration).FormattedTime)
}

func TestEntitiesWithPartialData(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)
	res := query(t, time.Date(2024, 1, 10, 23, 0, 0, 0, loc), cez("2024-01-10"))

	es := Entities(res, English)
	low := entity(t, es, LowTariffRemaining)
	assert.Equal(t, int64(3600), low.State)
	assert.True(t, low.Degraded)
	assert.Equal(t, "Remaining at least 01:00:00", low.DisplayText)

	nextHigh := entity(t, es, NextHighTariffCountdown)
	assert.Nil(t, nextHigh.State)
	assert.True(t, nextHigh.Degraded)
	assert.Equal(t, "Unknown", nextHigh.DisplayText)

	highStart := entity(t, es, HighTariffStart)
	assert.Nil(t, highStart.State)
	assert.Equal(t, "Unknown", highStart.DisplayText)
}

func TestUnknownEntities(t *testing.T) {
	es := UnknownEntities(Czech)
	assert.Len(t, es, 11)
	for _, e := range es {
		assert.Nil(t, e.State, e.Key)
		assert.Equal(t, "Neznámé", e.DisplayText)
		assert.True(t, e.Degraded)
	}
}
