package tariff_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/hdotariff/internal/tariff"
)

func storeWith(t *testing.T, days ...tariff.DaySchedule) *tariff.Store {
	t.Helper()
	s := tariff.NewStore(prague(t))
	for _, ds := range days {
		_, err := s.Put(ds)
		require.NoError(t, err)
	}
	return s
}

func TestQueryEmptyStore(t *testing.T) {
	s := tariff.NewStore(prague(t))
	_, err := tariff.Query(s, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, tariff.ErrNoScheduleForDate)

	var qe *tariff.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "2024-01-10", qe.Date.String())
}

func TestQueryBeforeHighToLowTransition(t *testing.T) {
	loc := prague(t)
	at := time.Date(2024, 1, 10, 21, 59, 0, 0, loc)

	t.Run("with next day", func(t *testing.T) {
		s := storeWith(t, cezDay(t, "2024-01-10"), cezDay(t, "2024-01-11"))
		res, err := tariff.Query(s, at)
		require.NoError(t, err)

		assert.Equal(t, tariff.High, res.Kind)
		assert.False(t, res.LowActive())
		assert.Equal(t, int64(60), res.Remaining.Seconds)
		assert.False(t, res.Remaining.Degraded)
		assert.True(t, res.NextLow.Known)
		assert.Equal(t, int64(60), res.NextLow.Seconds)
		assert.True(t, res.NextHigh.Known)
		assert.Equal(t, int64(8*3600+60), res.NextHigh.Seconds)
		assert.True(t, time.Date(2024, 1, 11, 6, 0, 0, 0, loc).Equal(res.NextHigh.At))
		assert.False(t, res.Degraded)
	})

	t.Run("without next day", func(t *testing.T) {
		s := storeWith(t, cezDay(t, "2024-01-10"))
		res, err := tariff.Query(s, at)
		require.NoError(t, err)

		assert.Equal(t, tariff.High, res.Kind)
		assert.Equal(t, int64(60), res.Remaining.Seconds)
		assert.False(t, res.Remaining.Degraded)
		assert.Equal(t, int64(60), res.NextLow.Seconds)
		assert.False(t, res.NextHigh.Known)
		assert.True(t, res.Degraded)
	})
}

func TestQueryMidnightSpanningWindow(t *testing.T) {
	loc := prague(t)
	at := time.Date(2024, 1, 10, 23, 59, 59, 0, loc)
	want := int64(6*3600 + 1)

	t.Run("next day stored", func(t *testing.T) {
		s := storeWith(t, cezDay(t, "2024-01-10"), cezDay(t, "2024-01-11"))
		res, err := tariff.Query(s, at)
		require.NoError(t, err)
		assert.Equal(t, tariff.Low, res.Kind)
		assert.Equal(t, want, res.Remaining.Seconds)
		assert.False(t, res.Remaining.Degraded)
		assert.Equal(t, want, res.NextHigh.Seconds)
		assert.True(t, time.Date(2024, 1, 10, 22, 0, 0, 0, loc).Equal(res.Window.Start))
	})

	t.Run("estimated from carry", func(t *testing.T) {
		s := storeWith(t, mustParse(t, lowRanges("2024-01-10", "00:00-06:00", "22:00-06:00")))
		res, err := tariff.Query(s, at)
		require.NoError(t, err)
		assert.Equal(t, tariff.Low, res.Kind)
		assert.Equal(t, want, res.Remaining.Seconds)
		assert.True(t, res.Remaining.Degraded)
		assert.True(t, res.Window.Estimated)
		assert.False(t, res.NextHigh.Known)
		assert.True(t, res.Degraded)
	})

	t.Run("end of known data", func(t *testing.T) {
		s := storeWith(t, cezDay(t, "2024-01-10"))
		res, err := tariff.Query(s, at)
		require.NoError(t, err)
		assert.Equal(t, tariff.Low, res.Kind)
		assert.Equal(t, int64(1), res.Remaining.Seconds)
		assert.True(t, res.Remaining.Degraded)
	})

	t.Run("next day overrides carry", func(t *testing.T) {
		s := storeWith(t,
			mustParse(t, lowRanges("2024-01-10", "22:00-06:00")),
			mustParse(t, lowRanges("2024-01-11", "00:00-04:00")),
		)
		res, err := tariff.Query(s, at)
		require.NoError(t, err)
		assert.Equal(t, int64(4*3600+1), res.Remaining.Seconds)
		assert.False(t, res.Remaining.Degraded)
	})
}

func TestQueryWindowStartsOnPreviousDay(t *testing.T) {
	loc := prague(t)
	s := storeWith(t, cezDay(t, "2024-01-09"), cezDay(t, "2024-01-10"), cezDay(t, "2024-01-11"))
	res, err := tariff.Query(s, time.Date(2024, 1, 10, 3, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 9, 22, 0, 0, 0, loc).Equal(res.Window.Start))
	assert.Equal(t, int64(3*3600), res.Remaining.Seconds)
	assert.Equal(t, int64(3*3600), res.NextHigh.Seconds)
	assert.Equal(t, int64(19*3600), res.NextLow.Seconds)
}

func TestQueryBoundariesAreHalfOpen(t *testing.T) {
	loc := prague(t)
	s := storeWith(t, cezDay(t, "2024-01-10"), cezDay(t, "2024-01-11"))

	res, err := tariff.Query(s, time.Date(2024, 1, 10, 6, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, tariff.High, res.Kind, "an instant at a start belongs to the interval starting there")
	assert.Equal(t, int64(16*3600), res.Remaining.Seconds)

	res, err = tariff.Query(s, time.Date(2024, 1, 10, 5, 59, 59, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, tariff.Low, res.Kind)
	assert.Equal(t, int64(1), res.Remaining.Seconds)

	res, err = tariff.Query(s, time.Date(2024, 1, 10, 22, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, tariff.Low, res.Kind, "an instant at an end belongs to the next interval")
}

func TestQueryNextStartSkipsCurrentWindow(t *testing.T) {
	loc := prague(t)
	s := storeWith(t, cezDay(t, "2024-01-10"), cezDay(t, "2024-01-11"))
	res, err := tariff.Query(s, time.Date(2024, 1, 10, 1, 0, 0, 0, loc))
	require.NoError(t, err)

	assert.Equal(t, tariff.Low, res.Kind)
	assert.Equal(t, int64(5*3600), res.NextHigh.Seconds)
	assert.Equal(t, int64(21*3600), res.NextLow.Seconds)
	assert.Equal(t, res.NextLow, res.Next(tariff.Low))
}

func TestQueryFloorsSubSecond(t *testing.T) {
	loc := prague(t)
	s := storeWith(t, cezDay(t, "2024-01-10"))
	res, err := tariff.Query(s, time.Date(2024, 1, 10, 5, 59, 58, 999_000_000, loc))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Remaining.Seconds)
}

func TestQueryRemainingIsMonotonic(t *testing.T) {
	loc := prague(t)
	s := storeWith(t, cezDay(t, "2024-01-10"), cezDay(t, "2024-01-11"))

	at := time.Date(2024, 1, 10, 5, 0, 0, 0, loc)
	prev, err := tariff.Query(s, at)
	require.NoError(t, err)
	for i := 0; i < 3600; i++ {
		at = at.Add(time.Second)
		res, err := tariff.Query(s, at)
		require.NoError(t, err)
		if prev.Remaining.Seconds == 1 {
			assert.Equal(t, tariff.High, res.Kind)
			assert.True(t, at.Equal(res.Window.Start))
			break
		}
		require.Equal(t, prev.Kind, res.Kind)
		require.Equal(t, prev.Remaining.Seconds-1, res.Remaining.Seconds)
		prev = res
	}
}

func TestQueryAgreesWithScheduleAllDay(t *testing.T) {
	loc := prague(t)
	ds := mustParse(t, lowRanges("2024-01-10", "02:00-03:30", "13:00-15:00", "22:30-01:15"))
	s := storeWith(t, ds)

	for at := time.Date(2024, 1, 10, 0, 0, 0, 0, loc); tariff.DateOf(at) == ds.Date; at = at.Add(time.Minute) {
		res, err := tariff.Query(s, at)
		require.NoError(t, err)
		require.Equal(t, ds.KindAt(tariff.ClockOf(at)), res.Kind, "at %s", at)
		require.True(t, res.Window.Start.Compare(at) <= 0 && res.Window.End.After(at))
	}
}

func TestQueryAcrossDaylightSaving(t *testing.T) {
	loc := prague(t)

	t.Run("spring forward", func(t *testing.T) {
		s := storeWith(t, mustParse(t, lowRanges("2024-03-31", "00:00-06:00")))
		res, err := tariff.Query(s, time.Date(2024, 3, 31, 0, 0, 0, 0, loc))
		require.NoError(t, err)
		assert.Equal(t, int64(5*3600), res.Remaining.Seconds)
	})

	t.Run("fall back", func(t *testing.T) {
		s := storeWith(t, mustParse(t, lowRanges("2024-10-27", "00:00-06:00")))
		res, err := tariff.Query(s, time.Date(2024, 10, 27, 0, 0, 0, 0, loc))
		require.NoError(t, err)
		assert.Equal(t, int64(7*3600), res.Remaining.Seconds)
	})

	t.Run("boundary inside repeated hour", func(t *testing.T) {
		s := storeWith(t, mustParse(t, lowRanges("2024-10-27", "02:30-04:00")))

		// 00:15 UTC is 02:15 CEST, before the first 02:30.
		res, err := tariff.Query(s, time.Date(2024, 10, 27, 0, 15, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, tariff.High, res.Kind)
		assert.Equal(t, int64(15*60), res.NextLow.Seconds)

		// 00:30 UTC is the first 02:30 (CEST); low lasts until 04:00 CET.
		res, err = tariff.Query(s, time.Date(2024, 10, 27, 0, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, tariff.Low, res.Kind)
		assert.Equal(t, int64(9000), res.Remaining.Seconds)

		// 01:30 UTC is the second 02:30 (CET), still low.
		res, err = tariff.Query(s, time.Date(2024, 10, 27, 1, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, tariff.Low, res.Kind)
	})

	t.Run("interval inside skipped hour", func(t *testing.T) {
		s := storeWith(t, mustParse(t, lowRanges("2024-03-31", "02:00-02:30")))
		res, err := tariff.Query(s, time.Date(2024, 3, 31, 1, 0, 0, 0, loc))
		require.NoError(t, err)
		assert.Equal(t, tariff.High, res.Kind)
	})
}

func TestQueryUsesInstantZone(t *testing.T) {
	s := storeWith(t, cezDay(t, "2024-01-10"))
	// 21:30 UTC is 22:30 in Prague.
	res, err := tariff.Query(s, time.Date(2024, 1, 10, 21, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, tariff.Low, res.Kind)
}
