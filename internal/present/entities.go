package present

import (
	"time"

	"github.com/bher20/hdotariff/internal/tariff"
)

// Entity keys.
const (
	LowTariffActive         = "low_tariff_active"
	LowTariffRemaining      = "low_tariff_remaining"
	HighTariffRemaining     = "high_tariff_remaining"
	NextLowTariffCountdown  = "next_low_tariff_countdown"
	NextHighTariffCountdown = "next_high_tariff_countdown"
	LowTariffStart          = "low_tariff_start"
	LowTariffEnd            = "low_tariff_end"
	LowTariffDuration       = "low_tariff_duration"
	HighTariffStart         = "high_tariff_start"
	HighTariffEnd           = "high_tariff_end"
	HighTariffDuration      = "high_tariff_duration"
)

// Entity is one polled value. State is nil when the value does not apply or
// is unknown; DisplayText then says which.
type Entity struct {
	Key           string `json:"key"`
	State         any    `json:"state"`
	Unit          string `json:"unit,omitempty"`
	FormattedTime string `json:"formatted_time,omitempty"`
	DisplayText   string `json:"display_text"`
	Degraded      bool   `json:"degraded,omitempty"`
}

// Entities renders the full entity set for res.
func Entities(res tariff.Result, lang Language) []Entity {
	p := phrasesFor(lang)
	out := []Entity{{
		Key:         LowTariffActive,
		State:       res.LowActive(),
		DisplayText: KindText(res.Kind, lang),
		Degraded:    res.Degraded,
	}}

	for _, k := range []tariff.Kind{tariff.Low, tariff.High} {
		key := LowTariffRemaining
		if k == tariff.High {
			key = HighTariffRemaining
		}
		e := Entity{Key: key, Unit: "s", DisplayText: p.notActive}
		if res.Kind == k {
			e.State = res.Remaining.Seconds
			e.FormattedTime = FormatDuration(res.Remaining.Seconds)
			e.DisplayText = RemainingText(res.Remaining.Seconds, res.Remaining.Degraded, lang)
			e.Degraded = res.Remaining.Degraded
		}
		out = append(out, e)
	}

	for _, k := range []tariff.Kind{tariff.Low, tariff.High} {
		key := NextLowTariffCountdown
		if k == tariff.High {
			key = NextHighTariffCountdown
		}
		next := res.Next(k)
		e := Entity{Key: key, Unit: "s"}
		switch {
		case res.Kind == k:
			e.DisplayText = p.alreadyActive
		case !next.Known:
			e.DisplayText = p.unknown
			e.Degraded = true
		default:
			e.State = next.Seconds
			e.FormattedTime = FormatDuration(next.Seconds)
			e.DisplayText = UntilText(next.Seconds, lang)
			e.Degraded = next.Degraded
		}
		out = append(out, e)
	}

	out = append(out, windowEntities(res, tariff.Low, LowTariffStart, LowTariffEnd, LowTariffDuration, p)...)
	out = append(out, windowEntities(res, tariff.High, HighTariffStart, HighTariffEnd, HighTariffDuration, p)...)
	return out
}

// windowEntities describes the current window of kind k, or the next one
// when k is not active.
func windowEntities(res tariff.Result, k tariff.Kind, startKey, endKey, durKey string, p phrases) []Entity {
	var w *tariff.Window
	var degraded bool
	if res.Kind == k {
		w, degraded = &res.Window, res.Remaining.Degraded
	} else if w = res.Next(k).Window; w != nil {
		degraded = w.Estimated
	}
	if w == nil {
		return []Entity{
			{Key: startKey, DisplayText: p.unknown, Degraded: true},
			{Key: endKey, DisplayText: p.unknown, Degraded: true},
			{Key: durKey, Unit: "s", DisplayText: p.unknown, Degraded: true},
		}
	}
	loc := res.At.Location()
	start, end := w.Start.In(loc), w.End.In(loc)
	dur := int64(w.End.Sub(w.Start) / time.Second)
	return []Entity{
		{Key: startKey, State: start.Format("15:04"), FormattedTime: start.Format("15:04:05"), DisplayText: start.Format("15:04")},
		{Key: endKey, State: end.Format("15:04"), FormattedTime: end.Format("15:04:05"), DisplayText: end.Format("15:04"), Degraded: degraded},
		{Key: durKey, State: dur, Unit: "s", FormattedTime: FormatDuration(dur), DisplayText: FormatDuration(dur), Degraded: degraded},
	}
}

// Find returns the entity with key.
func Find(entities []Entity, key string) (Entity, bool) {
	for _, e := range entities {
		if e.Key == key {
			return e, true
		}
	}
	return Entity{}, false
}

var entityKeys = []string{
	LowTariffActive,
	LowTariffRemaining, HighTariffRemaining,
	NextLowTariffCountdown, NextHighTariffCountdown,
	LowTariffStart, LowTariffEnd, LowTariffDuration,
	HighTariffStart, HighTariffEnd, HighTariffDuration,
}

// UnknownEntities is the entity set reported when no schedule covers the
// instant.
func UnknownEntities(lang Language) []Entity {
	p := phrasesFor(lang)
	out := make([]Entity, 0, len(entityKeys))
	for _, key := range entityKeys {
		out = append(out, Entity{Key: key, DisplayText: p.unknown, Degraded: true})
	}
	return out
}
