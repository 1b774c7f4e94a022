// Package present turns tariff query results into polled entity states with
// formatted times and display sentences.
package present

import (
	"fmt"
	"strings"

	"github.com/bher20/hdotariff/internal/tariff"
)

type Language string

const (
	English Language = "en"
	Czech   Language = "cs"
)

// ParseLanguage accepts "en" or "cs" (case-insensitive); empty means English.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case "", English:
		return English, nil
	case Czech:
		return Czech, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

type phrases struct {
	remaining        string
	remainingAtLeast string
	in               string
	notActive        string
	alreadyActive    string
	unknown          string
	low              string
	high             string
}

var catalog = map[Language]phrases{
	English: {
		remaining:        "Remaining %s",
		remainingAtLeast: "Remaining at least %s",
		in:               "In %s",
		notActive:        "Not active",
		alreadyActive:    "Already active",
		unknown:          "Unknown",
		low:              "Low tariff",
		high:             "High tariff",
	},
	Czech: {
		remaining:        "Zbývá %s",
		remainingAtLeast: "Zbývá nejméně %s",
		in:               "Za %s",
		notActive:        "Není aktivní",
		alreadyActive:    "Již aktivní",
		unknown:          "Neznámé",
		low:              "Nízký tarif",
		high:             "Vysoký tarif",
	},
}

func phrasesFor(lang Language) phrases {
	if p, ok := catalog[lang]; ok {
		return p
	}
	return catalog[English]
}

// FormatDuration renders seconds as HH:MM:SS. The hour field widens past 99.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

// RemainingText is the sentence for time left in the current window.
func RemainingText(seconds int64, degraded bool, lang Language) string {
	p := phrasesFor(lang)
	if degraded {
		return fmt.Sprintf(p.remainingAtLeast, FormatDuration(seconds))
	}
	return fmt.Sprintf(p.remaining, FormatDuration(seconds))
}

// UntilText is the sentence for time until the next window starts.
func UntilText(seconds int64, lang Language) string {
	return fmt.Sprintf(phrasesFor(lang).in, FormatDuration(seconds))
}

func KindText(k tariff.Kind, lang Language) string {
	if k == tariff.Low {
		return phrasesFor(lang).low
	}
	return phrasesFor(lang).high
}
