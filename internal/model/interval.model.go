package model

import (
	"strings"
	"time"
)

// Interval is a recurrence period. Stored values use the short form.
type Interval string

const (
	IntervalDaily    Interval = "day"
	IntervalWeekly   Interval = "week"
	IntervalBiWeekly Interval = "bi-week"
	IntervalMonthly  Interval = "month"
	IntervalBiYearly Interval = "bi-yearly"
	IntervalYearly   Interval = "year"
)

var intervalAliases = map[string]Interval{
	"day":       IntervalDaily,
	"daily":     IntervalDaily,
	"week":      IntervalWeekly,
	"weekly":    IntervalWeekly,
	"bi-week":   IntervalBiWeekly,
	"biweek":    IntervalBiWeekly,
	"biweekly":  IntervalBiWeekly,
	"bi-weekly": IntervalBiWeekly,
	"month":     IntervalMonthly,
	"monthly":   IntervalMonthly,
	"bi-yearly": IntervalBiYearly,
	"biyearly":  IntervalBiYearly,
	"year":      IntervalYearly,
	"yearly":    IntervalYearly,
}

// Normalize maps known spellings onto the canonical interval; anything else is daily.
func (i Interval) Normalize() Interval {
	if v, ok := intervalAliases[strings.ToLower(strings.TrimSpace(string(i)))]; ok {
		return v
	}
	return IntervalDaily
}

const DefaultTimeZone = "America/New_York"

// LoadLocation resolves an IANA zone name, falling back to DefaultTimeZone when empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	return time.LoadLocation(name)
}
