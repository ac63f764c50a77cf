package model

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidDate is returned when a date string cannot be parsed into a
// calendar date.
var ErrInvalidDate = errors.New("invalid date")

const (
	// DateLayout is the override key format.
	DateLayout = "2006-01-02"
	// TimestampLayout matches JavaScript's Date.toISOString (always UTC).
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseDate parses a calendar date (YYYY-MM-DD) or an ISO timestamp.
// Plain dates are midnight in loc; timestamps keep their instant and are
// converted to loc so the wall-clock date is the local one.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return t, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// MondayOf returns midnight of the Monday on or before t, in t's location.
// Sunday belongs to the week that started six days earlier (ISO weeks).
func MondayOf(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return d.AddDate(0, 0, -(wd - 1))
}

// DateKey formats t as an override key (YYYY-MM-DD) in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// WeekKey returns the override key for the week containing t.
func WeekKey(t time.Time) string {
	return DateKey(MondayOf(t))
}

// FormatTimestamp renders t like Date.toISOString.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
