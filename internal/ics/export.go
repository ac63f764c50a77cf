// Package ics renders resolved timetable weeks as an iCalendar feed.
package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"timetable/internal/config"
	"timetable/internal/model"
	"timetable/internal/schedule"
)

const productID = "-//timetable//class timetable export//EN"

// ErrBadPeriod is returned when a configured period is not HH:MM.
var ErrBadPeriod = errors.New("ics: period times must be HH:MM")

// Options controls an export.
type Options struct {
	// Periods maps hour h to Periods[h-1]. Hours without a period are skipped.
	Periods []config.Period
	// Location gives the wall clock of the periods. Nil means time.Local.
	Location *time.Location
	// Now stamps DTSTAMP. Zero means time.Now.
	Now time.Time
}

type clock struct {
	hour, min int
}

type slot struct {
	start, end clock
}

func parseClock(s string) (clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return clock{}, fmt.Errorf("%w: %q", ErrBadPeriod, s)
	}
	return clock{hour: t.Hour(), min: t.Minute()}, nil
}

func parsePeriods(periods []config.Period) ([]slot, error) {
	out := make([]slot, 0, len(periods))
	for _, p := range periods {
		start, err := parseClock(p.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseClock(p.End)
		if err != nil {
			return nil, err
		}
		out = append(out, slot{start: start, end: end})
	}
	return out, nil
}

// UID returns the stable event identifier of one lesson.
func UID(fileID string, date time.Time, hour int) string {
	return fmt.Sprintf("%s-%s-%d@timetable", fileID, model.DateKey(date), hour)
}

// Export renders every non-empty effective cell dated within [from, to] as a
// VEVENT. Re-exporting the same range yields the same UIDs.
func Export(s model.Schedule, from, to time.Time, opts Options) ([]byte, error) {
	slots, err := parsePeriods(opts.Periods)
	if err != nil {
		return nil, err
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	views, err := schedule.ResolveRange(s, from, to)
	if err != nil {
		return nil, err
	}
	first, last := model.DateKey(from), model.DateKey(to)

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if s.ClassName != "" {
		cal.SetXWRCalName(s.ClassName)
	}

	for _, v := range views {
		for _, day := range v.Days {
			if day.DateKey < first || day.DateKey > last {
				continue
			}
			for _, c := range day.Cells {
				if model.IsEmpty(c.Content) || c.Hour > len(slots) {
					continue
				}
				sl := slots[c.Hour-1]
				y, m, d := c.Date.Date()

				ev := cal.AddEvent(UID(s.FileID, c.Date, c.Hour))
				ev.SetDtStampTime(now)
				ev.SetStartAt(time.Date(y, m, d, sl.start.hour, sl.start.min, 0, 0, loc))
				ev.SetEndAt(time.Date(y, m, d, sl.end.hour, sl.end.min, 0, 0, loc))
				ev.SetSummary(strings.TrimSpace(c.Content))
				if s.ClassName != "" {
					ev.SetLocation(s.ClassName)
				}
				ev.SetDescription(fmt.Sprintf("Hour %d (%s)", c.Hour, c.Origin))
			}
		}
	}
	return []byte(cal.Serialize()), nil
}
