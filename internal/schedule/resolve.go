// Package schedule holds the timetable semantics: resolving the effective
// week view from permanent hours and overrides, compacting stored records,
// and applying edits.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"timetable/internal/model"
)

// ErrInvalidDate is returned when a target date cannot be parsed.
var ErrInvalidDate = model.ErrInvalidDate

// ErrRangeTooLong is returned when a range spans more than maxRangeWeeks weeks.
var ErrRangeTooLong = fmt.Errorf("schedule: range spans more than %d weeks", maxRangeWeeks)

// Origin tells where a cell's effective content comes from.
type Origin string

const (
	OriginEmpty     Origin = "empty"
	OriginPermanent Origin = "permanent"
	OriginOverride  Origin = "override"
)

// maxRangeWeeks caps WeekMondays and ResolveRange.
const maxRangeWeeks = 260

// Cell is one resolved day/hour slot.
type Cell struct {
	Day      int       `json:"day"`
	Date     time.Time `json:"-"`
	DateKey  string    `json:"date"`
	Hour     int       `json:"hour"`
	Content  string    `json:"content"`
	Origin   Origin    `json:"origin"`
	Editable bool      `json:"editable"`
}

// DayView is one resolved weekday.
type DayView struct {
	Index   int       `json:"index"`
	Date    time.Time `json:"-"`
	DateKey string    `json:"date"`
	Cells   []Cell    `json:"cells"`
}

// WeekView is the effective grid for one Monday..Friday week.
type WeekView struct {
	Monday  time.Time                   `json:"-"`
	WeekKey string                      `json:"week"`
	Days    [model.DaysPerWeek]DayView `json:"days"`
}

// Width returns the widest day in the view.
func (v WeekView) Width() int {
	w := 0
	for _, d := range v.Days {
		if len(d.Cells) > w {
			w = len(d.Cells)
		}
	}
	return w
}

// Contents returns the effective values per day, trimmed of trailing empty
// cells. Two views with equal Contents show the same timetable even when a
// cell's origin differs.
func (v WeekView) Contents() [model.DaysPerWeek][]string {
	var out [model.DaysPerWeek][]string
	for d, day := range v.Days {
		h := make(model.Hours, len(day.Cells))
		for i, c := range day.Cells {
			h[i] = c.Content
		}
		out[d] = append([]string{}, h[:h.LogicalLen()]...)
	}
	return out
}

// Resolve parses raw (YYYY-MM-DD or ISO timestamp, local wall clock) and
// resolves its week.
func Resolve(s model.Schedule, raw string) (WeekView, error) {
	t, err := model.ParseDate(raw, time.Local)
	if err != nil {
		return WeekView{}, err
	}
	return ResolveWeek(s, t)
}

// ResolveWeek computes the effective view of the week containing target.
//
// Precedence per cell: non-empty override > non-empty permanent > empty.
// Each day spans hours 1..N where N is the larger of the day's widest
// permanent hour and the logical length of its override list, capped at
// model.MaxHours.
//
// PRE: target is a real date (non-zero)
// POST: s is not modified
func ResolveWeek(s model.Schedule, target time.Time) (WeekView, error) {
	return ResolveWeekWidth(s, target, 0)
}

// ResolveWeekWidth is ResolveWeek with every day padded to at least minHours
// cells, for callers whose grid has a fixed number of columns.
func ResolveWeekWidth(s model.Schedule, target time.Time, minHours int) (WeekView, error) {
	if target.IsZero() {
		return WeekView{}, ErrInvalidDate
	}

	monday := model.MondayOf(target)
	key := model.DateKey(monday)
	override := s.Overrides[key]

	view := WeekView{Monday: monday, WeekKey: key}
	for d := 0; d < model.DaysPerWeek; d++ {
		date := monday.AddDate(0, 0, d)
		dayOverride := override[d]

		n := s.Permanent.MaxHour(d)
		if l := dayOverride.LogicalLen(); l > n {
			n = l
		}
		if minHours > n {
			n = minHours
		}
		if n > model.MaxHours {
			n = model.MaxHours
		}

		day := DayView{
			Index:   d,
			Date:    date,
			DateKey: model.DateKey(date),
			Cells:   make([]Cell, 0, n),
		}
		for hour := 1; hour <= n; hour++ {
			day.Cells = append(day.Cells, resolveCell(s.Permanent, dayOverride, d, hour, date))
		}
		view.Days[d] = day
	}
	return view, nil
}

func resolveCell(p model.Permanent, override model.Hours, day, hour int, date time.Time) Cell {
	c := Cell{
		Day:     day,
		Date:    date,
		DateKey: model.DateKey(date),
		Hour:    hour,
		Origin:  OriginEmpty,
	}
	if v := override.At(hour); !model.IsEmpty(v) {
		c.Content = v
		c.Origin = OriginOverride
		c.Editable = true
		return c
	}
	if v := p.Get(day, hour); !model.IsEmpty(v) {
		c.Content = v
		c.Origin = OriginPermanent
		return c
	}
	c.Editable = true
	return c
}

// WeekMondays lists the Mondays of every week intersecting [from, to]. A
// range of more than maxRangeWeeks weeks is rejected with ErrRangeTooLong.
func WeekMondays(from, to time.Time) ([]time.Time, error) {
	if from.IsZero() || to.IsZero() {
		return nil, ErrInvalidDate
	}
	if to.Before(from) {
		return nil, errors.New("schedule: range end is before range start")
	}

	start := model.MondayOf(from)
	if !start.AddDate(0, 0, 7*maxRangeWeeks).After(model.MondayOf(to)) {
		return nil, ErrRangeTooLong
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   start,
		Until:     to,
		Byweekday: []rrule.Weekday{rrule.MO},
		Count:     maxRangeWeeks,
	})
	if err != nil {
		return nil, err
	}
	return r.All(), nil
}

// ResolveRange resolves every week intersecting [from, to], oldest first.
func ResolveRange(s model.Schedule, from, to time.Time) ([]WeekView, error) {
	mondays, err := WeekMondays(from, to)
	if err != nil {
		return nil, err
	}
	views := make([]WeekView, 0, len(mondays))
	for _, m := range mondays {
		v, err := ResolveWeek(s, m)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}
