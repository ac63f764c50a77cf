package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"timetable/internal/model"
)

// Mutation errors
var (
	ErrInvalidDay  = errors.New("day must be between 0 (Monday) and 4 (Friday)")
	ErrInvalidHour = fmt.Errorf("hour must be between 1 and %d", model.MaxHours)
	ErrEmptyName   = errors.New("class name cannot be empty")
)

func checkCell(day, hour int) error {
	if day < 0 || day >= model.DaysPerWeek {
		return ErrInvalidDay
	}
	if !model.ValidHour(hour) {
		return ErrInvalidHour
	}
	return nil
}

// SetCell records a one-off override for day/hour in the week containing
// week. Empty content clears the override so the cell falls back to the
// permanent baseline.
// PRE: s.Overrides may be nil
// POST: ResolveWeek(*s, week) shows content at day/hour when content is non-empty
func SetCell(s *model.Schedule, week time.Time, day, hour int, content string) error {
	if week.IsZero() {
		return ErrInvalidDate
	}
	if err := checkCell(day, hour); err != nil {
		return err
	}
	if s.Overrides == nil {
		s.Overrides = map[string]model.Week{}
	}

	key := model.WeekKey(week)
	w := s.Overrides[key]
	h := append(model.Hours{}, w[day]...)
	for len(h) < hour {
		h = append(h, "")
	}
	h[hour-1] = content
	w[day] = h
	s.Overrides[key] = w
	return nil
}

// PromoteToPermanent copies the effective content of day/hour in the week
// containing week into the permanent baseline. Promoting an empty cell
// removes the permanent hour. Overrides that now duplicate the baseline are
// left for Compact to reconcile.
func PromoteToPermanent(s *model.Schedule, week time.Time, day, hour int) error {
	if week.IsZero() {
		return ErrInvalidDate
	}
	if err := checkCell(day, hour); err != nil {
		return err
	}
	v, err := ResolveWeekWidth(*s, week, hour)
	if err != nil {
		return err
	}
	s.Permanent.Set(day, hour, v.Days[day].Cells[hour-1].Content)
	return nil
}

// SetPermanent writes content straight into the baseline; empty content
// removes the hour.
func SetPermanent(s *model.Schedule, day, hour int, content string) error {
	if err := checkCell(day, hour); err != nil {
		return err
	}
	s.Permanent.Set(day, hour, content)
	return nil
}

// ClearWeek removes every override of the week containing week.
func ClearWeek(s *model.Schedule, week time.Time) error {
	if week.IsZero() {
		return ErrInvalidDate
	}
	delete(s.Overrides, model.WeekKey(week))
	return nil
}

// Rename changes the display name. The FileID is never touched.
func Rename(s *model.Schedule, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	s.ClassName = name
	return nil
}

// SetInfo replaces the class description.
func SetInfo(s *model.Schedule, info string) {
	s.Info = strings.TrimSpace(info)
}

// SetCurrentWeek remembers the week last shown to the user.
func SetCurrentWeek(s *model.Schedule, t time.Time) error {
	if t.IsZero() {
		return ErrInvalidDate
	}
	s.CurrentWeek = model.MondayOf(t)
	return nil
}
