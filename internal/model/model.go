package model

import (
	"strings"
	"time"
)

// DaysPerWeek is the number of school days in a week (Monday..Friday).
const DaysPerWeek = 5

// MaxHours is the highest lesson hour a day can hold. Hours above it are
// rejected by edits and dropped when records are decoded.
const MaxHours = 16

// ValidHour reports whether hour is within 1..MaxHours.
func ValidHour(hour int) bool {
	return hour >= 1 && hour <= MaxHours
}

// Hours is one day's lesson contents; index 0 is hour 1. Empty strings before
// the last non-empty entry are positional placeholders.
type Hours []string

// Week is one override entry: the five school days of a week, index 0 = Monday.
type Week [DaysPerWeek]Hours

// Permanent is the recurring weekly baseline: day index -> hour (1-based) -> content.
type Permanent [DaysPerWeek]map[int]string

// Schedule is the stored record of one class's timetable.
//
// FileID is the immutable storage key; ClassName is a mutable label.
// Overrides are keyed by the ISO date (YYYY-MM-DD) of the week's Monday.
type Schedule struct {
	ClassName   string
	FileID      string
	Overrides   map[string]Week
	Permanent   Permanent
	CurrentWeek time.Time

	// Info is a free-text (markdown) description of the class.
	Info string
	// Calendar is carried through unchanged.
	Calendar string
}

// NewSchedule returns an empty schedule whose current week is the Monday of now.
func NewSchedule(className, fileID string, now time.Time) Schedule {
	return Schedule{
		ClassName:   className,
		FileID:      fileID,
		Overrides:   map[string]Week{},
		Permanent:   NewPermanent(),
		CurrentWeek: MondayOf(now),
	}
}

// NewPermanent returns a baseline with an empty (non-nil) map per day.
func NewPermanent() Permanent {
	var p Permanent
	for d := range p {
		p[d] = map[int]string{}
	}
	return p
}

// IsEmpty reports whether a cell has no content. Whitespace-only counts as empty.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// At returns the content of hour (1-based), or "" when out of range.
func (h Hours) At(hour int) string {
	if hour < 1 || hour > len(h) {
		return ""
	}
	return h[hour-1]
}

// LogicalLen is the index of the last non-empty entry + 1.
func (h Hours) LogicalLen() int {
	for i := len(h) - 1; i >= 0; i-- {
		if !IsEmpty(h[i]) {
			return i + 1
		}
	}
	return 0
}

// HasContent reports whether any hour is non-empty.
func (h Hours) HasContent() bool {
	return h.LogicalLen() > 0
}

// HasContent reports whether any day of the week has a non-empty hour.
func (w Week) HasContent() bool {
	for _, h := range w {
		if h.HasContent() {
			return true
		}
	}
	return false
}

// Get returns the permanent content of day/hour, or "".
func (p Permanent) Get(day, hour int) string {
	if day < 0 || day >= DaysPerWeek {
		return ""
	}
	return p[day][hour]
}

// Set stores content for day/hour; empty content removes the entry.
// Out-of-range days and hours are ignored.
func (p *Permanent) Set(day, hour int, content string) {
	if day < 0 || day >= DaysPerWeek || !ValidHour(hour) {
		return
	}
	if IsEmpty(content) {
		delete(p[day], hour)
		return
	}
	if p[day] == nil {
		p[day] = map[int]string{}
	}
	p[day][hour] = content
}

// MaxHour returns the highest hour index with non-empty content for day.
func (p Permanent) MaxHour(day int) int {
	max := 0
	if day < 0 || day >= DaysPerWeek {
		return 0
	}
	for h, v := range p[day] {
		if h > max && ValidHour(h) && !IsEmpty(v) {
			max = h
		}
	}
	return max
}

// DayEmpty reports whether day has no non-empty permanent hour.
func (p Permanent) DayEmpty(day int) bool {
	return p.MaxHour(day) == 0
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s Schedule) Clone() Schedule {
	out := s
	out.Overrides = make(map[string]Week, len(s.Overrides))
	for k, w := range s.Overrides {
		var cw Week
		for d, h := range w {
			if h != nil {
				cw[d] = append(Hours{}, h...)
			}
		}
		out.Overrides[k] = cw
	}
	for d := range s.Permanent {
		if s.Permanent[d] == nil {
			out.Permanent[d] = nil
			continue
		}
		m := make(map[int]string, len(s.Permanent[d]))
		for h, v := range s.Permanent[d] {
			m[h] = v
		}
		out.Permanent[d] = m
	}
	return out
}
