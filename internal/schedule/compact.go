package schedule

import (
	"timetable/internal/model"
)

// Compact returns the minimal record equivalent to s. It never fails and
// never modifies s.
//
//   - permanent hours: empty values, hours < 1 are dropped
//   - an override entry without content is dropped
//   - a day that reproduces its permanent day exactly becomes an empty list
//   - other days lose their trailing empty hours; earlier empties stay as
//     positional placeholders ("")
//   - an entry left without content is dropped
//
// POST: ResolveWeek(Compact(s), d).Contents() == ResolveWeek(s, d).Contents() for all d
// POST: Compact(Compact(s)) == Compact(s)
func Compact(s model.Schedule) model.Schedule {
	out := s.Clone()
	out.Permanent = compactPermanent(s.Permanent)
	out.Overrides = make(map[string]model.Week, len(s.Overrides))

	for key, week := range s.Overrides {
		if !week.HasContent() {
			continue
		}
		var cw model.Week
		for d, hours := range week {
			if isPurePermanent(hours, out.Permanent[d]) {
				cw[d] = model.Hours{}
				continue
			}
			cw[d] = trimHours(hours)
		}
		if !cw.HasContent() {
			continue
		}
		out.Overrides[key] = cw
	}
	return out
}

func compactPermanent(p model.Permanent) model.Permanent {
	out := model.NewPermanent()
	for d, hours := range p {
		for h, v := range hours {
			if !model.ValidHour(h) || model.IsEmpty(v) {
				continue
			}
			out[d][h] = v
		}
	}
	return out
}

// isPurePermanent reports whether a day's override carries nothing beyond
// its permanent baseline: every non-empty hour equals the permanent value at
// that hour, and every permanent hour is present with the same value.
// A day that omits a permanent hour is a real deviation and is not pure.
func isPurePermanent(hours model.Hours, permanent map[int]string) bool {
	if len(permanent) == 0 || hours == nil {
		return false
	}
	for i, v := range hours {
		if model.IsEmpty(v) {
			continue
		}
		if p, ok := permanent[i+1]; !ok || p != v {
			return false
		}
	}
	for h, p := range permanent {
		if h > len(hours) || hours[h-1] != p {
			return false
		}
	}
	return true
}

// trimHours drops trailing empty entries and normalizes inner blanks to "".
func trimHours(hours model.Hours) model.Hours {
	if len(hours) > model.MaxHours {
		hours = hours[:model.MaxHours]
	}
	n := hours.LogicalLen()
	out := make(model.Hours, n)
	for i := 0; i < n; i++ {
		if model.IsEmpty(hours[i]) {
			continue
		}
		out[i] = hours[i]
	}
	return out
}
