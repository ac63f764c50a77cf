package schedule

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"timetable/internal/model"
)

// TestCompact_TrimsTrailingEmpties verifies ["", "Math", "", ""] -> ["", "Math"].
func TestCompact_TrimsTrailingEmpties(t *testing.T) {
	s := newSchedule()
	s.Overrides["2025-01-06"] = model.Week{{"", "Math", "", ""}}

	got := Compact(s).Overrides["2025-01-06"][0]
	if !reflect.DeepEqual(got, model.Hours{"", "Math"}) {
		t.Errorf("day 0 = %q, want [\"\" \"Math\"]", got)
	}
}

// TestCompact_DropsHoursAboveMax verifies out-of-range hours do not survive.
func TestCompact_DropsHoursAboveMax(t *testing.T) {
	s := newSchedule()
	s.Permanent[0][1] = "Math"
	s.Permanent[0][model.MaxHours+1] = "Late"
	long := make(model.Hours, model.MaxHours+2)
	long[0] = "Gym"
	long[model.MaxHours+1] = "Late"
	s.Overrides["2025-01-06"] = model.Week{1: long}

	out := Compact(s)
	if want := map[int]string{1: "Math"}; !reflect.DeepEqual(out.Permanent[0], want) {
		t.Errorf("Permanent[0] = %v, want %v", out.Permanent[0], want)
	}
	if got := out.Overrides["2025-01-06"][1]; !reflect.DeepEqual(got, model.Hours{"Gym"}) {
		t.Errorf("day 1 = %q, want [Gym]", got)
	}
}

// TestCompact_PurePermanentCollapses verifies a day that exactly reproduces
// the baseline is emptied and the entry dropped when nothing else remains.
func TestCompact_PurePermanentCollapses(t *testing.T) {
	s := newSchedule()
	s.Permanent.Set(0, 1, "Math")
	s.Permanent.Set(0, 2, "English")
	s.Overrides["2025-01-06"] = model.Week{{"Math", "English"}}

	c := Compact(s)
	if _, ok := c.Overrides["2025-01-06"]; ok {
		t.Errorf("entry should be dropped, got %q", c.Overrides["2025-01-06"])
	}

	// With content on another day the entry stays and day 0 becomes empty.
	s.Overrides["2025-01-06"] = model.Week{{"Math", "English"}, {"Trip"}}
	c = Compact(s)
	w, ok := c.Overrides["2025-01-06"]
	if !ok {
		t.Fatal("entry dropped despite day 1 content")
	}
	if len(w[0]) != 0 {
		t.Errorf("day 0 = %q, want empty", w[0])
	}
	if !reflect.DeepEqual(w[1], model.Hours{"Trip"}) {
		t.Errorf("day 1 = %q", w[1])
	}
}

// TestCompact_PartialOverrideRetained verifies a day omitting a baseline hour
// is kept as an explicit override.
func TestCompact_PartialOverrideRetained(t *testing.T) {
	s := newSchedule()
	s.Permanent.Set(0, 1, "Math")
	s.Permanent.Set(0, 2, "English")
	s.Overrides["2025-01-06"] = model.Week{{"Math"}}

	w, ok := Compact(s).Overrides["2025-01-06"]
	if !ok {
		t.Fatal("partial override was dropped")
	}
	if !reflect.DeepEqual(w[0], model.Hours{"Math"}) {
		t.Errorf("day 0 = %q, want [Math]", w[0])
	}
}

// TestCompact_NoBaselineNeverCollapses verifies a day with no permanent
// hours is trimmed, not emptied.
func TestCompact_NoBaselineNeverCollapses(t *testing.T) {
	s := newSchedule()
	s.Overrides["2025-01-06"] = model.Week{nil, {"Art", ""}}

	w := Compact(s).Overrides["2025-01-06"]
	if !reflect.DeepEqual(w[1], model.Hours{"Art"}) {
		t.Errorf("day 1 = %q", w[1])
	}
}

// TestCompact_DropsEmptyEntries verifies entries without content disappear.
func TestCompact_DropsEmptyEntries(t *testing.T) {
	s := newSchedule()
	s.Overrides["2025-01-06"] = model.Week{{"", " "}, {}, nil}
	s.Overrides["2025-01-13"] = model.Week{}

	if c := Compact(s); len(c.Overrides) != 0 {
		t.Errorf("Overrides = %v, want none", c.Overrides)
	}
}

// TestCompact_NormalizesPlaceholders verifies inner blank cells become "".
func TestCompact_NormalizesPlaceholders(t *testing.T) {
	s := newSchedule()
	s.Overrides["2025-01-06"] = model.Week{{"  ", "Math"}}
	s.Permanent[3][0] = "ignored"
	s.Permanent[3][2] = "   "

	c := Compact(s)
	if got := c.Overrides["2025-01-06"][0]; !reflect.DeepEqual(got, model.Hours{"", "Math"}) {
		t.Errorf("day 0 = %q", got)
	}
	if len(c.Permanent[3]) != 0 {
		t.Errorf("Permanent[3] = %v, want empty", c.Permanent[3])
	}
}

// TestCompact_DoesNotMutateInput verifies the caller's record is untouched.
func TestCompact_DoesNotMutateInput(t *testing.T) {
	s := newSchedule()
	s.Permanent.Set(0, 1, "Math")
	s.Overrides["2025-01-06"] = model.Week{{"Math"}, {"", "Gym", ""}}
	s.Overrides["2025-01-13"] = model.Week{{""}}
	before := s.Clone()

	_ = Compact(s)
	if !reflect.DeepEqual(before, s) {
		t.Error("Compact modified its input")
	}
}

// randomSchedule builds a record from a small vocabulary so that overrides
// frequently coincide with the baseline.
func randomSchedule(r *rand.Rand) model.Schedule {
	vocab := []string{"", "", " ", "Math", "English", "Gym", "Art"}
	s := newSchedule()
	for d := 0; d < model.DaysPerWeek; d++ {
		for h := 1; h <= 4; h++ {
			if r.Intn(2) == 0 {
				s.Permanent[d][h] = vocab[r.Intn(len(vocab))]
			}
		}
	}
	weeks := r.Intn(4)
	for i := 0; i < weeks; i++ {
		key := model.DateKey(monday6.AddDate(0, 0, 7*i))
		var w model.Week
		for d := 0; d < model.DaysPerWeek; d++ {
			switch r.Intn(3) {
			case 0:
				continue
			case 1:
				// Copy of the baseline, sometimes with a gap or an extra hour.
				n := s.Permanent.MaxHour(d)
				h := make(model.Hours, n)
				for j := range h {
					h[j] = s.Permanent[d][j+1]
				}
				if n > 0 && r.Intn(3) == 0 {
					h[r.Intn(n)] = ""
				}
				if r.Intn(3) == 0 {
					h = append(h, "", vocab[r.Intn(len(vocab))])
				}
				w[d] = h
			default:
				n := r.Intn(6)
				h := make(model.Hours, n)
				for j := range h {
					h[j] = vocab[r.Intn(len(vocab))]
				}
				w[d] = h
			}
		}
		s.Overrides[key] = w
	}
	return s
}

// TestCompact_Properties checks idempotence and resolver equivalence on
// generated records.
func TestCompact_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(20250106))
	weeks := []time.Time{monday6, monday6.AddDate(0, 0, 9), monday6.AddDate(0, 0, 20)}

	for i := 0; i < 500; i++ {
		s := randomSchedule(r)
		once := Compact(s)
		twice := Compact(once)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("case %d: not idempotent\nonce:  %+v\ntwice: %+v", i, once, twice)
		}

		for _, w := range weeks {
			a, err := ResolveWeek(s, w)
			if err != nil {
				t.Fatal(err)
			}
			b, err := ResolveWeek(once, w)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(a.Contents(), b.Contents()) {
				t.Fatalf("case %d week %s: contents differ\nbefore: %q\nafter:  %q",
					i, model.DateKey(w), a.Contents(), b.Contents())
			}
		}

		for _, week := range once.Overrides {
			for d, h := range week {
				if len(h) != h.LogicalLen() {
					t.Fatalf("case %d: day %d keeps trailing empties: %q", i, d, h)
				}
			}
		}
	}
}
