package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"
)

// wireSchedule is the on-disk / on-the-wire shape of a Schedule.
type wireSchedule struct {
	ClassName      string                       `json:"className"`
	FileID         string                       `json:"fileId"`
	Data           map[string][][]string        `json:"data"`
	PermanentHours map[string]map[string]string `json:"permanentHours"`
	CurrentWeek    string                       `json:"currentWeek"`
	Info           string                       `json:"info"`
	Calendar       string                       `json:"calendar"`
}

// MarshalJSON writes the canonical record shape: every override entry has
// five day arrays and permanentHours always lists days "0".."4".
func (s Schedule) MarshalJSON() ([]byte, error) {
	w := wireSchedule{
		ClassName:      s.ClassName,
		FileID:         s.FileID,
		Data:           make(map[string][][]string, len(s.Overrides)),
		PermanentHours: make(map[string]map[string]string, DaysPerWeek),
		Info:           s.Info,
		Calendar:       s.Calendar,
	}
	for key, week := range s.Overrides {
		days := make([][]string, DaysPerWeek)
		for d, h := range week {
			days[d] = append([]string{}, h...)
		}
		w.Data[key] = days
	}
	for d, hours := range s.Permanent {
		m := make(map[string]string, len(hours))
		for h, v := range hours {
			m[strconv.Itoa(h)] = v
		}
		w.PermanentHours[strconv.Itoa(d)] = m
	}
	if !s.CurrentWeek.IsZero() {
		w.CurrentWeek = FormatTimestamp(s.CurrentWeek)
	}
	return json.Marshal(w)
}

// rawSchedule defers decoding of every field so that a malformed field falls
// back to its empty default instead of failing the whole record.
type rawSchedule struct {
	ClassName      json.RawMessage `json:"className"`
	FileID         json.RawMessage `json:"fileId"`
	Data           json.RawMessage `json:"data"`
	PermanentHours json.RawMessage `json:"permanentHours"`
	CurrentWeek    json.RawMessage `json:"currentWeek"`
	Info           json.RawMessage `json:"info"`
	Calendar       json.RawMessage `json:"calendar"`
}

var errNotObject = errors.New("schedule record is not a JSON object")

// UnmarshalJSON is lenient: only a document that is not a JSON object is an
// error. Missing or malformed fields decode to their zero value; legacy
// cell objects ({"content": ...}) and hour-keyed day objects are accepted;
// override keys that are not Mondays are re-anchored to their week's Monday.
func (s *Schedule) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return errNotObject
	}
	var raw rawSchedule
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	overrides, rec := decodeOverrides(raw.Data)
	*s = Schedule{
		ClassName: decodeString(raw.ClassName),
		FileID:    decodeString(raw.FileID),
		Overrides: overrides,
		Permanent: decodePermanent(raw.PermanentHours),
		Info:      decodeString(raw.Info),
		Calendar:  decodeString(raw.Calendar),
	}
	applyRecurring(s, rec)
	if cw := decodeString(raw.CurrentWeek); cw != "" {
		if t, err := ParseDate(cw, time.Local); err == nil {
			s.CurrentWeek = t
		}
	}
	return nil
}

func decodeString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// legacyCell is the object form of a cell. isPermanent cells recur in every
// week of their dateRange; without a usable range they recur in all weeks.
type legacyCell struct {
	Content     json.RawMessage `json:"content"`
	IsPermanent bool            `json:"isPermanent"`
	DateRange   *struct {
		AllWeeks bool   `json:"allWeeks"`
		FromDate string `json:"fromDate"`
		ToDate   string `json:"toDate"`
	} `json:"dateRange"`
}

// recurring is a permanent hour read from a legacy cell. An empty from/to
// means every week; otherwise it covers the weeks whose Monday lies in
// [from, to].
type recurring struct {
	week     string
	day      int
	hour     int
	content  string
	from, to string
}

// decodeCell accepts a plain string or a legacy {"content": "..."} object.
// The second result is set for legacy permanent cells.
func decodeCell(raw json.RawMessage) (string, *recurring) {
	if s := decodeString(raw); s != "" {
		return s, nil
	}
	var obj legacyCell
	if json.Unmarshal(raw, &obj) != nil {
		return "", nil
	}
	content := decodeString(obj.Content)
	if !obj.IsPermanent || IsEmpty(content) {
		return content, nil
	}
	r := &recurring{content: content}
	if dr := obj.DateRange; dr != nil && !dr.AllWeeks {
		from, errFrom := ParseDate(dr.FromDate, time.UTC)
		to, errTo := ParseDate(dr.ToDate, time.UTC)
		if errFrom == nil && errTo == nil && !to.Before(from) {
			r.from, r.to = DateKey(from), DateKey(to)
		}
	}
	return content, r
}

// decodeIndexed decodes either a JSON array or an object keyed by decimal
// indices into index -> raw element. offset is subtracted from object keys
// only; array positions are used as-is.
func decodeIndexed(raw json.RawMessage, offset int) map[int]json.RawMessage {
	out := map[int]json.RawMessage{}
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil {
		for i, v := range arr {
			out[i] = v
		}
		return out
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return out
	}
	for k, v := range obj {
		n, err := strconv.Atoi(k)
		if err != nil || n-offset < 0 {
			continue
		}
		out[n-offset] = v
	}
	return out
}

// decodeHours reads a day as an array of cells or an object keyed by
// 1-based hour. Hours above MaxHours are dropped.
func decodeHours(raw json.RawMessage) (Hours, []recurring) {
	cells := decodeIndexed(raw, 1)
	max := -1
	for i := range cells {
		if i > max && i < MaxHours {
			max = i
		}
	}
	if max < 0 {
		return Hours{}, nil
	}
	h := make(Hours, max+1)
	var rec []recurring
	for i, v := range cells {
		if i >= MaxHours {
			continue
		}
		content, r := decodeCell(v)
		h[i] = content
		if r != nil {
			r.hour = i + 1
			rec = append(rec, *r)
		}
	}
	return h, rec
}

func decodeWeek(raw json.RawMessage) (Week, []recurring) {
	var w Week
	var rec []recurring
	for d, v := range decodeIndexed(raw, 0) {
		if d >= DaysPerWeek {
			continue
		}
		h, r := decodeHours(v)
		w[d] = h
		for i := range r {
			r[i].day = d
		}
		rec = append(rec, r...)
	}
	return w, rec
}

func decodeOverrides(raw json.RawMessage) (map[string]Week, []recurring) {
	out := map[string]Week{}
	var obj map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return out, nil
	}

	type entry struct {
		key  string
		week Week
	}
	var strays []entry
	var rec []recurring
	for key, v := range obj {
		t, err := ParseDate(key, time.UTC)
		if err != nil {
			continue
		}
		monday := WeekKey(t)
		w, r := decodeWeek(v)
		for i := range r {
			r[i].week = monday
		}
		rec = append(rec, r...)
		if DateKey(t) == key && monday == key {
			out[key] = w
			continue
		}
		strays = append(strays, entry{key: monday, week: w})
	}

	// Cells already stored under the Monday key win over re-anchored ones.
	sort.SliceStable(strays, func(i, j int) bool { return strays[i].key < strays[j].key })
	for _, e := range strays {
		out[e.key] = mergeWeek(out[e.key], e.week)
	}
	sort.Slice(rec, func(i, j int) bool {
		a, b := rec[i], rec[j]
		if a.week != b.week {
			return a.week < b.week
		}
		if a.day != b.day {
			return a.day < b.day
		}
		return a.hour < b.hour
	})
	return out, rec
}

// maxRecurringWeeks bounds how many weeks one dated legacy permanent cell
// is copied into.
const maxRecurringWeeks = 260

// applyRecurring folds legacy permanent cells into the schedule. All-week
// cells join the baseline unless that hour is already filled, and leave
// their source week when the baseline now shows them. Dated cells become overrides in every week
// of their range where that hour is still empty.
func applyRecurring(s *Schedule, rec []recurring) {
	for _, r := range rec {
		if r.from == "" {
			if IsEmpty(s.Permanent.Get(r.day, r.hour)) {
				s.Permanent.Set(r.day, r.hour, r.content)
			}
			if s.Permanent.Get(r.day, r.hour) != r.content {
				continue
			}
			if w, ok := s.Overrides[r.week]; ok && w[r.day].At(r.hour) == r.content {
				h := append(Hours{}, w[r.day]...)
				h[r.hour-1] = ""
				w[r.day] = h
				s.Overrides[r.week] = w
			}
			continue
		}

		from, _ := ParseDate(r.from, time.UTC)
		m := MondayOf(from)
		if DateKey(m) < r.from {
			m = m.AddDate(0, 0, 7)
		}
		for i := 0; i < maxRecurringWeeks && DateKey(m) <= r.to; i++ {
			key := DateKey(m)
			w := s.Overrides[key]
			if IsEmpty(w[r.day].At(r.hour)) {
				h := append(Hours{}, w[r.day]...)
				for len(h) < r.hour {
					h = append(h, "")
				}
				h[r.hour-1] = r.content
				w[r.day] = h
				s.Overrides[key] = w
			}
			m = m.AddDate(0, 0, 7)
		}
	}
}

func mergeWeek(primary, extra Week) Week {
	for d := range primary {
		h := primary[d]
		for i, v := range extra[d] {
			if IsEmpty(v) {
				continue
			}
			for len(h) <= i {
				h = append(h, "")
			}
			if IsEmpty(h[i]) {
				h[i] = v
			}
		}
		primary[d] = h
	}
	return primary
}

func decodePermanent(raw json.RawMessage) Permanent {
	p := NewPermanent()
	if len(raw) == 0 {
		return p
	}
	for d, dayRaw := range decodeIndexed(raw, 0) {
		if d >= DaysPerWeek {
			continue
		}
		var hours map[string]json.RawMessage
		if json.Unmarshal(dayRaw, &hours) != nil {
			continue
		}
		for k, v := range hours {
			h, err := strconv.Atoi(k)
			if err != nil || !ValidHour(h) {
				continue
			}
			if c, _ := decodeCell(v); !IsEmpty(c) {
				p[d][h] = c
			}
		}
	}
	return p
}
