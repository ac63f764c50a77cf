package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"timetable/internal/ics"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/schedule"
	"timetable/internal/store"
)

// actor names the admin behind a request, for logs.
func actor(r *http.Request) string {
	if c, ok := r.Context().Value(claimsKey{}).(*sessionClaims); ok {
		return c.Abbreviation
	}
	return ""
}

func (s *Server) handleListTimetables(w http.ResponseWriter, r *http.Request) {
	names, err := s.timetable.ListClassNames(r.Context())
	if err != nil {
		fail(w, "list timetables failed", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

type createTimetableRequest struct {
	Name        string `json:"name" validate:"required"`
	Info        string `json:"info"`
	Description string `json:"description"`
}

func (s *Server) handleCreateTimetable(w http.ResponseWriter, r *http.Request) {
	var req createTimetableRequest
	if err := s.decodeJSON(r, &req); err != nil {
		fail(w, "create timetable: bad request", err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	info := req.Info
	if info == "" {
		info = req.Description
	}

	id, err := s.timetable.Create(r.Context(), name, info)
	if err != nil {
		fail(w, "create timetable failed", err, "class", name)
		return
	}
	appLog.Info("timetable created", "class", name, "file_id", id, "by", actor(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "fileId": id, "className": name})
}

func (s *Server) handleResetTimetables(w http.ResponseWriter, r *http.Request) {
	n, err := s.timetable.DeleteAll(r.Context())
	if err != nil {
		fail(w, "reset timetables failed", err)
		return
	}
	appLog.Warn("all timetables deleted", "count", n, "by", actor(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

// findByName resolves the {name} path segment to the newest record.
func (s *Server) findByName(r *http.Request) (model.Schedule, error) {
	return s.timetable.FindByClassName(r.Context(), r.PathValue("name"))
}

func (s *Server) handleGetTimetable(w http.ResponseWriter, r *http.Request) {
	sch, err := s.findByName(r)
	if err != nil {
		fail(w, "get timetable failed", err, "class", r.PathValue("name"))
		return
	}
	doc, err := s.recordWithInfoHTML(sch)
	if err != nil {
		fail(w, "get timetable: render", err, "class", sch.ClassName)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// recordWithInfoHTML returns the stored record shape plus infoHtml, the
// markdown description rendered by goldmark.
func (s *Server) recordWithInfoHTML(sch model.Schedule) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(sch)
	if err != nil {
		return nil, err
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(sch.Info), &buf); err != nil {
		return nil, err
	}
	html, err := json.Marshal(buf.String())
	if err != nil {
		return nil, err
	}
	doc["infoHtml"] = html
	return doc, nil
}

// putFields are the record fields a PUT may replace. Absent fields keep
// their stored value.
var putFields = []string{"data", "info", "calendar", "currentWeek", "permanentHours"}

// handlePutTimetable replaces the record identified by the body's fileId and
// renames it to {name}. The write is an upsert.
func (s *Server) handlePutTimetable(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	body := map[string]json.RawMessage{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var fileID string
	if raw, ok := body["fileId"]; ok {
		if err := json.Unmarshal(raw, &fileID); err != nil {
			writeError(w, http.StatusBadRequest, "fileId must be a string")
			return
		}
	}
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "fileId is required")
		return
	}

	existing, err := s.timetable.Load(r.Context(), fileID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing = model.NewSchedule(name, fileID, s.now().In(s.loc))
	case err != nil:
		fail(w, "put timetable: load", err, "file_id", fileID)
		return
	}

	merged, err := mergeRecord(existing, body)
	if err != nil {
		fail(w, "put timetable: merge", err, "file_id", fileID)
		return
	}
	merged.FileID = fileID
	if err := schedule.Rename(&merged, name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.timetable.Save(r.Context(), merged)
	if err != nil {
		fail(w, "put timetable: save", err, "file_id", fileID)
		return
	}
	appLog.Info("timetable saved", "class", saved.ClassName, "file_id", fileID, "weeks", len(saved.Overrides), "by", actor(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "fileId": fileID})
}

// mergeRecord overlays the present putFields of body onto existing and
// decodes the result with the lenient record codec.
func mergeRecord(existing model.Schedule, body map[string]json.RawMessage) (model.Schedule, error) {
	raw, err := json.Marshal(existing)
	if err != nil {
		return model.Schedule{}, err
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Schedule{}, err
	}
	for _, f := range putFields {
		if v, ok := body[f]; ok {
			doc[f] = v
		}
	}
	raw, err = json.Marshal(doc)
	if err != nil {
		return model.Schedule{}, err
	}
	var out model.Schedule
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.Schedule{}, badRequest("invalid timetable record")
	}
	return out, nil
}

func (s *Server) handleDeleteTimetable(w http.ResponseWriter, r *http.Request) {
	sch, err := s.findByName(r)
	if err != nil {
		fail(w, "delete timetable failed", err, "class", r.PathValue("name"))
		return
	}
	if err := s.timetable.Delete(r.Context(), sch.FileID); err != nil {
		fail(w, "delete timetable failed", err, "file_id", sch.FileID)
		return
	}
	appLog.Info("timetable deleted", "class", sch.ClassName, "file_id", sch.FileID, "by", actor(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "fileId": sch.FileID})
}

// weekTarget parses ?date=, defaulting to the remembered week and then to
// today.
func (s *Server) weekTarget(raw string, sch model.Schedule) (time.Time, error) {
	if raw != "" {
		return model.ParseDate(raw, s.loc)
	}
	if !sch.CurrentWeek.IsZero() {
		return sch.CurrentWeek.In(s.loc), nil
	}
	return s.now().In(s.loc), nil
}

type weekResponse struct {
	ClassName string `json:"className"`
	FileID    string `json:"fileId"`
	schedule.WeekView
}

// handleWeek serves the resolved grid of one week.
//
// GET /api/timetables/{name}/week?date=2025-01-08&hours=8&remember=1
//   - date:     any day of the wanted week (default: remembered week, then today)
//   - hours:    minimum number of hour columns (default: configured periods)
//   - remember: persist the week as the record's current week
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	sch, err := s.findByName(r)
	if err != nil {
		fail(w, "week: lookup", err, "class", r.PathValue("name"))
		return
	}
	q := r.URL.Query()
	target, err := s.weekTarget(q.Get("date"), sch)
	if err != nil {
		fail(w, "week: bad date", err, "date", q.Get("date"))
		return
	}
	minHours := parseIntDefault(q.Get("hours"), len(s.cfg.Periods))
	if minHours > model.MaxHours {
		minHours = model.MaxHours
	}

	view, err := schedule.ResolveWeekWidth(sch, target, minHours)
	if err != nil {
		fail(w, "week: resolve", err, "class", sch.ClassName)
		return
	}

	if q.Get("remember") == "1" && !view.Monday.Equal(sch.CurrentWeek) {
		if err := schedule.SetCurrentWeek(&sch, target); err == nil {
			if _, err := s.timetable.Save(r.Context(), sch); err != nil {
				fail(w, "week: remember", err, "file_id", sch.FileID)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, weekResponse{ClassName: sch.ClassName, FileID: sch.FileID, WeekView: view})
}

// Cell edit actions.
const (
	actionSet       = "set"
	actionPromote   = "promote"
	actionPermanent = "permanent"
)

type editCellRequest struct {
	Date    string `json:"date" validate:"required"`
	Day     *int   `json:"day" validate:"required,min=0,max=4"`
	Hour    int    `json:"hour" validate:"required,min=1,max=16"` // model.MaxHours
	Content string `json:"content"`
	Action  string `json:"action" validate:"omitempty,oneof=set promote permanent"`
}

// handleEditCell applies one Mutator operation, saves the compacted record
// and answers with the refreshed week.
//
//   - set:       one-off override in the week of date (empty content clears it)
//   - promote:   copy the cell's effective value into the permanent hours
//   - permanent: write content straight into the permanent hours
func (s *Server) handleEditCell(w http.ResponseWriter, r *http.Request) {
	var req editCellRequest
	if err := s.decodeJSON(r, &req); err != nil {
		fail(w, "edit cell: bad request", err)
		return
	}
	week, err := model.ParseDate(req.Date, s.loc)
	if err != nil {
		fail(w, "edit cell: bad date", err, "date", req.Date)
		return
	}
	sch, err := s.findByName(r)
	if err != nil {
		fail(w, "edit cell: lookup", err, "class", r.PathValue("name"))
		return
	}

	day := *req.Day
	switch req.Action {
	case "", actionSet:
		err = schedule.SetCell(&sch, week, day, req.Hour, req.Content)
	case actionPromote:
		err = schedule.PromoteToPermanent(&sch, week, day, req.Hour)
	case actionPermanent:
		err = schedule.SetPermanent(&sch, day, req.Hour, req.Content)
	}
	if err != nil {
		fail(w, "edit cell: apply", badRequest(err.Error()))
		return
	}

	saved, err := s.timetable.Save(r.Context(), sch)
	if err != nil {
		fail(w, "edit cell: save", err, "file_id", sch.FileID)
		return
	}
	view, err := schedule.ResolveWeekWidth(saved, week, len(s.cfg.Periods))
	if err != nil {
		fail(w, "edit cell: resolve", err)
		return
	}
	appLog.Info("cell edited",
		"class", saved.ClassName,
		"week", view.WeekKey,
		"day", day,
		"hour", req.Hour,
		"action", req.Action,
		"by", actor(r),
	)
	writeJSON(w, http.StatusOK, weekResponse{ClassName: saved.ClassName, FileID: saved.FileID, WeekView: view})
}

// defaultExportWeeks is the span exported when ?to= is missing.
const defaultExportWeeks = 4

// handleExport serves an iCalendar feed of the resolved lessons.
//
// GET /api/timetables/{name}/export.ics?from=2025-01-06&to=2025-01-31
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sch, err := s.findByName(r)
	if err != nil {
		fail(w, "export: lookup", err, "class", r.PathValue("name"))
		return
	}
	q := r.URL.Query()
	from := model.MondayOf(s.now().In(s.loc))
	if raw := q.Get("from"); raw != "" {
		if from, err = model.ParseDate(raw, s.loc); err != nil {
			fail(w, "export: bad from", err, "from", raw)
			return
		}
	}
	to := model.MondayOf(from).AddDate(0, 0, 7*defaultExportWeeks-1)
	if raw := q.Get("to"); raw != "" {
		if to, err = model.ParseDate(raw, s.loc); err != nil {
			fail(w, "export: bad to", err, "to", raw)
			return
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	data, err := ics.Export(sch, from, to, ics.Options{Periods: s.cfg.Periods, Location: s.loc, Now: s.now()})
	if err != nil {
		if errors.Is(err, ics.ErrBadPeriod) {
			fail(w, "export: periods misconfigured", err)
			return
		}
		fail(w, "export failed", badRequest(err.Error()), "class", sch.ClassName)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+sch.FileID+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
