package web

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/csrf"
	"github.com/rs/cors"
	"github.com/yuin/goldmark"

	"timetable/internal/account"
	"timetable/internal/config"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/store"
)

// Timetables is the persistence the API needs from the schedule store.
type Timetables interface {
	Create(ctx context.Context, name, info string) (string, error)
	Load(ctx context.Context, fileID string) (model.Schedule, error)
	Save(ctx context.Context, s model.Schedule) (model.Schedule, error)
	Delete(ctx context.Context, fileID string) error
	DeleteAll(ctx context.Context) (int, error)
	ListClassNames(ctx context.Context) ([]string, error)
	FindByClassName(ctx context.Context, name string) (model.Schedule, error)
}

// Accounts is the user store the API needs.
type Accounts interface {
	Create(ctx context.Context, in account.NewUser) (account.User, error)
	List(ctx context.Context) ([]account.User, error)
	Delete(ctx context.Context, id string) error
	Authenticate(ctx context.Context, abbreviation, password string) (account.User, error)
}

var (
	_ Timetables = (*store.FileStore)(nil)
	_ Accounts   = (*account.Store)(nil)
)

// Server provides the JSON API over the timetable store and accounts.
type Server struct {
	cfg       *config.Config
	base      string
	loc       *time.Location
	timetable Timetables
	users     Accounts
	secret    []byte
	validate  *validator.Validate
	markdown  goldmark.Markdown
	mux       *http.ServeMux
	now       func() time.Time
}

// NewServer constructs a Server. A missing session secret is replaced by a
// random one, so sessions do not survive a restart.
func NewServer(cfg *config.Config, timetables Timetables, users Accounts) *Server {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}

	secret := []byte(cfg.Session.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("web: cannot generate session secret: " + err.Error())
		}
		appLog.Warn("session secret not configured; using an ephemeral one")
	}

	s := &Server{
		cfg:       cfg,
		base:      cfg.BasePath,
		loc:       loc,
		timetable: timetables,
		users:     users,
		secret:    secret,
		validate:  validator.New(),
		markdown:  goldmark.New(),
		mux:       http.NewServeMux(),
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the routes wrapped in logging, CORS and (when configured)
// CSRF middleware.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.csrfEnabled() {
		appLog.Info("CSRF protection enabled", "secure", s.cfg.CSRF.Secure)
		h = s.csrfMiddleware(h)
	}
	h = s.corsMiddleware().Handler(h)
	return logRequests(h)
}

func (s *Server) registerRoutes() {
	p := s.base
	s.mux.HandleFunc("GET "+p+"/health", s.handleHealth)
	s.mux.HandleFunc("GET "+p+"/api", s.handleInfo)
	s.mux.HandleFunc("GET "+p+"/api/csrf", s.handleCSRF)

	s.mux.HandleFunc("GET "+p+"/api/timetables", s.handleListTimetables)
	s.mux.HandleFunc("POST "+p+"/api/timetables", s.requireAdmin(s.handleCreateTimetable))
	s.mux.HandleFunc("DELETE "+p+"/api/timetables", s.requireAdmin(s.handleResetTimetables))
	s.mux.HandleFunc("GET "+p+"/api/timetables/{name}", s.handleGetTimetable)
	s.mux.HandleFunc("PUT "+p+"/api/timetables/{name}", s.requireAdmin(s.handlePutTimetable))
	s.mux.HandleFunc("DELETE "+p+"/api/timetables/{name}", s.requireAdmin(s.handleDeleteTimetable))
	s.mux.HandleFunc("GET "+p+"/api/timetables/{name}/week", s.handleWeek)
	s.mux.HandleFunc("PUT "+p+"/api/timetables/{name}/cells", s.requireAdmin(s.handleEditCell))
	s.mux.HandleFunc("GET "+p+"/api/timetables/{name}/export.ics", s.handleExport)

	s.mux.HandleFunc("GET "+p+"/api/users", s.handleListUsers)
	s.mux.HandleFunc("POST "+p+"/api/users", s.requireAdmin(s.handleCreateUser))
	s.mux.HandleFunc("DELETE "+p+"/api/users/{id}", s.requireAdmin(s.handleDeleteUser))
	s.mux.HandleFunc("POST "+p+"/api/users/login", s.handleLogin)
	s.mux.HandleFunc("POST "+p+"/api/users/logout", s.handleLogout)

	if s.cfg.StaticDir != "" {
		prefix := p + "/app/"
		s.mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(s.cfg.StaticDir))))
		s.mux.Handle("GET "+p+"/app", http.RedirectHandler(prefix, http.StatusMovedPermanently))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type infoResponse struct {
	Name     string          `json:"name"`
	BasePath string          `json:"base_path"`
	Timezone string          `json:"timezone"`
	Periods  []config.Period `json:"periods"`
	CSRF     bool            `json:"csrf"`
	Time     time.Time       `json:"time"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Name:     "timetable",
		BasePath: s.base,
		Timezone: s.loc.String(),
		Periods:  s.cfg.Periods,
		CSRF:     s.csrfEnabled(),
		Time:     s.now().In(s.loc),
	})
}

func (s *Server) csrfEnabled() bool {
	return s.cfg.CSRF.Key != ""
}

// csrfMiddleware applies gorilla/csrf. Plain HTTP deployments are marked so
// the origin check does not demand TLS.
func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	opts := []csrf.Option{
		csrf.Secure(s.cfg.CSRF.Secure),
		csrf.Path(s.base + "/"),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			msg := "invalid CSRF token"
			if reason := csrf.FailureReason(r); reason != nil {
				msg += ": " + reason.Error()
			}
			writeError(w, http.StatusForbidden, msg)
		})),
	}
	if len(s.cfg.CSRF.TrustedOrigins) > 0 {
		opts = append(opts, csrf.TrustedOrigins(s.cfg.CSRF.TrustedOrigins))
	}
	protect := csrf.Protect([]byte(s.cfg.CSRF.Key), opts...)(next)
	if s.cfg.CSRF.Secure {
		return protect
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protect.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	if !s.csrfEnabled() {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabled": false})
		return
	}
	token := csrf.Token(r)
	w.Header().Set("X-CSRF-Token", token)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabled": true, "token": token})
}

func (s *Server) corsMiddleware() *cors.Cors {
	wildcard := false
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			wildcard = true
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-CSRF-Token"},
		ExposedHeaders:   []string{"X-CSRF-Token"},
		AllowCredentials: !wildcard,
		MaxAge:           600,
	})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// decodeJSON reads a request body into v and runs struct validation.
func (s *Server) decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return badRequest("invalid request: " + strings.Join(fields, ", "))
		}
		return badRequest(err.Error())
	}
	return nil
}

// requestError carries a client-facing message with its status.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, msg: msg}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		return re.status, re.msg
	case errors.Is(err, model.ErrInvalidDate):
		return http.StatusBadRequest, "invalid date"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "timetable not found"
	case errors.Is(err, store.ErrMissingFileID):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, account.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, account.ErrDuplicate):
		return http.StatusConflict, err.Error()
	case errors.Is(err, account.ErrMissingField):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

// fail logs server-side failures and writes the mapped error response.
func fail(w http.ResponseWriter, msg string, err error, kv ...any) {
	status, text := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error(msg, err, kv...)
	} else {
		appLog.Debug(msg, append(kv, "error", err)...)
	}
	writeError(w, status, text)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
