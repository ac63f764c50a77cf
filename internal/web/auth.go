package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"timetable/internal/account"
	appLog "timetable/internal/log"
)

const sessionCookie = "timetable_session"

var (
	errUnauthenticated = errors.New("login required")
	errForbidden       = errors.New("admin rights required")
)

// sessionClaims is the payload of a login token.
type sessionClaims struct {
	Abbreviation string `json:"abbr"`
	Admin        bool   `json:"admin"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// issueToken signs an HS256 session token for u.
// Token times use the wall clock because jwt validates against it.
func (s *Server) issueToken(u account.User) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.cfg.SessionTTL())
	claims := sessionClaims{
		Abbreviation: u.Abbreviation,
		Admin:        u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, exp, nil
}

// tokenFrom reads the bearer token, falling back to the session cookie.
func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) parseToken(raw string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, errUnauthenticated
	}
	return claims, nil
}

// requireAdmin rejects requests without a valid admin session.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFrom(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, errUnauthenticated.Error())
			return
		}
		claims, err := s.parseToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		if !claims.Admin {
			appLog.Warn("admin route denied", "user", claims.Abbreviation, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, errForbidden.Error())
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

type loginRequest struct {
	Abbreviation string `json:"abbreviation" validate:"required"`
	Password     string `json:"password" validate:"required"`
}

type loginResponse struct {
	Success   bool           `json:"success"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      account.Public `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeJSON(r, &req); err != nil {
		fail(w, "login: bad request", err)
		return
	}

	u, err := s.users.Authenticate(r.Context(), req.Abbreviation, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrWrongPassword) {
			appLog.Info("login failed", "abbreviation", req.Abbreviation)
			// Unknown user and wrong password are reported alike.
			writeError(w, http.StatusUnauthorized, "invalid abbreviation or password")
			return
		}
		fail(w, "login failed", err, "abbreviation", req.Abbreviation)
		return
	}

	token, exp, err := s.issueToken(u)
	if err != nil {
		fail(w, "login: issue token", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     s.base + "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   s.cfg.CSRF.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	appLog.Info("login succeeded", "abbreviation", u.Abbreviation, "admin", u.IsAdmin)
	writeJSON(w, http.StatusOK, loginResponse{Success: true, Token: token, ExpiresAt: exp, User: u.Public()})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     s.base + "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CSRF.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
