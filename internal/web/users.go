package web

import (
	"net/http"

	"timetable/internal/account"
	appLog "timetable/internal/log"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		fail(w, "list users failed", err)
		return
	}
	out := make([]account.Public, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Name         string `json:"name" validate:"required"`
	Abbreviation string `json:"abbreviation" validate:"required,max=16"`
	Password     string `json:"password" validate:"required"`
	IsAdmin      bool   `json:"isAdmin"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := s.decodeJSON(r, &req); err != nil {
		fail(w, "create user: bad request", err)
		return
	}
	u, err := s.users.Create(r.Context(), account.NewUser{
		Name:         req.Name,
		Abbreviation: req.Abbreviation,
		Password:     req.Password,
		IsAdmin:      req.IsAdmin,
	})
	if err != nil {
		fail(w, "create user failed", err, "abbreviation", req.Abbreviation)
		return
	}
	appLog.Info("user created", "abbreviation", u.Abbreviation, "admin", u.IsAdmin, "by", actor(r))
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": u.Public()})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if c, ok := r.Context().Value(claimsKey{}).(*sessionClaims); ok && c.Subject == id {
		writeError(w, http.StatusBadRequest, "cannot delete the signed-in account")
		return
	}
	if err := s.users.Delete(r.Context(), id); err != nil {
		fail(w, "delete user failed", err, "id", id)
		return
	}
	appLog.Info("user deleted", "id", id, "by", actor(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
