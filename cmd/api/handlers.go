package main

import (
	"net/http"
	"net/url"
	"time"

	"github.com/PaulBabatuyi/biodata-api/internal/data"
	"github.com/PaulBabatuyi/biodata-api/internal/middleware"
	"github.com/PaulBabatuyi/biodata-api/internal/normalize"
	"github.com/PaulBabatuyi/biodata-api/internal/response"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type tokenRequest struct {
	Email string `json:"email"`
}

type tokenResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// issueToken signs a session token for the posted email and sets the cookie.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	email := normalize.Email(req.Email)
	if email == "" {
		respondError(w, r, &data.FieldError{Field: "email", Reason: "required"})
		return
	}

	token, expiresAt, err := s.tokens.GenerateToken(email)
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.cookies.Set(w, token, expiresAt)
	response.JSON(w, http.StatusOK, tokenResponse{Success: true, ExpiresAt: expiresAt})
}

// logout clears the session cookie.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.cookies.Clear(w)
	response.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// createUser registers the caller on first sign-in. Repeating it is safe and
// returns the stored record.
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req data.NewUser
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	user, created, err := s.users.EnsureUser(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.Info().Str("email", user.Email).Msg("user created")
	}
	response.JSON(w, status, user)
}

// me returns the caller's user record.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUserByEmail(r.Context(), middleware.EmailFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, user)
}

// listFavourites returns the biodatas the caller favourited.
func (s *Server) listFavourites(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUserByEmail(r.Context(), middleware.EmailFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	items, err := s.biodatas.ListByIDs(r.Context(), user.Favourites)
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}

// addFavourite adds an existing biodata to the caller's favourites.
func (s *Server) addFavourite(w http.ResponseWriter, r *http.Request) {
	id, err := biodataIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if _, err := s.biodatas.GetByBiodataID(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.users.AddFavourite(r.Context(), middleware.EmailFromContext(r.Context()), id); err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]int{"biodataId": id})
}

// removeFavourite drops a biodata from the caller's favourites.
func (s *Server) removeFavourite(w http.ResponseWriter, r *http.Request) {
	id, err := biodataIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.users.RemoveFavourite(r.Context(), middleware.EmailFromContext(r.Context()), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// publicStats returns the visitor-facing counters.
func (s *Server) publicStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Public(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, stats)
}

// adminStats returns the dashboard counters.
func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Admin(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, stats)
}

// listUsers lists users, optionally filtered by ?search= on name or email.
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context(), normalize.SearchPattern(r.URL.Query().Get("search")))
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, users)
}

type roleRequest struct {
	Role string `json:"role"`
}

// setRole assigns a role from the closed set. Admins cannot demote themselves.
func (s *Server) setRole(w http.ResponseWriter, r *http.Request) {
	email, err := emailParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	role, err := data.ParseRole(req.Role)
	if err != nil {
		respondError(w, r, err)
		return
	}
	caller := middleware.EmailFromContext(r.Context())
	if email == caller && !role.IsAdmin() {
		respondError(w, r, &data.FieldError{Field: "role", Reason: "cannot remove your own admin role"})
		return
	}

	if err := s.users.SetRole(r.Context(), email, role); err != nil {
		respondError(w, r, err)
		return
	}
	log.Info().Str("email", email).Str("role", string(role)).Str("by", caller).Msg("role changed")
	response.JSON(w, http.StatusOK, map[string]string{"email": email, "role": string(role)})
}

// emailParam reads the {email} path segment.
func emailParam(r *http.Request) (string, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		return "", &data.FieldError{Field: "email", Reason: "malformed"}
	}
	email := normalize.Email(raw)
	if email == "" {
		return "", &data.FieldError{Field: "email", Reason: "required"}
	}
	return email, nil
}
