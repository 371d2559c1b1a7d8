package main

import (
	"net/http"

	"github.com/PaulBabatuyi/biodata-api/internal/data"
	"github.com/PaulBabatuyi/biodata-api/internal/metrics"
	"github.com/PaulBabatuyi/biodata-api/internal/middleware"
	"github.com/PaulBabatuyi/biodata-api/internal/query"
	"github.com/PaulBabatuyi/biodata-api/internal/response"

	"github.com/rs/zerolog/log"
)

// listBiodatas serves the filtered, paginated listing.
func (s *Server) listBiodatas(w http.ResponseWriter, r *http.Request) {
	plan, err := query.ParseListParams(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	items, total, err := s.biodatas.List(r.Context(), plan.Filter, nil, plan.Skip, plan.Limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, query.NewPage(plan, items, total))
}

// listPremiumBiodatas serves the premium showcase sorted by age.
func (s *Server) listPremiumBiodatas(w http.ResponseWriter, r *http.Request) {
	sortBy, err := query.ParsePremiumSort(r.URL.Query().Get("sort"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	items, err := s.biodatas.ListPremium(r.Context(), sortBy, query.PremiumLimit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, items)
}

type biodataDetail struct {
	Biodata *data.Biodata   `json:"biodata"`
	Similar []*data.Biodata `json:"similar"`
}

// getBiodata returns one biodata with up to three of the same type.
func (s *Server) getBiodata(w http.ResponseWriter, r *http.Request) {
	id, err := biodataIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	b, err := s.biodatas.GetByBiodataID(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	similar, err := s.biodatas.Similar(r.Context(), b)
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, biodataDetail{Biodata: b, Similar: similar})
}

// myBiodata returns the caller's own biodata.
func (s *Server) myBiodata(w http.ResponseWriter, r *http.Request) {
	b, err := s.biodatas.GetByEmail(r.Context(), middleware.EmailFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, b)
}

// createBiodata stores the caller's biodata. Each caller owns at most one.
func (s *Server) createBiodata(w http.ResponseWriter, r *http.Request) {
	var b data.Biodata
	if err := decodeJSON(w, r, &b); err != nil {
		respondError(w, r, err)
		return
	}

	email := middleware.EmailFromContext(r.Context())
	created, err := s.biodatas.Create(r.Context(), email, &b)
	if err != nil {
		respondError(w, r, err)
		return
	}
	log.Info().Int("biodata_id", created.BiodataID).Str("email", email).Msg("biodata created")
	response.JSON(w, http.StatusCreated, created)
}

// updateBiodata applies the whitelisted fields of the body to the caller's
// biodata. Identity and ownership fields in the body are ignored.
func (s *Server) updateBiodata(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := decodeJSON(w, r, &payload); err != nil {
		respondError(w, r, err)
		return
	}

	set, err := data.BuildUpdate(payload)
	if err != nil {
		respondError(w, r, err)
		return
	}
	updated, err := s.biodatas.Update(r.Context(), middleware.EmailFromContext(r.Context()), set)
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, updated)
}

// requestPremium files a premium request for the caller's biodata.
func (s *Server) requestPremium(w http.ResponseWriter, r *http.Request) {
	email := middleware.EmailFromContext(r.Context())

	b, err := s.biodatas.GetByEmail(r.Context(), email)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if b.IsPremium {
		respondError(w, r, data.ErrAlreadyRequested)
		return
	}
	// approval flips the user record, so it must exist before the request does
	if _, _, err := s.users.EnsureUser(r.Context(), data.NewUser{Email: email}); err != nil {
		respondError(w, r, err)
		return
	}

	req, err := s.premium.Create(r.Context(), b)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.users.MarkPremiumRequested(r.Context(), email); err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, req)
}

// listPremiumRequests returns the outstanding premium requests.
func (s *Server) listPremiumRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.premium.ListOutstanding(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, reqs)
}

// approvePremium grants premium to the request's owner.
func (s *Server) approvePremium(w http.ResponseWriter, r *http.Request) {
	email, err := emailParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	req, err := s.approver.Approve(r.Context(), email)
	if err != nil {
		metrics.PremiumApproval("error")
		respondError(w, r, err)
		return
	}
	metrics.PremiumApproval("ok")
	log.Info().Str("email", email).Str("by", middleware.EmailFromContext(r.Context())).Msg("premium approved")
	response.JSON(w, http.StatusOK, req)
}
