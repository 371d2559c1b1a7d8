package main

import (
	"net/http"

	"github.com/PaulBabatuyi/biodata-api/internal/data"
	"github.com/PaulBabatuyi/biodata-api/internal/middleware"
	"github.com/PaulBabatuyi/biodata-api/internal/query"
	"github.com/PaulBabatuyi/biodata-api/internal/response"
)

// listStories returns success stories ordered by marriage date.
func (s *Server) listStories(w http.ResponseWriter, r *http.Request) {
	sortBy, err := query.ParseStorySort(r.URL.Query().Get("sort"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	stories, err := s.stories.List(r.Context(), sortBy)
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, stories)
}

// createStory publishes a success story by the caller.
func (s *Server) createStory(w http.ResponseWriter, r *http.Request) {
	var story data.SuccessStory
	if err := decodeJSON(w, r, &story); err != nil {
		respondError(w, r, err)
		return
	}
	created, err := s.stories.Create(r.Context(), middleware.EmailFromContext(r.Context()), &story)
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, created)
}
