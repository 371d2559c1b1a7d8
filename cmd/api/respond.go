package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/biodata-api/internal/data"
	"github.com/PaulBabatuyi/biodata-api/internal/payment"
	"github.com/PaulBabatuyi/biodata-api/internal/query"
	"github.com/PaulBabatuyi/biodata-api/internal/response"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var errBadBody = errors.New("malformed JSON body")

// respondError maps err to a status code and writes {"message": ...}.
// Unrecognised errors are logged and reported as 500 without detail.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fe *data.FieldError
		ve *query.ValidationError
		pe *payment.ProviderError
	)
	switch {
	case errors.As(err, &fe), errors.As(err, &ve):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errBadBody), errors.Is(err, data.ErrNoChanges), errors.Is(err, data.ErrInvalidRole):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, data.ErrNotFound):
		response.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, data.ErrDuplicate), errors.Is(err, data.ErrAlreadyRequested):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.As(err, &pe), errors.Is(err, payment.ErrNotConfigured):
		log.Error().Err(err).Str("request_id", chimw.GetReqID(r.Context())).Msg("payment provider failed")
		response.Error(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		log.Error().Err(err).
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		response.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBadBody
		}
		return errors.Join(errBadBody, err)
	}
	return nil
}

// biodataIDParam parses the {biodataId} path segment.
func biodataIDParam(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "biodataId"))
	if err != nil || id <= 0 {
		return 0, &data.FieldError{Field: "biodataId", Reason: "must be a positive integer"}
	}
	return id, nil
}

// requestLogger logs one line per request after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("http request")
	})
}
