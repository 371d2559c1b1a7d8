package main

import (
	"errors"
	"net/http"

	"github.com/PaulBabatuyi/biodata-api/internal/data"
	"github.com/PaulBabatuyi/biodata-api/internal/middleware"
	"github.com/PaulBabatuyi/biodata-api/internal/payment"
	"github.com/PaulBabatuyi/biodata-api/internal/response"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type intentResponse struct {
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// createPaymentIntent opens a card payment for one contact request.
func (s *Server) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := s.payments.CreateIntent(r.Context(), payment.Amount, s.currency)
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, intentResponse{
		ClientSecret: intent.ClientSecret,
		Amount:       payment.Amount,
		Currency:     s.currency,
	})
}

type contactRequestBody struct {
	BiodataID     int    `json:"biodataId"`
	TransactionID string `json:"transactionId"`
}

// createContactRequest records a paid request for a biodata's contact
// details, snapshotting the target and requester at request time.
func (s *Server) createContactRequest(w http.ResponseWriter, r *http.Request) {
	var body contactRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	if body.BiodataID <= 0 {
		respondError(w, r, &data.FieldError{Field: "biodataId", Reason: "required"})
		return
	}

	email := middleware.EmailFromContext(r.Context())
	target, err := s.biodatas.GetByBiodataID(r.Context(), body.BiodataID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if target.ContactEmail == email {
		respondError(w, r, &data.FieldError{Field: "biodataId", Reason: "cannot request your own contact details"})
		return
	}

	var requesterName string
	switch user, err := s.users.GetUserByEmail(r.Context(), email); {
	case err == nil:
		requesterName = user.Name
	case !errors.Is(err, data.ErrNotFound):
		respondError(w, r, err)
		return
	}

	created, err := s.contacts.Create(r.Context(), &data.ContactRequest{
		BiodataID:      target.BiodataID,
		RequesterEmail: email,
		RequesterName:  requesterName,
		Name:           target.Name,
		ContactEmail:   target.ContactEmail,
		MobileNumber:   target.MobileNumber,
		TransactionID:  body.TransactionID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	log.Info().Int("biodata_id", target.BiodataID).Str("email", email).Msg("contact request created")
	response.JSON(w, http.StatusCreated, created.Redacted())
}

// myContactRequests lists the caller's requests; contact details appear only
// on approved ones.
func (s *Server) myContactRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.contacts.ListForRequester(r.Context(), middleware.EmailFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, reqs)
}

// deleteContactRequest removes one of the caller's requests.
func (s *Server) deleteContactRequest(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.contacts.Delete(r.Context(), id, middleware.EmailFromContext(r.Context())); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listContactRequests returns every request for the admin dashboard.
func (s *Server) listContactRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.contacts.ListAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, reqs)
}

// approveContactRequest reveals the contact details to the requester.
func (s *Server) approveContactRequest(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	req, err := s.contacts.Approve(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	log.Info().Str("request", id.Hex()).Str("by", middleware.EmailFromContext(r.Context())).Msg("contact request approved")
	response.JSON(w, http.StatusOK, req)
}

func objectIDParam(r *http.Request) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		return bson.ObjectID{}, &data.FieldError{Field: "id", Reason: "malformed"}
	}
	return id, nil
}
