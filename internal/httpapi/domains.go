package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/authcore"
	"github.com/shortlinkhq/shortlink/internal/httpserver"
	"github.com/shortlinkhq/shortlink/internal/model"
)

// domainResponse is the public projection of model.Domain.
type domainResponse struct {
	ID                string     `json:"id"`
	OwnerUserID       string     `json:"ownerUserId"`
	Host              string     `json:"host"`
	DisplayName       string     `json:"displayName"`
	IsActive          bool       `json:"isActive"`
	IsVerified        bool       `json:"isVerified"`
	VerificationToken string     `json:"verificationToken"`
	VerifiedAt        *time.Time `json:"verifiedAt,omitempty"`
	MonthlyLinkLimit  int        `json:"monthlyLinkLimit"`
	CurrentMonthUsage int        `json:"currentMonthUsage"`
	CreatedAt         time.Time  `json:"createdAt"`
}

func toDomainResponse(d model.Domain) domainResponse {
	return domainResponse{
		ID:                d.ID.String(),
		OwnerUserID:       d.OwnerUserID.String(),
		Host:              d.Host,
		DisplayName:       d.DisplayName,
		IsActive:          d.IsActive,
		IsVerified:        d.IsVerified,
		VerificationToken: d.VerificationToken,
		VerifiedAt:        d.VerifiedAt,
		MonthlyLinkLimit:  d.MonthlyLinkLimit,
		CurrentMonthUsage: d.CurrentMonthUsage,
		CreatedAt:         d.CreatedAt,
	}
}

type createDomainRequest struct {
	Host             string `json:"host" validate:"required"`
	DisplayName      string `json:"displayName,omitempty"`
	MonthlyLinkLimit int    `json:"monthlyLinkLimit,omitempty" validate:"omitempty,gte=0"`
}

// handleCreateDomain implements POST /api/domains (§6).
func (a *API) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	u, ok := authcore.FromContext(r.Context())
	if !ok {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
		return
	}

	var req createDomainRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	d, err := a.domains.AddDomain(r.Context(), u.ID, req.Host, req.DisplayName, req.MonthlyLinkLimit)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, toDomainResponse(d))
}

// handleListDomains implements GET /api/domains (§6).
func (a *API) handleListDomains(w http.ResponseWriter, r *http.Request) {
	u, ok := authcore.FromContext(r.Context())
	if !ok {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
		return
	}

	domains, err := a.domains.ListOwned(r.Context(), u.ID)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	out := make([]domainResponse, len(domains))
	for i, d := range domains {
		out[i] = toDomainResponse(d)
	}
	httpserver.Respond(w, http.StatusOK, out)
}

// loadOwnedDomain fetches the Domain named by the "id" URL param and
// checks owner-or-admin gating (§6).
func (a *API) loadOwnedDomain(w http.ResponseWriter, r *http.Request) (model.Domain, bool) {
	u, ok := authcore.FromContext(r.Context())
	if !ok {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
		return model.Domain{}, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "id is not a valid UUID")
		return model.Domain{}, false
	}

	d, err := a.domains.GetByID(r.Context(), id)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return model.Domain{}, false
	}

	if u.Role != model.RoleAdmin && d.OwnerUserID != u.ID {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeForbidden, "not your domain"))
		return model.Domain{}, false
	}
	return d, true
}

// handleGetDomain implements GET /api/domains/:id (§6).
func (a *API) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	d, ok := a.loadOwnedDomain(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, toDomainResponse(d))
}

// handleDeleteDomain implements DELETE /api/domains/:id (§6): refused
// while active Links still reference the Domain.
func (a *API) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	d, ok := a.loadOwnedDomain(w, r)
	if !ok {
		return
	}
	if err := a.domains.DeleteDomain(r.Context(), d.ID); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

// handleVerifyDomain implements POST /api/domains/:id/verify (§6, §4.6):
// a DNS TXT check against the domain's verification token.
func (a *API) handleVerifyDomain(w http.ResponseWriter, r *http.Request) {
	d, ok := a.loadOwnedDomain(w, r)
	if !ok {
		return
	}

	verified, warning, err := a.domains.VerifyDomain(r.Context(), d.ID)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	resp := struct {
		Domain  domainResponse `json:"domain"`
		Warning string         `json:"warning,omitempty"`
	}{Domain: toDomainResponse(verified), Warning: warning}
	httpserver.Respond(w, http.StatusOK, resp)
}
