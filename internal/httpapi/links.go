package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/authcore"
	"github.com/shortlinkhq/shortlink/internal/httpserver"
	"github.com/shortlinkhq/shortlink/internal/linkregistry"
	"github.com/shortlinkhq/shortlink/internal/model"
)

// linkResponse is the public projection of model.Link.
type linkResponse struct {
	ID            string            `json:"id"`
	OwnerUserID   string            `json:"ownerUserId"`
	DomainID      *string           `json:"domainId,omitempty"`
	OriginalURL   string            `json:"originalUrl"`
	ShortCode     string            `json:"shortCode"`
	CustomCode    bool              `json:"customCode"`
	Title         string            `json:"title,omitempty"`
	Description   string            `json:"description,omitempty"`
	Campaign      string            `json:"campaign,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	HasPassword   bool              `json:"hasPassword"`
	ExpiresAt     *time.Time        `json:"expiresAt,omitempty"`
	IsActive      bool              `json:"isActive"`
	ClickCount    int64             `json:"clickCount"`
	UniqueClicks  int64             `json:"uniqueClicks"`
	LastClickAt   *time.Time        `json:"lastClickAt,omitempty"`
	UTMParameters map[string]string `json:"utmParameters,omitempty"`
	FullShortURL  string            `json:"fullShortUrl"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

func toLinkResponse(l model.Link) linkResponse {
	var domainID *string
	if l.DomainID != nil {
		s := l.DomainID.String()
		domainID = &s
	}
	return linkResponse{
		ID:            l.ID.String(),
		OwnerUserID:   l.OwnerUserID.String(),
		DomainID:      domainID,
		OriginalURL:   l.OriginalURL,
		ShortCode:     l.ShortCode,
		CustomCode:    l.CustomCode,
		Title:         l.Title,
		Description:   l.Description,
		Campaign:      l.Campaign,
		Tags:          l.Tags,
		HasPassword:   l.PasswordHash != nil,
		ExpiresAt:     l.ExpiresAt,
		IsActive:      l.IsActive,
		ClickCount:    l.ClickCount,
		UniqueClicks:  l.UniqueClicks,
		LastClickAt:   l.LastClickAt,
		UTMParameters: l.UTMParameters,
		FullShortURL:  l.FullShortURL,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

type createLinkRequest struct {
	OriginalURL   string            `json:"originalUrl" validate:"required,url"`
	DomainID      string            `json:"domainId,omitempty" validate:"omitempty,uuid"`
	CustomCode    string            `json:"customCode,omitempty"`
	Title         string            `json:"title,omitempty"`
	Description   string            `json:"description,omitempty"`
	Campaign      string            `json:"campaign,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Password      string            `json:"password,omitempty"`
	ExpiresAt     *time.Time        `json:"expiresAt,omitempty"`
	UTMParameters map[string]string `json:"utmParameters,omitempty"`
}

// handleCreateLink implements POST /api/links (§6).
func (a *API) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	u, ok := authcore.FromContext(r.Context())
	if !ok {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
		return
	}

	var req createLinkRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var domainID *uuid.UUID
	if req.DomainID != "" {
		id, err := uuid.Parse(req.DomainID)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "domainId is not a valid UUID")
			return
		}
		domainID = &id
	}

	link, err := a.links.CreateLink(r.Context(), linkregistry.CreateParams{
		OwnerUserID:   u.ID,
		DomainID:      domainID,
		OriginalURL:   req.OriginalURL,
		CustomCode:    req.CustomCode,
		Title:         req.Title,
		Description:   req.Description,
		Campaign:      req.Campaign,
		Tags:          req.Tags,
		Password:      req.Password,
		ExpiresAt:     req.ExpiresAt,
		UTMParameters: req.UTMParameters,
	})
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	// Custom-domain links leave FullShortURL blank at creation time since
	// the registry only knows the domain's ID, not its host (see
	// linkregistry.fullShortURL); backfill it here with the resolved Domain.
	if domainID != nil && link.FullShortURL == "" {
		if d, derr := a.domains.GetByID(r.Context(), *domainID); derr == nil {
			link.FullShortURL = "https://" + d.Host + "/" + link.ShortCode
		}
	}

	httpserver.Respond(w, http.StatusCreated, toLinkResponse(link))
}

// handleListLinks implements GET /api/links (§6), paginated.
func (a *API) handleListLinks(w http.ResponseWriter, r *http.Request) {
	u, ok := authcore.FromContext(r.Context())
	if !ok {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	links, err := a.links.ListOwned(r.Context(), u.ID, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	total, err := a.links.CountOwned(r.Context(), u.ID)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	out := make([]linkResponse, len(links))
	for i, l := range links {
		out[i] = toLinkResponse(l)
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(out, params, total))
}

// loadOwnedLink fetches the Link named by the "id" URL param and checks
// owner-or-admin gating (§6), writing an error response and returning ok=false
// on any failure.
func (a *API) loadOwnedLink(w http.ResponseWriter, r *http.Request) (model.Link, model.User, bool) {
	u, ok := authcore.FromContext(r.Context())
	if !ok {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
		return model.Link{}, model.User{}, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "id is not a valid UUID")
		return model.Link{}, model.User{}, false
	}

	link, err := a.links.GetByID(r.Context(), id)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return model.Link{}, model.User{}, false
	}

	if !linkregistry.CanModify(link, u) {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeForbidden, "not your link"))
		return model.Link{}, model.User{}, false
	}
	return link, u, true
}

// handleGetLink implements GET /api/links/:id (§6).
func (a *API) handleGetLink(w http.ResponseWriter, r *http.Request) {
	link, _, ok := a.loadOwnedLink(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, toLinkResponse(link))
}

type updateLinkRequest struct {
	OriginalURL *string `json:"originalUrl,omitempty" validate:"omitempty,url"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Campaign    *string `json:"campaign,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	// ExpiresAt is not settable through this endpoint: linkregistry's
	// UpdateParams represents it as **time.Time so callers can distinguish
	// "leave unchanged" from "clear the expiry", which a plain JSON field
	// can't express unambiguously without a raw-message pre-pass; editing
	// expiry is left to link recreation until that's worth adding.
	IsActive      *bool             `json:"isActive,omitempty"`
	UTMParameters map[string]string `json:"utmParameters,omitempty"`
}

// handleUpdateLink implements PUT /api/links/:id (§6).
func (a *API) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	link, _, ok := a.loadOwnedLink(w, r)
	if !ok {
		return
	}

	var req updateLinkRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	updated, err := a.links.UpdateLink(r.Context(), linkregistry.UpdateParams{
		ID:            link.ID,
		OriginalURL:   req.OriginalURL,
		Title:         req.Title,
		Description:   req.Description,
		Campaign:      req.Campaign,
		Tags:          req.Tags,
		IsActive:      req.IsActive,
		UTMParameters: req.UTMParameters,
	})
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toLinkResponse(updated))
}

// handleDeleteLink implements DELETE /api/links/:id (§6): a soft delete
// that preserves Click history.
func (a *API) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	link, _, ok := a.loadOwnedLink(w, r)
	if !ok {
		return
	}
	if err := a.links.SoftDelete(r.Context(), link.ID); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
