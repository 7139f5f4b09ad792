package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/httpserver"
	"github.com/shortlinkhq/shortlink/internal/ratelimit"
	"github.com/shortlinkhq/shortlink/internal/resolver"
)

// redirectResponse is written instead of a 302 when the caller is a bot
// (§4.8 step 4): metadata useful for chat-app unfurlers without driving
// traffic through the real redirect.
type redirectResponse struct {
	OriginalURL string `json:"originalUrl"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// passwordRequiredResponse marks the 401 a password-gated Link returns
// to a GET with no submitted password.
type passwordRequiredResponse struct {
	PasswordRequired bool `json:"passwordRequired"`
}

func resolveRequest(r *http.Request, shortCode string, submittedPassword string, hasPassword bool) resolver.Request {
	return resolver.Request{
		HostName:          r.Host,
		ShortCode:         shortCode,
		IP:                ratelimit.KeyFromRequest(r),
		UserAgent:         r.UserAgent(),
		Referrer:          r.Referer(),
		SubmittedPassword: submittedPassword,
		HasPassword:       hasPassword,
	}
}

// handleRedirect implements GET /:shortCode (§6, §4.8).
func (a *API) handleRedirect(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")
	a.resolveAndRespond(w, r, shortCode, "", false)
}

type redeemPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// handleRedirectWithPassword implements POST /:shortCode/password (§6,
// §4.8's password-protected flow).
func (a *API) handleRedirectWithPassword(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	var req redeemPasswordRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	a.resolveAndRespond(w, r, shortCode, req.Password, true)
}

func (a *API) resolveAndRespond(w http.ResponseWriter, r *http.Request, shortCode, password string, hasPassword bool) {
	outcome, err := a.resolver.Resolve(r.Context(), resolveRequest(r, shortCode, password, hasPassword))
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Code == apperr.CodePasswordRequired {
			httpserver.Respond(w, http.StatusUnauthorized, passwordRequiredResponse{PasswordRequired: true})
			return
		}
		httpserver.RespondAppError(w, err)
		return
	}

	switch outcome.Kind {
	case resolver.OutcomeBotMetadata:
		httpserver.Respond(w, http.StatusOK, redirectResponse{
			OriginalURL: outcome.FinalURL,
			Title:       outcome.Link.Title,
			Description: outcome.Link.Description,
		})
	default:
		http.Redirect(w, r, outcome.FinalURL, http.StatusFound)
	}
}

// handlePreview implements GET /preview/:shortCode (§6, §4.8): resolution
// without any policy-check side effects.
func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	link, err := a.resolver.Preview(r.Context(), r.Host, shortCode)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, toLinkResponse(link))
}
