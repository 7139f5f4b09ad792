package httpapi

import (
	"net/http"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/authcore"
	"github.com/shortlinkhq/shortlink/internal/httpserver"
	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/ratelimit"
)

// userResponse is the public projection of model.User returned on every
// auth endpoint; PasswordHash and GoogleID never leave this package.
type userResponse struct {
	ID              string  `json:"id"`
	Email           string  `json:"email"`
	DisplayName     string  `json:"displayName"`
	Role            string  `json:"role"`
	IsActive        bool    `json:"isActive"`
	IsEmailVerified bool    `json:"isEmailVerified"`
	Avatar          *string `json:"avatar,omitempty"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{
		ID:              u.ID.String(),
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		Role:            string(u.Role),
		IsActive:        u.IsActive,
		IsEmailVerified: u.IsEmailVerified,
		Avatar:          u.Avatar,
	}
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type loginResultResponse struct {
	User   userResponse      `json:"user"`
	Tokens tokenPairResponse `json:"tokens"`
}

func toLoginResultResponse(res authcore.LoginResult) loginResultResponse {
	return loginResultResponse{
		User: toUserResponse(res.User),
		Tokens: tokenPairResponse{
			AccessToken:  res.Tokens.AccessToken,
			RefreshToken: res.Tokens.RefreshToken,
		},
	}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

// handleRegister implements POST /api/auth/register (§6).
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	res, err := a.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, toLoginResultResponse(res))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// handleLogin implements POST /api/auth/login (§6, §4.5).
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	res, err := a.auth.Login(r.Context(), req.Email, req.Password, ratelimit.KeyFromRequest(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toLoginResultResponse(res))
}

// handleLogout implements POST /api/auth/logout (§6, §4.5): blacklists
// the presented access token, finds its Session by access token, and
// blacklists the paired refresh token and removes the session record.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	u, ok := authcore.FromContext(r.Context())
	if !ok {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
		return
	}
	raw, _ := authcore.BearerToken(r)

	if err := a.auth.Logout(r.Context(), raw, u.ID); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogoutAll invalidates every outstanding token for the
// authenticated User by bumping tokenVersion (§4.5 logout-all).
func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	u, ok := authcore.FromContext(r.Context())
	if !ok {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
		return
	}
	if err := a.auth.LogoutAll(r.Context(), u.ID); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// handleRefresh implements POST /api/auth/refresh (§6, §4.5 rotation).
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// handleGoogleCallback implements GET /api/auth/google/callback (§4.5):
// completes the Authorization Code flow and returns the same token-pair
// envelope as a password login.
func (a *API) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := a.oauth.Callback(r.Context(), q.Get("state"), q.Get("code"), ratelimit.KeyFromRequest(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toLoginResultResponse(res))
}

// handleMe implements GET /api/auth/me (§6).
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := authcore.FromContext(r.Context())
	if !ok {
		httpserver.RespondAppError(w, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
		return
	}
	httpserver.Respond(w, http.StatusOK, toUserResponse(u))
}
