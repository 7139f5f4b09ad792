package authcore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/cache"
)

// OIDCAuthenticator validates Google-issued ID tokens, performing OIDC
// discovery once at startup.
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCAuthenticator discovers the issuer's signing keys. Performs a
// network call.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("authcore: discovering oidc provider %s: %w", issuerURL, err)
	}
	return &OIDCAuthenticator{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// IDClaims are the identity fields extracted from a verified Google ID
// token.
type IDClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// VerifyIDToken validates signature and expiry and extracts IDClaims.
func (a *OIDCAuthenticator) VerifyIDToken(ctx context.Context, rawIDToken string) (IDClaims, error) {
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return IDClaims{}, fmt.Errorf("authcore: verifying id token: %w", err)
	}
	var claims IDClaims
	if err := idToken.Claims(&claims); err != nil {
		return IDClaims{}, fmt.Errorf("authcore: extracting id token claims: %w", err)
	}
	if claims.Subject == "" {
		return IDClaims{}, fmt.Errorf("authcore: id token missing sub claim")
	}
	return claims, nil
}

// OAuthFlow drives the Authorization Code flow against Google, storing
// the CSRF state in the KV cache.
type OAuthFlow struct {
	oauth2Cfg *oauth2.Config
	verifier  *OIDCAuthenticator
	cache     *cache.Cache
	service   *Service
	logger    *slog.Logger
}

// NewOAuthFlow builds an OAuthFlow.
func NewOAuthFlow(cfg *oauth2.Config, verifier *OIDCAuthenticator, c *cache.Cache, svc *Service, logger *slog.Logger) *OAuthFlow {
	return &OAuthFlow{oauth2Cfg: cfg, verifier: verifier, cache: c, service: svc, logger: logger}
}

func oauthStateKey(state string) string { return "oidc:state:" + state }

// BeginURL generates a fresh state token, stashes it in the cache with a
// 10 minute TTL, and returns the provider authorization URL to redirect
// the browser to.
func (f *OAuthFlow) BeginURL(ctx context.Context) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", fmt.Errorf("authcore: generating oauth state: %w", err)
	}
	if err := f.cache.Set(ctx, oauthStateKey(state), true, 10*time.Minute); err != nil {
		return "", fmt.Errorf("authcore: storing oauth state: %w", err)
	}
	return f.oauth2Cfg.AuthCodeURL(state), nil
}

// Callback completes the flow: validates state, exchanges code, verifies
// the ID token, and maps the identity to a local User via
// Service.OAuthLogin.
func (f *OAuthFlow) Callback(ctx context.Context, state, code, ip string) (LoginResult, error) {
	if state == "" {
		return LoginResult{}, apperr.New(apperr.CodeValidation, "missing state parameter")
	}
	var seen bool
	if err := f.cache.Get(ctx, oauthStateKey(state), &seen); err != nil || !seen {
		return LoginResult{}, apperr.New(apperr.CodeValidation, "invalid or expired oauth state")
	}
	_ = f.cache.Del(ctx, oauthStateKey(state))

	if code == "" {
		return LoginResult{}, apperr.New(apperr.CodeValidation, "missing code parameter")
	}

	token, err := f.oauth2Cfg.Exchange(ctx, code)
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.CodeUnauthenticated, "exchanging oauth code", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return LoginResult{}, apperr.New(apperr.CodeUnauthenticated, "provider response missing id_token")
	}

	claims, err := f.verifier.VerifyIDToken(ctx, rawIDToken)
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.CodeUnauthenticated, "verifying id token", err)
	}

	return f.service.OAuthLogin(ctx, claims.Subject, claims.Email, claims.Name, claims.Picture, ip)
}

// HandleLogin is a thin net/http adapter that redirects to the provider.
func (f *OAuthFlow) HandleLogin(w http.ResponseWriter, r *http.Request) {
	url, err := f.BeginURL(r.Context())
	if err != nil {
		f.logger.Error("oauth begin failed", "error", err)
		http.Error(w, "oauth unavailable", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
