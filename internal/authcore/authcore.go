package authcore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/cache"
	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/ratelimit"
	"github.com/shortlinkhq/shortlink/internal/store"
)

// UserStore is the subset of the store gateway the auth core depends on.
type UserStore interface {
	CreateUser(ctx context.Context, p store.CreateUserParams) (model.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (model.User, error)
	TouchLastSeen(ctx context.Context, userID uuid.UUID) error
	TouchLastLogout(ctx context.Context, userID uuid.UUID) error
	BumpTokenVersion(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Service is the auth core (§4.5).
type Service struct {
	store    UserStore
	cache    *cache.Cache
	tokens   *TokenManager
	attempts *ratelimit.LoginCounter
	logger   *slog.Logger
}

// New builds the auth core.
func New(st UserStore, c *cache.Cache, tokens *TokenManager, attempts *ratelimit.LoginCounter, logger *slog.Logger) *Service {
	return &Service{store: st, cache: c, tokens: tokens, attempts: attempts, logger: logger}
}

// LoginResult is returned by Login/Register/OAuthLogin on success.
type LoginResult struct {
	User    model.User
	Tokens  Pair
	Session model.Session
}

func newSessionID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Register creates a new local User and issues a token pair immediately
// (§6 POST /api/auth/register).
func (s *Service) Register(ctx context.Context, email, password, displayName string) (LoginResult, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return LoginResult{}, fmt.Errorf("hashing password: %w", err)
	}
	hashStr := string(hash)

	u, err := s.store.CreateUser(ctx, store.CreateUserParams{
		Email:        email,
		PasswordHash: &hashStr,
		DisplayName:  displayName,
		Role:         model.RoleUser,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return LoginResult{}, apperr.New(apperr.CodeConflict, "an account with this email already exists")
		}
		return LoginResult{}, apperr.Wrap(apperr.CodeInternal, "registering user", err)
	}

	return s.issueSession(ctx, u, "", "")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login-specific closed-set errors (§4.5), surfaced as apperr.Error with
// the LoginXxx codes so the HTTP edge can apply apperr.LoginHTTPStatus.
func loginErr(code apperr.Code) *apperr.Error {
	return &apperr.Error{Code: code, Message: string(code)}
}

// Login authenticates by email/password (§4.5 login flow). ip is used
// both for the per-identity+IP brute-force counter and is otherwise
// opaque to this package.
func (s *Service) Login(ctx context.Context, email, password, ip string) (LoginResult, error) {
	email = normalizeEmail(email)

	if err := s.attempts.Check(ctx, email, ip); err != nil {
		return LoginResult{}, err
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = s.attempts.RecordFailure(ctx, email, ip)
			return LoginResult{}, loginErr(apperr.LoginUserNotFound)
		}
		return LoginResult{}, apperr.Wrap(apperr.CodeInternal, "looking up user", err)
	}

	if !u.IsActive {
		_ = s.attempts.RecordFailure(ctx, email, ip)
		return LoginResult{}, loginErr(apperr.LoginAccountDeactivated)
	}

	if u.PasswordHash == nil || *u.PasswordHash == "" {
		_ = s.attempts.RecordFailure(ctx, email, ip)
		return LoginResult{}, loginErr(apperr.LoginOAuthUserNoPassword)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(password)); err != nil {
		_ = s.attempts.RecordFailure(ctx, email, ip)
		return LoginResult{}, loginErr(apperr.LoginInvalidPassword)
	}

	if err := s.attempts.Clear(ctx, email, ip); err != nil {
		s.logger.Warn("clearing login attempt counter", "error", err)
	}
	if err := s.store.TouchLastSeen(ctx, u.ID); err != nil {
		s.logger.Warn("touching last seen", "error", err)
	}

	return s.issueSession(ctx, u, ip, "")
}

// OAuthLogin maps an already-verified provider identity to a local User,
// creating one on first sight with isEmailVerified=true and no password
// (§4.5 OAuth flow), then issues a session identically to password login.
func (s *Service) OAuthLogin(ctx context.Context, googleID, email, displayName, avatar, ip string) (LoginResult, error) {
	email = normalizeEmail(email)

	u, err := s.store.GetUserByGoogleID(ctx, googleID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		u, err = s.store.CreateUser(ctx, store.CreateUserParams{
			Email:         email,
			DisplayName:   displayName,
			Role:          model.RoleUser,
			GoogleID:      &googleID,
			Avatar:        &avatar,
			EmailVerified: true,
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicateEmail) {
				return LoginResult{}, apperr.New(apperr.CodeConflict, "an account with this email already exists")
			}
			return LoginResult{}, apperr.Wrap(apperr.CodeInternal, "creating oauth user", err)
		}
	case err != nil:
		return LoginResult{}, apperr.Wrap(apperr.CodeInternal, "looking up oauth user", err)
	}

	if !u.IsActive {
		return LoginResult{}, loginErr(apperr.LoginAccountDeactivated)
	}

	if err := s.store.TouchLastSeen(ctx, u.ID); err != nil {
		s.logger.Warn("touching last seen", "error", err)
	}
	return s.issueSession(ctx, u, ip, "")
}

func (s *Service) issueSession(ctx context.Context, u model.User, ip, userAgent string) (LoginResult, error) {
	pair, err := s.tokens.IssuePair(u.ID, u.Email, string(u.Role), u.TokenVersion)
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.CodeInternal, "issuing tokens", err)
	}

	sess := model.Session{
		SessionID:    newSessionID(),
		UserID:       u.ID,
		IssuedAt:     time.Now(),
		LastActivity: time.Now(),
		IP:           ip,
		UserAgent:    userAgent,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if err := s.cache.Set(ctx, cache.SessionKey(sess.SessionID), sess, RefreshTokenTTL); err != nil {
		s.logger.Warn("persisting session record", "error", err)
	}

	return LoginResult{User: u, Tokens: pair, Session: sess}, nil
}

// VerifyAccess runs the §4.5 token verification steps (1)-(5) for an
// access token.
func (s *Service) VerifyAccess(ctx context.Context, raw string) (model.User, Claims, error) {
	return s.verify(ctx, raw, TokenAccess)
}

func (s *Service) verify(ctx context.Context, raw string, want TokenType) (model.User, Claims, error) {
	blacklisted, err := s.cache.Exists(ctx, cache.BlacklistKey(raw))
	if err != nil {
		s.logger.Warn("checking token blacklist", "error", err)
	}
	if blacklisted {
		return model.User{}, Claims{}, apperr.New(apperr.CodeUnauthenticated, "token has been revoked")
	}

	v, err := s.tokens.Verify(raw, want)
	if err != nil {
		return model.User{}, Claims{}, apperr.Wrap(apperr.CodeUnauthenticated, "invalid token", err)
	}

	uid, err := uuid.Parse(v.Claims.UserID)
	if err != nil {
		return model.User{}, Claims{}, apperr.Wrap(apperr.CodeUnauthenticated, "invalid token subject", err)
	}

	u, err := s.store.GetUserByID(ctx, uid)
	if err != nil {
		return model.User{}, Claims{}, apperr.New(apperr.CodeUnauthenticated, "user not found")
	}
	if !u.IsActive {
		return model.User{}, Claims{}, apperr.New(apperr.CodeUnauthenticated, "account deactivated")
	}
	if u.TokenVersion != v.Claims.TokenVersion {
		return model.User{}, Claims{}, apperr.New(apperr.CodeUnauthenticated, "token has been superseded")
	}

	return u, v.Claims, nil
}

// Refresh rotates a refresh token: blacklists the presented token for its
// remaining TTL, removes the session it belonged to, and mints a fresh
// pair backed by a new Session record — exactly one Session exists per
// rotation (§4.5 refresh rotation). An invalid refresh token is itself
// blacklisted for its remaining lifetime to discourage repeated probing.
func (s *Service) Refresh(ctx context.Context, raw string) (Pair, error) {
	v, err := s.tokens.Verify(raw, TokenRefresh)
	if err != nil {
		s.blacklistBestEffort(ctx, raw, RefreshTokenTTL)
		return Pair{}, apperr.Wrap(apperr.CodeUnauthenticated, "invalid refresh token", err)
	}

	blacklisted, _ := s.cache.Exists(ctx, cache.BlacklistKey(raw))
	if blacklisted {
		return Pair{}, apperr.New(apperr.CodeUnauthenticated, "refresh token has been revoked")
	}

	uid, err := uuid.Parse(v.Claims.UserID)
	if err != nil {
		s.blacklistBestEffort(ctx, raw, RemainingTTL(v.ExpiresAt))
		return Pair{}, apperr.Wrap(apperr.CodeUnauthenticated, "invalid token subject", err)
	}

	u, err := s.store.GetUserByID(ctx, uid)
	if err != nil || !u.IsActive || u.TokenVersion != v.Claims.TokenVersion {
		s.blacklistBestEffort(ctx, raw, RemainingTTL(v.ExpiresAt))
		return Pair{}, apperr.New(apperr.CodeUnauthenticated, "refresh token no longer valid")
	}

	s.blacklistBestEffort(ctx, raw, RemainingTTL(v.ExpiresAt))
	oldSession := s.takeSessionByRefreshToken(ctx, raw)

	pair, err := s.tokens.IssuePair(u.ID, u.Email, string(u.Role), u.TokenVersion)
	if err != nil {
		return Pair{}, apperr.Wrap(apperr.CodeInternal, "issuing refreshed tokens", err)
	}
	if err := s.store.TouchLastSeen(ctx, u.ID); err != nil {
		s.logger.Warn("touching last seen on refresh", "error", err)
	}

	sess := model.Session{
		SessionID:    newSessionID(),
		UserID:       u.ID,
		IssuedAt:     time.Now(),
		LastActivity: time.Now(),
		IP:           oldSession.IP,
		UserAgent:    oldSession.UserAgent,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if err := s.cache.Set(ctx, cache.SessionKey(sess.SessionID), sess, RefreshTokenTTL); err != nil {
		s.logger.Warn("persisting rotated session record", "error", err)
	}

	return pair, nil
}

// takeSessionByRefreshToken finds and removes the Session record paired
// with refreshToken, carrying forward its IP/UserAgent to the rotated
// replacement. Returns the zero Session if none is found (best-effort:
// Refresh still succeeds without it).
func (s *Service) takeSessionByRefreshToken(ctx context.Context, refreshToken string) model.Session {
	keys, err := s.cache.Keys(ctx, cache.SessionKey("*"))
	if err != nil {
		s.logger.Warn("scanning sessions for refresh rotation", "error", err)
		return model.Session{}
	}
	for _, k := range keys {
		var sess model.Session
		if err := s.cache.Get(ctx, k, &sess); err != nil || sess.RefreshToken != refreshToken {
			continue
		}
		if err := s.cache.Del(ctx, k); err != nil {
			s.logger.Warn("deleting rotated session", "key", k, "error", err)
		}
		return sess
	}
	return model.Session{}
}

func (s *Service) blacklistBestEffort(ctx context.Context, token string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, cache.BlacklistKey(token), true, ttl); err != nil {
		s.logger.Warn("blacklisting token", "error", err)
	}
}

// Logout blacklists the presented access token for its remaining TTL,
// finds the Session it belongs to by scanning for a matching
// AccessToken (session ids are never handed back to clients, so the
// access token itself is the only correlator available), blacklists its
// paired refresh token and removes the session record, then clears user
// cache entries (§4.5 logout).
func (s *Service) Logout(ctx context.Context, accessToken string, userID uuid.UUID) error {
	v, err := s.tokens.Verify(accessToken, TokenAccess)
	if err == nil {
		s.blacklistBestEffort(ctx, accessToken, RemainingTTL(v.ExpiresAt))
	}

	keys, err := s.cache.Keys(ctx, cache.SessionKey("*"))
	if err != nil {
		s.logger.Warn("scanning sessions for logout sweep", "error", err)
	}
	for _, k := range keys {
		var sess model.Session
		if gerr := s.cache.Get(ctx, k, &sess); gerr != nil || sess.AccessToken != accessToken {
			continue
		}
		if sess.RefreshToken != "" {
			if rv, rerr := s.tokens.Verify(sess.RefreshToken, TokenRefresh); rerr == nil {
				s.blacklistBestEffort(ctx, sess.RefreshToken, RemainingTTL(rv.ExpiresAt))
			}
		}
		if derr := s.cache.Del(ctx, k); derr != nil {
			s.logger.Warn("deleting session record", "key", k, "error", derr)
		}
		break
	}

	if err := s.store.TouchLastLogout(ctx, userID); err != nil {
		s.logger.Warn("touching last logout", "error", err)
	}
	if err := s.cache.Del(ctx, cache.UserByIDKey(userID.String())); err != nil {
		s.logger.Warn("clearing user cache on logout", "error", err)
	}
	return nil
}

// LogoutAll atomically bumps tokenVersion (invalidating every outstanding
// token immediately, since step (5) of verification will fail for all of
// them), then walks known sessions for the user, blacklisting their
// tokens for graceful failure on still-open viewers and deleting them
// (§4.5 logout-all).
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.store.BumpTokenVersion(ctx, userID); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "invalidating sessions", err)
	}

	keys, err := s.cache.Keys(ctx, cache.SessionKey("*"))
	if err != nil {
		s.logger.Warn("scanning sessions for logout-all sweep", "error", err)
		return nil
	}
	for _, k := range keys {
		var sess model.Session
		if err := s.cache.Get(ctx, k, &sess); err != nil || sess.UserID != userID {
			continue
		}
		if v, err := s.tokens.Verify(sess.AccessToken, TokenAccess); err == nil {
			s.blacklistBestEffort(ctx, sess.AccessToken, RemainingTTL(v.ExpiresAt))
		}
		if v, err := s.tokens.Verify(sess.RefreshToken, TokenRefresh); err == nil {
			s.blacklistBestEffort(ctx, sess.RefreshToken, RemainingTTL(v.ExpiresAt))
		}
		if err := s.cache.Del(ctx, k); err != nil {
			s.logger.Warn("deleting session during logout-all", "key", k, "error", err)
		}
	}
	return nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header, mirroring the precedence chain the teacher's middleware uses.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return h[len(prefix):], true
}
