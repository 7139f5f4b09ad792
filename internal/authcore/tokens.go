// Package authcore is the auth core of §4.5: it issues and validates
// access/refresh token pairs, enforces brute-force limits on password
// login, and provides the logout-all primitive. Tokens are self-signed
// HMAC-SHA256 JWTs via go-jose, issued as an access/refresh pair.
package authcore

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// TokenType distinguishes access from refresh tokens inside the claim set
// — verification rejects a token presented as the wrong type.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Default token lifetimes (§4.5).
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims is the payload embedded in both access and refresh tokens. Access
// tokens additionally carry Email/Role; refresh tokens leave them zero.
type Claims struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email,omitempty"`
	Role         string    `json:"role,omitempty"`
	TokenVersion int64     `json:"tokenVersion"`
	Type         TokenType `json:"type"`
}

// TokenManager issues and verifies HMAC-signed token pairs.
type TokenManager struct {
	signingKey []byte
	issuer     string
	audience   string
}

// NewTokenManager builds a TokenManager. secret must be at least 32 bytes.
func NewTokenManager(secret, issuer, audience string) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("authcore: signing secret must be at least 32 bytes, got %d", len(secret))
	}
	return &TokenManager{signingKey: []byte(secret), issuer: issuer, audience: audience}, nil
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (tm *TokenManager) sign(claims Claims, subject string, ttl time.Duration) (string, time.Time, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: tm.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("authcore: creating signer: %w", err)
	}

	now := time.Now()
	exp := now.Add(ttl)
	registered := jwt.Claims{
		Subject:   subject,
		Issuer:    tm.issuer,
		Audience:  jwt.Audience{tm.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}

	raw, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("authcore: signing token: %w", err)
	}
	return raw, exp, nil
}

// IssuePair mints a fresh access/refresh pair for userID at tokenVersion.
func (tm *TokenManager) IssuePair(userID uuid.UUID, email, role string, tokenVersion int64) (Pair, error) {
	access, exp, err := tm.sign(Claims{
		UserID: userID.String(), Email: email, Role: role, TokenVersion: tokenVersion, Type: TokenAccess,
	}, userID.String(), AccessTokenTTL)
	if err != nil {
		return Pair{}, err
	}

	refresh, _, err := tm.sign(Claims{
		UserID: userID.String(), TokenVersion: tokenVersion, Type: TokenRefresh,
	}, userID.String(), RefreshTokenTTL)
	if err != nil {
		return Pair{}, err
	}

	return Pair{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}

// Verified is the decoded, structurally-valid result of Verify. Callers
// still must check blacklist presence and user.tokenVersion — Verify only
// checks signature, expiry, and type.
type Verified struct {
	Claims    Claims
	ExpiresAt time.Time
	Raw       string
}

// Verify checks signature, not-expired, and that the token's type matches
// want. It does not consult the blacklist or the user's current
// tokenVersion — those are the caller's responsibility (§4.5 steps 1, 4, 5).
func (tm *TokenManager) Verify(raw string, want TokenType) (Verified, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Verified{}, fmt.Errorf("authcore: parsing token: %w", err)
	}

	var registered jwt.Claims
	var claims Claims
	if err := tok.Claims(tm.signingKey, &registered, &claims); err != nil {
		return Verified{}, fmt.Errorf("authcore: verifying token signature: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer:   tm.issuer,
		Audience: jwt.Audience{tm.audience},
	}, 5*time.Second); err != nil {
		return Verified{}, fmt.Errorf("authcore: validating claims: %w", err)
	}

	if claims.Type != want {
		return Verified{}, fmt.Errorf("authcore: expected token type %q, got %q", want, claims.Type)
	}

	var exp time.Time
	if registered.Expiry != nil {
		exp = registered.Expiry.Time()
	}
	return Verified{Claims: claims, ExpiresAt: exp, Raw: raw}, nil
}

// RemainingTTL returns how long until exp, floored at zero.
func RemainingTTL(exp time.Time) time.Duration {
	d := time.Until(exp)
	if d < 0 {
		return 0
	}
	return d
}
