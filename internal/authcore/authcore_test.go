package authcore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkhq/shortlink/internal/authcore"
	"github.com/shortlinkhq/shortlink/internal/cache"
	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/store"
)

type fakeUserStore struct {
	users map[uuid.UUID]model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[uuid.UUID]model.User{}}
}

func (f *fakeUserStore) CreateUser(ctx context.Context, p store.CreateUserParams) (model.User, error) {
	u := model.User{
		ID:          uuid.New(),
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		IsActive:    true,
	}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, store.ErrNotFound
}

func (f *fakeUserStore) GetUserByGoogleID(ctx context.Context, googleID string) (model.User, error) {
	return model.User{}, store.ErrNotFound
}

func (f *fakeUserStore) TouchLastSeen(ctx context.Context, userID uuid.UUID) error   { return nil }
func (f *fakeUserStore) TouchLastLogout(ctx context.Context, userID uuid.UUID) error { return nil }

func (f *fakeUserStore) BumpTokenVersion(ctx context.Context, userID uuid.UUID) (int64, error) {
	u := f.users[userID]
	u.TokenVersion++
	f.users[userID] = u
	return u.TokenVersion, nil
}

func newTestService(t *testing.T) (*authcore.Service, *fakeUserStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New(rdb, logger)
	tokens, err := authcore.NewTokenManager("a-signing-secret-at-least-32-bytes-long", "shortlink", "shortlink-api")
	require.NoError(t, err)

	st := newFakeUserStore()
	return authcore.New(st, c, tokens, nil, logger), st
}

func TestRefresh_RotatesExactlyOneSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "person@example.com", "longenough1", "Person")
	require.NoError(t, err)
	require.NotEmpty(t, reg.Session.SessionID)
	require.Equal(t, reg.Tokens.RefreshToken, reg.Session.RefreshToken)

	rotated, err := svc.Refresh(ctx, reg.Tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, reg.Tokens.AccessToken, rotated.AccessToken)
	require.NotEqual(t, reg.Tokens.RefreshToken, rotated.RefreshToken)

	// The old refresh token is now blacklisted and can't be rotated again.
	_, err = svc.Refresh(ctx, reg.Tokens.RefreshToken)
	require.Error(t, err)

	// The rotated access token verifies against the live user.
	_, _, err = svc.VerifyAccess(ctx, rotated.AccessToken)
	require.NoError(t, err)

	// Rotating again from the new pair succeeds: the rotated refresh token
	// is not blacklisted and carries the user's current token version.
	rotatedAgain, err := svc.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, rotated.RefreshToken, rotatedAgain.RefreshToken)
}

func TestLogout_RevokesAccessTokenAndSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "person@example.com", "longenough1", "Person")
	require.NoError(t, err)

	_, _, err = svc.VerifyAccess(ctx, reg.Tokens.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, reg.Tokens.AccessToken, reg.User.ID))

	_, _, err = svc.VerifyAccess(ctx, reg.Tokens.AccessToken)
	require.Error(t, err, "blacklisted access token must fail verification")

	// Logout also blacklisted the session's paired refresh token, so
	// rotating it afterwards is refused and mints nothing.
	rotated, err := svc.Refresh(ctx, reg.Tokens.RefreshToken)
	require.Error(t, err, "refresh token paired with the logged-out session must be revoked")
	require.Empty(t, rotated.AccessToken)
}

func TestLogoutAll_RevokesEveryIssuedPair(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "person@example.com", "longenough1", "Person")
	require.NoError(t, err)

	require.NoError(t, svc.LogoutAll(ctx, reg.User.ID))

	_, _, err = svc.VerifyAccess(ctx, reg.Tokens.AccessToken)
	require.Error(t, err, "token version bump must invalidate the pre-existing access token")
}
