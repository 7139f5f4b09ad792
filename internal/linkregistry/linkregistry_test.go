package linkregistry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkhq/shortlink/internal/model"
)

func TestCanAccess_OrderingOfRejects(t *testing.T) {
	now := time.Now()
	expired := now.Add(-time.Hour)

	t.Run("expired wins over deactivated", func(t *testing.T) {
		l := model.Link{ExpiresAt: &expired, IsActive: false}
		require.Equal(t, AccessExpired, CanAccess(l, "", now))
	})

	t.Run("deactivated wins over geo and password", func(t *testing.T) {
		l := model.Link{IsActive: false, GeoRestrictions: &model.GeoRestrictions{Mode: model.GeoModeDeny, Countries: []string{"US"}}}
		require.Equal(t, AccessDeactivated, CanAccess(l, "US", now))
	})

	t.Run("geo blocked wins over password", func(t *testing.T) {
		hash := "x"
		l := model.Link{IsActive: true, GeoRestrictions: &model.GeoRestrictions{Mode: model.GeoModeDeny, Countries: []string{"US"}}, PasswordHash: &hash}
		require.Equal(t, AccessGeoBlocked, CanAccess(l, "US", now))
	})

	t.Run("password required when nothing else blocks", func(t *testing.T) {
		hash := "x"
		l := model.Link{IsActive: true, PasswordHash: &hash}
		require.Equal(t, AccessPasswordRequired, CanAccess(l, "", now))
	})

	t.Run("allowed", func(t *testing.T) {
		l := model.Link{IsActive: true}
		require.Equal(t, AccessAllowed, CanAccess(l, "", now))
	})
}

func TestCanAccess_GeoModes(t *testing.T) {
	now := time.Now()

	allow := model.Link{IsActive: true, GeoRestrictions: &model.GeoRestrictions{Mode: model.GeoModeAllow, Countries: []string{"US", "CA"}}}
	require.Equal(t, AccessAllowed, CanAccess(allow, "US", now))
	require.Equal(t, AccessGeoBlocked, CanAccess(allow, "FR", now))
	require.Equal(t, AccessAllowed, CanAccess(allow, "", now)) // unknown location matches neither list

	deny := model.Link{IsActive: true, GeoRestrictions: &model.GeoRestrictions{Mode: model.GeoModeDeny, Countries: []string{"US"}}}
	require.Equal(t, AccessGeoBlocked, CanAccess(deny, "US", now))
	require.Equal(t, AccessAllowed, CanAccess(deny, "FR", now))
}

func TestBuildFinalURL(t *testing.T) {
	l := model.Link{OriginalURL: "https://example.com/x", UTMParameters: map[string]string{"utm_source": "nl"}}
	out, err := BuildFinalURL(l)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/x?utm_source=nl", out)
}

func TestBuildFinalURL_Idempotent(t *testing.T) {
	l := model.Link{OriginalURL: "https://example.com/x?utm_source=nl", UTMParameters: map[string]string{"utm_source": "nl"}}
	once, err := BuildFinalURL(l)
	require.NoError(t, err)
	l2 := l
	l2.OriginalURL = once
	twice, err := BuildFinalURL(l2)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestCheckPassword(t *testing.T) {
	noPW := model.Link{}
	require.True(t, CheckPassword(noPW, "anything"))
}

func TestCanModify(t *testing.T) {
	owner := model.User{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111")}
	other := model.User{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222")}
	admin := model.User{ID: uuid.MustParse("33333333-3333-3333-3333-333333333333"), Role: model.RoleAdmin}
	l := model.Link{OwnerUserID: owner.ID}

	require.True(t, CanModify(l, owner))
	require.False(t, CanModify(l, other))
	require.True(t, CanModify(l, admin))
}
