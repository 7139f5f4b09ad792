package resolver

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkhq/shortlink/internal/linkregistry"
	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/store"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeLinkStore struct {
	links map[uuid.UUID]model.Link
}

func newFakeLinkStore() *fakeLinkStore { return &fakeLinkStore{links: map[uuid.UUID]model.Link{}} }

func (f *fakeLinkStore) GenerateUniqueShortCode(ctx context.Context, domainID *uuid.UUID, length int) (string, error) {
	return "generated", nil
}
func (f *fakeLinkStore) CreateLink(ctx context.Context, p store.CreateLinkParams) (model.Link, error) {
	return model.Link{}, nil
}
func (f *fakeLinkStore) FindByShortCodeAndDomain(ctx context.Context, shortCode string, domainID *uuid.UUID) (model.Link, error) {
	for _, l := range f.links {
		if l.ShortCode == shortCode && domainID == nil {
			return l, nil
		}
	}
	return model.Link{}, store.ErrNotFound
}
func (f *fakeLinkStore) GetLink(ctx context.Context, id uuid.UUID) (model.Link, error) {
	l, ok := f.links[id]
	if !ok {
		return model.Link{}, store.ErrNotFound
	}
	return l, nil
}
func (f *fakeLinkStore) ListLinksByOwner(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Link, error) {
	return nil, nil
}
func (f *fakeLinkStore) CountLinksByOwner(ctx context.Context, userID uuid.UUID) (int, error) {
	return 0, nil
}
func (f *fakeLinkStore) UpdateLink(ctx context.Context, p store.UpdateLinkParams) (model.Link, error) {
	return model.Link{}, nil
}
func (f *fakeLinkStore) SoftDeleteLink(ctx context.Context, id uuid.UUID) error { return nil }

type fakeDomainResolver struct{}

func (fakeDomainResolver) ResolveHost(ctx context.Context, host string) (*model.Domain, error) {
	return nil, nil
}
func (fakeDomainResolver) RecordLinkCreated(ctx context.Context, domainID uuid.UUID) error { return nil }

type fakeClickStore struct {
	inserted int
}

func (f *fakeClickStore) UniqueClick(ctx context.Context, linkID uuid.UUID, ip string) (bool, error) {
	return true, nil
}
func (f *fakeClickStore) InsertClickAndIncrement(ctx context.Context, p store.InsertClickParams, isUnique bool) (model.Click, error) {
	f.inserted++
	return model.Click{LinkID: p.LinkID, IPAddress: p.IPAddress, DeviceType: p.DeviceType, Timestamp: time.Now()}, nil
}

func newTestResolver(t *testing.T, link model.Link) (*Resolver, *fakeClickStore) {
	t.Helper()
	ls := newFakeLinkStore()
	ls.links[link.ID] = link
	links := linkregistry.New(ls, fakeDomainResolver{}, "sho.rt", testLogger())
	clicks := &fakeClickStore{}
	return New(links, clicks, nil, nil, nil, testLogger()), clicks
}

func baseLink() model.Link {
	return model.Link{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		ShortCode:   "abc1234",
		OriginalURL: "https://example.com/target",
		IsActive:    true,
	}
}

func TestResolve_HumanHitRedirectsAndRecordsClick(t *testing.T) {
	r, clicks := newTestResolver(t, baseLink())

	out, err := r.Resolve(context.Background(), Request{
		HostName:  "sho.rt",
		ShortCode: "abc1234",
		IP:        "1.2.3.4",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeRedirect, out.Kind)
	require.Equal(t, "https://example.com/target", out.FinalURL)
	require.Equal(t, 1, clicks.inserted)
}

func TestResolve_BotDoesNotRecordClick(t *testing.T) {
	r, clicks := newTestResolver(t, baseLink())

	out, err := r.Resolve(context.Background(), Request{
		HostName:  "sho.rt",
		ShortCode: "abc1234",
		UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1)",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeBotMetadata, out.Kind)
	require.Zero(t, clicks.inserted)
}

func TestResolve_ExpiredLinkReturnsGone(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	link := baseLink()
	link.ExpiresAt = &past
	r, _ := newTestResolver(t, link)

	_, err := r.Resolve(context.Background(), Request{HostName: "sho.rt", ShortCode: link.ShortCode, UserAgent: "curl/8"})
	require.Error(t, err)
}

func TestResolve_PasswordRequiredWithoutSubmission(t *testing.T) {
	hash := "$2a$10$notarealbcrypthashxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	link := baseLink()
	link.PasswordHash = &hash
	r, _ := newTestResolver(t, link)

	out, err := r.Resolve(context.Background(), Request{HostName: "sho.rt", ShortCode: link.ShortCode, UserAgent: "curl/8"})
	require.Error(t, err)
	require.True(t, out.PasswordRequired)
}

func TestResolve_UnknownShortCodeNotFound(t *testing.T) {
	r, _ := newTestResolver(t, baseLink())

	_, err := r.Resolve(context.Background(), Request{HostName: "sho.rt", ShortCode: "doesnotexist", UserAgent: "curl/8"})
	require.Error(t, err)
}

func TestValidateShortCode(t *testing.T) {
	require.NoError(t, ValidateShortCode("abc123"))
	require.Error(t, ValidateShortCode(""))
	require.Error(t, ValidateShortCode("favicon.ico"))
	require.Error(t, ValidateShortCode("has.dot"))
	require.Error(t, ValidateShortCode("has space"))
}

func TestIsBotUserAgent(t *testing.T) {
	require.True(t, IsBotUserAgent("Mozilla/5.0 (compatible; bingbot/2.0)"))
	require.False(t, IsBotUserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15) Safari/605.1.15"))
}

func TestClassifyUserAgent(t *testing.T) {
	device, browser, os := classifyUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Safari/604.1")
	require.Equal(t, model.DeviceMobile, device)
	require.Equal(t, "Safari", browser)
	require.Equal(t, "iOS", os)
}
