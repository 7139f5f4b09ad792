package domainregistry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/store"
)

type fakeStore struct {
	domains      map[uuid.UUID]model.Domain
	byHost       map[string]model.Domain
	activeLinks  map[uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{domains: map[uuid.UUID]model.Domain{}, byHost: map[string]model.Domain{}, activeLinks: map[uuid.UUID]bool{}}
}

func (f *fakeStore) CreateDomain(ctx context.Context, p store.CreateDomainParams) (model.Domain, error) {
	if _, ok := f.byHost[p.Host]; ok {
		return model.Domain{}, store.ErrDuplicateHost
	}
	d := model.Domain{ID: uuid.New(), OwnerUserID: p.OwnerUserID, Host: p.Host, DisplayName: p.DisplayName, VerificationToken: p.VerificationToken, MonthlyLinkLimit: p.MonthlyLinkLimit}
	f.domains[d.ID] = d
	f.byHost[d.Host] = d
	return d, nil
}

func (f *fakeStore) GetDomain(ctx context.Context, id uuid.UUID) (model.Domain, error) {
	d, ok := f.domains[id]
	if !ok {
		return model.Domain{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) GetActiveByHost(ctx context.Context, host string) (model.Domain, error) {
	d, ok := f.byHost[host]
	if !ok || !d.IsActive || !d.IsVerified {
		return model.Domain{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) ListDomainsByOwner(ctx context.Context, userID uuid.UUID) ([]model.Domain, error) {
	var out []model.Domain
	for _, d := range f.domains {
		if d.OwnerUserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkDomainVerified(ctx context.Context, id uuid.UUID) (model.Domain, error) {
	d, ok := f.domains[id]
	if !ok {
		return model.Domain{}, store.ErrNotFound
	}
	d.IsVerified = true
	d.IsActive = true
	f.domains[id] = d
	f.byHost[d.Host] = d
	return d, nil
}

func (f *fakeStore) IncrementDomainUsage(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeStore) ResetMonthlyUsage(ctx context.Context) (int, error)          { return 0, nil }
func (f *fakeStore) HasActiveLinks(ctx context.Context, domainID uuid.UUID) (bool, error) {
	return f.activeLinks[domainID], nil
}
func (f *fakeStore) DeleteDomain(ctx context.Context, id uuid.UUID) error {
	if f.activeLinks[id] {
		return store.ErrDomainHasActiveLinks
	}
	delete(f.domains, id)
	return nil
}

type fakeResolver struct {
	txt   map[string][]string
	cname map[string]string
}

func (f *fakeResolver) LookupTXT(ctx context.Context, host string) ([]string, error) {
	return f.txt[host], nil
}

func (f *fakeResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	return f.cname[host], nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestVerifyDomain_Success(t *testing.T) {
	st := newFakeStore()
	owner := uuid.New()
	d, err := (&Registry{store: st, systemHost: "sho.rt", logger: testLogger()}).AddDomain(context.Background(), owner, "go.acme.test", "Acme", 1000)
	require.NoError(t, err)

	res := &fakeResolver{txt: map[string][]string{"_shortlink-verify.go.acme.test": {d.VerificationToken}}}
	reg := New(st, res, "sho.rt", testLogger())

	verified, warning, err := reg.VerifyDomain(context.Background(), d.ID)
	require.NoError(t, err)
	require.True(t, verified.IsVerified)
	require.True(t, verified.IsActive)
	require.NotEmpty(t, warning) // cname lookup empty -> mismatch warning produced
}

func TestVerifyDomain_TokenMismatch(t *testing.T) {
	st := newFakeStore()
	reg := New(st, &fakeResolver{}, "sho.rt", testLogger())
	d, err := reg.AddDomain(context.Background(), uuid.New(), "go.acme.test", "Acme", 1000)
	require.NoError(t, err)

	reg.resolver = &fakeResolver{txt: map[string][]string{"_shortlink-verify.go.acme.test": {"wrong-token"}}}
	_, _, err = reg.VerifyDomain(context.Background(), d.ID)
	require.Error(t, err)
}

func TestResolveHost_SystemHostIsNilDomain(t *testing.T) {
	reg := New(newFakeStore(), &fakeResolver{}, "sho.rt", testLogger())
	d, err := reg.ResolveHost(context.Background(), "sho.rt:443")
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestResolveHost_UnverifiedMissing(t *testing.T) {
	st := newFakeStore()
	reg := New(st, &fakeResolver{}, "sho.rt", testLogger())
	_, err := reg.AddDomain(context.Background(), uuid.New(), "go.acme.test", "Acme", 1000)
	require.NoError(t, err)

	_, err = reg.ResolveHost(context.Background(), "go.acme.test")
	require.Error(t, err)
}

func TestDeleteDomain_BlockedByActiveLinks(t *testing.T) {
	st := newFakeStore()
	reg := New(st, &fakeResolver{}, "sho.rt", testLogger())
	d, err := reg.AddDomain(context.Background(), uuid.New(), "go.acme.test", "Acme", 1000)
	require.NoError(t, err)

	st.activeLinks[d.ID] = true
	err = reg.DeleteDomain(context.Background(), d.ID)
	require.Error(t, err)
}

func TestNormalizeHost(t *testing.T) {
	require.Equal(t, "go.acme.test", NormalizeHost("Go.Acme.Test:8443"))
}
