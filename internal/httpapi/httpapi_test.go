package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/shortlinkhq/shortlink/internal/linkregistry"
	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/resolver"
	"github.com/shortlinkhq/shortlink/internal/store"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// --- fakes satisfying the narrow Store/DomainResolver/ClickStore interfaces ---

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

type fakeClickStore struct{ inserted int }

func (f *fakeClickStore) UniqueClick(ctx context.Context, linkID uuid.UUID, ip string) (bool, error) {
	return true, nil
}
func (f *fakeClickStore) InsertClickAndIncrement(ctx context.Context, p store.InsertClickParams, isUnique bool) (model.Click, error) {
	f.inserted++
	return model.Click{LinkID: p.LinkID, Timestamp: time.Now()}, nil
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

// newRedirectAPI builds an API whose resolver is wired to real
// linkregistry/resolver services over fake stores, for end-to-end
// coverage of the redirect surface without a database.
func newRedirectAPI(t *testing.T, link model.Link) *API {
	t.Helper()
	ls := newFakeLinkStore()
	ls.links[link.ID] = link
	links := linkregistry.New(ls, fakeDomainResolver{}, "sho.rt", testLogger())
	res := resolver.New(links, &fakeClickStore{}, nil, nil, nil, testLogger())
	return New(nil, links, nil, res, nil, nil, testLogger())
}

func TestHandleRedirect_HumanHitRedirects(t *testing.T) {
	a := newRedirectAPI(t, baseLink())
	router := chi.NewRouter()
	a.MountRedirects(router)

	r := httptest.NewRequest(http.MethodGet, "/abc1234", nil)
	r.Host = "sho.rt"
	r.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "https://example.com/target", w.Header().Get("Location"))
}

func TestHandleRedirect_UnknownShortCodeNotFound(t *testing.T) {
	a := newRedirectAPI(t, baseLink())
	router := chi.NewRouter()
	a.MountRedirects(router)

	r := httptest.NewRequest(http.MethodGet, "/doesnotexist", nil)
	r.Host = "sho.rt"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRedirect_ExpiredLinkReturnsGone(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	link := baseLink()
	link.ExpiresAt = &past
	a := newRedirectAPI(t, link)
	router := chi.NewRouter()
	a.MountRedirects(router)

	r := httptest.NewRequest(http.MethodGet, "/"+link.ShortCode, nil)
	r.Host = "sho.rt"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusGone, w.Code)
}

func TestHandleRedirect_PasswordRequiredThenAccepted(t *testing.T) {
	hashBytes, err := bcrypt.GenerateFromPassword([]byte("swordfish"), bcrypt.DefaultCost)
	require.NoError(t, err)
	hash := string(hashBytes)
	link := baseLink()
	link.PasswordHash = &hash
	a := newRedirectAPI(t, link)
	router := chi.NewRouter()
	a.MountRedirects(router)

	r := httptest.NewRequest(http.MethodGet, "/"+link.ShortCode, nil)
	r.Host = "sho.rt"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	body := `{"password":"swordfish"}`
	r2 := httptest.NewRequest(http.MethodPost, "/"+link.ShortCode+"/password", strings.NewReader(body))
	r2.Host = "sho.rt"
	r2.Header.Set("Content-Type", "application/json")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, r2)
	require.Equal(t, http.StatusFound, w2.Code)
}

func TestHandlePreview_NoSideEffects(t *testing.T) {
	link := baseLink()
	a := newRedirectAPI(t, link)
	router := chi.NewRouter()
	a.MountRedirects(router)

	r := httptest.NewRequest(http.MethodGet, "/preview/"+link.ShortCode, nil)
	r.Host = "sho.rt"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), link.OriginalURL)
}

// --- validation-path tests: these fail before touching any service, so a
// zero-value API (nil auth/links/domains/resolver) exercises them safely.

func TestHandleRegister_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing email", `{"password":"longenough1","name":"A"}`, http.StatusUnprocessableEntity},
		{"password too short", `{"email":"a@b.com","password":"short","name":"A"}`, http.StatusUnprocessableEntity},
		{"missing name", `{"email":"a@b.com","password":"longenough1"}`, http.StatusUnprocessableEntity},
		{"invalid JSON", `{bad}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}

	a := New(nil, nil, nil, nil, nil, nil, testLogger())
	router := chi.NewRouter()
	router.Mount("/api/auth", a.AuthRoutes())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestHandleLogin_Validation(t *testing.T) {
	a := New(nil, nil, nil, nil, nil, nil, testLogger())
	router := chi.NewRouter()
	router.Mount("/api/auth", a.AuthRoutes())

	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"not-an-email"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestProtectedRoutes_RequireBearerToken(t *testing.T) {
	a := New(nil, nil, nil, nil, nil, nil, testLogger())
	router := chi.NewRouter()
	router.Mount("/api/links", a.LinkRoutes())
	router.Mount("/api/domains", a.DomainRoutes())

	for _, path := range []string{"/api/links", "/api/domains"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

// TestAuthRoutes_GoogleOmittedWithoutOAuthFlow confirms the Google
// login routes are only mounted when an OAuthFlow is configured
// (GOOGLE_CLIENT_ID set), matching the nil-means-disabled contract
// documented on New.
func TestAuthRoutes_GoogleOmittedWithoutOAuthFlow(t *testing.T) {
	a := New(nil, nil, nil, nil, nil, nil, testLogger())
	router := chi.NewRouter()
	router.Mount("/api/auth", a.AuthRoutes())

	r := httptest.NewRequest(http.MethodGet, "/api/auth/google", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusNotFound, w.Code)
}
