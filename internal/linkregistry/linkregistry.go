// Package linkregistry implements §4.7: short-code allocation, edit, and
// soft-delete of Links, the (shortCode, host) resolution rule, the
// canAccess policy, and final-URL synthesis from UTM parameters.
package linkregistry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/domainregistry"
	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/store"
)

// DefaultShortCodeLength is the starting length GenerateUniqueShortCode
// draws from for auto-generated codes.
const DefaultShortCodeLength = 7

// Store is the subset of the primary store the registry depends on.
type Store interface {
	GenerateUniqueShortCode(ctx context.Context, domainID *uuid.UUID, length int) (string, error)
	CreateLink(ctx context.Context, p store.CreateLinkParams) (model.Link, error)
	FindByShortCodeAndDomain(ctx context.Context, shortCode string, domainID *uuid.UUID) (model.Link, error)
	GetLink(ctx context.Context, id uuid.UUID) (model.Link, error)
	ListLinksByOwner(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Link, error)
	CountLinksByOwner(ctx context.Context, userID uuid.UUID) (int, error)
	UpdateLink(ctx context.Context, p store.UpdateLinkParams) (model.Link, error)
	SoftDeleteLink(ctx context.Context, id uuid.UUID) error
}

// DomainResolver is the subset of domainregistry.Registry the link
// registry needs for resolution.
type DomainResolver interface {
	ResolveHost(ctx context.Context, host string) (*model.Domain, error)
	RecordLinkCreated(ctx context.Context, domainID uuid.UUID) error
}

// Registry is the link registry service.
type Registry struct {
	store      Store
	domains    DomainResolver
	systemHost string
	logger     *slog.Logger
}

// New builds a Registry.
func New(st Store, domains DomainResolver, systemHost string, logger *slog.Logger) *Registry {
	return &Registry{store: st, domains: domains, systemHost: systemHost, logger: logger}
}

// CreateParams is the input to CreateLink.
type CreateParams struct {
	OwnerUserID     uuid.UUID
	DomainID        *uuid.UUID // nil = system domain
	OriginalURL     string
	CustomCode      string // empty means auto-generate
	Title           string
	Description     string
	Campaign        string
	Tags            []string
	Password        string // plaintext; hashed here if non-empty
	ExpiresAt       *time.Time
	UTMParameters   map[string]string
	GeoRestrictions *model.GeoRestrictions
}

// CreateLink allocates a short code (or validates a custom one) and
// persists a new Link.
func (r *Registry) CreateLink(ctx context.Context, p CreateParams) (model.Link, error) {
	if p.OriginalURL == "" {
		return model.Link{}, apperr.New(apperr.CodeValidation, "originalUrl is required")
	}
	if _, err := url.ParseRequestURI(p.OriginalURL); err != nil {
		return model.Link{}, apperr.New(apperr.CodeValidation, "originalUrl is not a valid URL")
	}

	var code string
	custom := p.CustomCode != ""
	if custom {
		if !regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`).MatchString(p.CustomCode) {
			return model.Link{}, apperr.New(apperr.CodeValidation, "short code must match [A-Za-z0-9_-]{1,50}")
		}
		if model.ReservedShortCodes[p.CustomCode] {
			return model.Link{}, apperr.New(apperr.CodeValidation, "short code is reserved")
		}
		code = p.CustomCode
	} else {
		generated, err := r.store.GenerateUniqueShortCode(ctx, p.DomainID, DefaultShortCodeLength)
		if err != nil {
			if errors.Is(err, store.ErrShortCodeExhausted) {
				return model.Link{}, apperr.Wrap(apperr.CodeInternal, "short code space exhausted", err)
			}
			return model.Link{}, apperr.Wrap(apperr.CodeInternal, "generating short code", err)
		}
		code = generated
	}

	var passwordHash *string
	if p.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
		if err != nil {
			return model.Link{}, apperr.Wrap(apperr.CodeInternal, "hashing link password", err)
		}
		s := string(h)
		passwordHash = &s
	}

	fullURL := r.fullShortURL(p.DomainID, code)

	link, err := r.store.CreateLink(ctx, store.CreateLinkParams{
		OwnerUserID:     p.OwnerUserID,
		DomainID:        p.DomainID,
		OriginalURL:     p.OriginalURL,
		ShortCode:       code,
		CustomCode:      custom,
		Title:           p.Title,
		Description:     p.Description,
		Campaign:        p.Campaign,
		Tags:            p.Tags,
		PasswordHash:    passwordHash,
		ExpiresAt:       p.ExpiresAt,
		UTMParameters:   p.UTMParameters,
		GeoRestrictions: p.GeoRestrictions,
		FullShortURL:    fullURL,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateShortCode) {
			return model.Link{}, apperr.New(apperr.CodeConflict, "short code already in use")
		}
		return model.Link{}, apperr.Wrap(apperr.CodeInternal, "creating link", err)
	}

	if p.DomainID != nil {
		if err := r.domains.RecordLinkCreated(ctx, *p.DomainID); err != nil {
			r.logger.Warn("recording domain usage after link creation", "error", err)
		}
	}
	return link, nil
}

func (r *Registry) fullShortURL(domainID *uuid.UUID, code string) string {
	host := r.systemHost
	// Custom-domain full URLs are resolved by the caller mounting handlers
	// at request time, since the registry only has the Domain's ID here,
	// not its host; system-domain links can be built immediately.
	if domainID == nil {
		return fmt.Sprintf("https://%s/%s", host, code)
	}
	return ""
}

// Resolution is the outcome of Resolve: the Link plus the Domain it was
// found under (nil for the system domain).
type Resolution struct {
	Link   model.Link
	Domain *model.Domain
}

// Resolve implements the §4.7 resolution rule: normalize host, locate the
// owning Domain (or system domain), then the Link by (shortCode, domainId).
func (r *Registry) Resolve(ctx context.Context, hostName, shortCode string) (Resolution, error) {
	host := domainregistry.NormalizeHost(hostName)

	var domainID *uuid.UUID
	var domain *model.Domain
	if host != domainregistry.NormalizeHost(r.systemHost) {
		d, err := r.domains.ResolveHost(ctx, hostName)
		if err != nil {
			return Resolution{}, err
		}
		if d == nil {
			return Resolution{}, apperr.New(apperr.CodeNotFound, "domain not found")
		}
		domain = d
		domainID = &d.ID
	}

	link, err := r.store.FindByShortCodeAndDomain(ctx, shortCode, domainID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Resolution{}, apperr.New(apperr.CodeNotFound, "link not found")
		}
		return Resolution{}, apperr.Wrap(apperr.CodeInternal, "resolving link", err)
	}
	return Resolution{Link: link, Domain: domain}, nil
}

// AccessDenial is the reason canAccess rejected a Link, ordered per §4.8
// step 3: expired → deactivated → geo-blocked → password-required.
type AccessDenial int

const (
	AccessAllowed AccessDenial = iota
	AccessExpired
	AccessDeactivated
	AccessGeoBlocked
	AccessPasswordRequired
)

// CanAccess runs the §4.7 access policy. country is the visitor's
// resolved ISO country code, empty when unknown.
func CanAccess(link model.Link, country string, now time.Time) AccessDenial {
	if link.ExpiresAt != nil && !link.ExpiresAt.After(now) {
		return AccessExpired
	}
	if !link.IsActive {
		return AccessDeactivated
	}
	if link.GeoRestrictions != nil && country != "" {
		in := false
		for _, c := range link.GeoRestrictions.Countries {
			if c == country {
				in = true
				break
			}
		}
		switch link.GeoRestrictions.Mode {
		case model.GeoModeDeny:
			if in {
				return AccessGeoBlocked
			}
		case model.GeoModeAllow:
			if !in {
				return AccessGeoBlocked
			}
		}
	}
	if link.PasswordHash != nil {
		return AccessPasswordRequired
	}
	return AccessAllowed
}

// CheckPassword compares candidate against the Link's stored hash.
func CheckPassword(link model.Link, candidate string) bool {
	if link.PasswordHash == nil {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(candidate)) == nil
}

// BuildFinalURL synthesizes the redirect target: originalUrl with every
// utmParameters entry set as a query parameter (§4.7). Idempotent when
// the parameters are already present with the same values.
func BuildFinalURL(link model.Link) (string, error) {
	u, err := url.Parse(link.OriginalURL)
	if err != nil {
		return "", fmt.Errorf("linkregistry: parsing original url: %w", err)
	}
	q := u.Query()
	for k, v := range link.UTMParameters {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GetByID loads a Link by ID, for owner/admin-gated handlers.
func (r *Registry) GetByID(ctx context.Context, id uuid.UUID) (model.Link, error) {
	l, err := r.store.GetLink(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Link{}, apperr.New(apperr.CodeNotFound, "link not found")
		}
		return model.Link{}, apperr.Wrap(apperr.CodeInternal, "loading link", err)
	}
	return l, nil
}

// ListOwned returns a page of Links owned by userID.
func (r *Registry) ListOwned(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Link, error) {
	out, err := r.store.ListLinksByOwner(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "listing links", err)
	}
	return out, nil
}

// CountOwned returns the total number of Links owned by userID, for
// pagination alongside ListOwned.
func (r *Registry) CountOwned(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := r.store.CountLinksByOwner(ctx, userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "counting links", err)
	}
	return n, nil
}

// CanModify enforces owner-or-admin gating (§6).
func CanModify(link model.Link, actor model.User) bool {
	return actor.Role == model.RoleAdmin || link.OwnerUserID == actor.ID
}

// UpdateParams carries the mutable fields a caller may edit. A nil
// pointer means "leave unchanged", mirroring store.UpdateLinkParams.
type UpdateParams struct {
	ID            uuid.UUID
	OriginalURL   *string
	Title         *string
	Description   *string
	Campaign      *string
	Tags          []string
	ExpiresAt     **time.Time
	IsActive      *bool
	UTMParameters map[string]string
}

// UpdateLink applies a partial edit.
func (r *Registry) UpdateLink(ctx context.Context, p UpdateParams) (model.Link, error) {
	link, err := r.store.UpdateLink(ctx, store.UpdateLinkParams{
		ID:            p.ID,
		OriginalURL:   p.OriginalURL,
		Title:         p.Title,
		Description:   p.Description,
		Campaign:      p.Campaign,
		Tags:          p.Tags,
		ExpiresAt:     p.ExpiresAt,
		IsActive:      p.IsActive,
		UTMParameters: p.UTMParameters,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Link{}, apperr.New(apperr.CodeNotFound, "link not found")
		}
		if errors.Is(err, store.ErrDuplicateShortCode) {
			return model.Link{}, apperr.New(apperr.CodeConflict, "short code already in use")
		}
		return model.Link{}, apperr.Wrap(apperr.CodeInternal, "updating link", err)
	}
	return link, nil
}

// SoftDelete marks a Link deleted, preserving its Click history.
func (r *Registry) SoftDelete(ctx context.Context, id uuid.UUID) error {
	if err := r.store.SoftDeleteLink(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.CodeNotFound, "link not found")
		}
		return apperr.Wrap(apperr.CodeInternal, "deleting link", err)
	}
	return nil
}
