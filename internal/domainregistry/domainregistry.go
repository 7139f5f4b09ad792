// Package domainregistry implements §4.6: custom-host ownership and the
// DNS TXT verification protocol that promotes a Domain from unverified to
// active. It is a thin policy layer over internal/store's Domain methods.
package domainregistry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/store"
)

// Resolver looks up DNS records. Satisfied by net.DefaultResolver;
// swappable in tests.
type Resolver interface {
	LookupTXT(ctx context.Context, host string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// Store is the subset of the primary store the registry depends on.
type Store interface {
	CreateDomain(ctx context.Context, p store.CreateDomainParams) (model.Domain, error)
	GetDomain(ctx context.Context, id uuid.UUID) (model.Domain, error)
	GetActiveByHost(ctx context.Context, host string) (model.Domain, error)
	ListDomainsByOwner(ctx context.Context, userID uuid.UUID) ([]model.Domain, error)
	MarkDomainVerified(ctx context.Context, id uuid.UUID) (model.Domain, error)
	IncrementDomainUsage(ctx context.Context, id uuid.UUID) error
	ResetMonthlyUsage(ctx context.Context) (int, error)
	HasActiveLinks(ctx context.Context, domainID uuid.UUID) (bool, error)
	DeleteDomain(ctx context.Context, id uuid.UUID) error
}

// Registry is the domain registry service.
type Registry struct {
	store      Store
	resolver   Resolver
	systemHost string
	logger     *slog.Logger
}

// New builds a Registry. systemHost is the canonical host used when a
// Link's domainId is nil (§4.7 resolution rule). It is stored in
// NormalizeHost form, the same form every compared host is reduced to.
func New(st Store, resolver Resolver, systemHost string, logger *slog.Logger) *Registry {
	return &Registry{store: st, resolver: resolver, systemHost: NormalizeHost(systemHost), logger: logger}
}

func verifyRecordName(host string) string { return "_shortlink-verify." + host }

func randomVerificationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating verification token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// AddDomain registers a new, unverified custom host owned by ownerID.
func (r *Registry) AddDomain(ctx context.Context, ownerID uuid.UUID, host, displayName string, monthlyLinkLimit int) (model.Domain, error) {
	host = NormalizeHost(host)
	if host == "" || host == r.systemHost {
		return model.Domain{}, apperr.New(apperr.CodeValidation, "invalid custom host")
	}

	token, err := randomVerificationToken()
	if err != nil {
		return model.Domain{}, apperr.Wrap(apperr.CodeInternal, "generating verification token", err)
	}

	d, err := r.store.CreateDomain(ctx, store.CreateDomainParams{
		OwnerUserID:       ownerID,
		Host:              host,
		DisplayName:       displayName,
		VerificationToken: token,
		MonthlyLinkLimit:  monthlyLinkLimit,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateHost) {
			return model.Domain{}, apperr.New(apperr.CodeConflict, "host is already registered")
		}
		return model.Domain{}, apperr.Wrap(apperr.CodeInternal, "creating domain", err)
	}
	return d, nil
}

// VerifyDomain runs the DNS TXT protocol: verification succeeds iff a TXT
// query on _shortlink-verify.<host> returns a record exactly equal to the
// stored verificationToken. The CNAME record is additionally looked up
// only to produce a non-blocking warning; A records are not queried.
func (r *Registry) VerifyDomain(ctx context.Context, id uuid.UUID) (model.Domain, string, error) {
	d, err := r.store.GetDomain(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Domain{}, "", apperr.New(apperr.CodeNotFound, "domain not found")
		}
		return model.Domain{}, "", apperr.Wrap(apperr.CodeInternal, "loading domain", err)
	}

	records, err := r.resolver.LookupTXT(ctx, verifyRecordName(d.Host))
	if err != nil {
		return model.Domain{}, "", apperr.Wrap(apperr.CodeValidation, "dns txt lookup failed", err)
	}

	found := false
	for _, rec := range records {
		if rec == d.VerificationToken {
			found = true
			break
		}
	}
	if !found {
		return model.Domain{}, "", apperr.New(apperr.CodeValidation, "verification TXT record not found or mismatched")
	}

	var warning string
	if cname, cerr := r.resolver.LookupCNAME(ctx, d.Host); cerr == nil && !strings.Contains(cname, r.systemHost) {
		warning = fmt.Sprintf("DNS for %s does not appear to point at %s (cname=%s)", d.Host, r.systemHost, cname)
	}

	verified, err := r.store.MarkDomainVerified(ctx, id)
	if err != nil {
		return model.Domain{}, "", apperr.Wrap(apperr.CodeInternal, "marking domain verified", err)
	}
	r.logger.Info("domain verified", "host", verified.Host, "warning", warning)
	return verified, warning, nil
}

// ResolveHost implements §4.7(b): looks up the active, verified Domain
// owning host, unless host is the system host (in which case the system
// domain — domainId NULL — is implied and nil is returned with no error).
func (r *Registry) ResolveHost(ctx context.Context, host string) (*model.Domain, error) {
	host = NormalizeHost(host)
	if host == "" || host == r.systemHost {
		return nil, nil
	}
	d, err := r.store.GetActiveByHost(ctx, host)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "domain not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "resolving domain", err)
	}
	return &d, nil
}

// NormalizeHost strips the port and lowercases host, per §4.7(a).
func NormalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}

// GetByID loads a Domain by ID, for owner/admin-gated handlers.
func (r *Registry) GetByID(ctx context.Context, id uuid.UUID) (model.Domain, error) {
	d, err := r.store.GetDomain(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Domain{}, apperr.New(apperr.CodeNotFound, "domain not found")
		}
		return model.Domain{}, apperr.Wrap(apperr.CodeInternal, "loading domain", err)
	}
	return d, nil
}

// ListOwned returns every Domain owned by ownerID.
func (r *Registry) ListOwned(ctx context.Context, ownerID uuid.UUID) ([]model.Domain, error) {
	out, err := r.store.ListDomainsByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "listing domains", err)
	}
	return out, nil
}

// RecordLinkCreated bumps the Domain's current-month usage counter, called
// whenever a Link is created under it.
func (r *Registry) RecordLinkCreated(ctx context.Context, domainID uuid.UUID) error {
	if err := r.store.IncrementDomainUsage(ctx, domainID); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "recording domain usage", err)
	}
	return nil
}

// ResetMonthlyUsage is the manual/cron trigger resolving §4.6's Open
// Question: it is idempotent and safe to invoke repeatedly within the
// same calendar month.
func (r *Registry) ResetMonthlyUsage(ctx context.Context) (int, error) {
	n, err := r.store.ResetMonthlyUsage(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "resetting monthly usage", err)
	}
	return n, nil
}

// DeleteDomain refuses when active Links remain (§4.6 deletion rule).
func (r *Registry) DeleteDomain(ctx context.Context, id uuid.UUID) error {
	if err := r.store.DeleteDomain(ctx, id); err != nil {
		if errors.Is(err, store.ErrDomainHasActiveLinks) {
			return apperr.New(apperr.CodeConflict, "deactivate this domain's links before deleting it")
		}
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.CodeNotFound, "domain not found")
		}
		return apperr.Wrap(apperr.CodeInternal, "deleting domain", err)
	}
	return nil
}

// DNSResolver adapts net.Resolver to the Resolver interface.
type DNSResolver struct {
	inner *net.Resolver
}

// NewDNSResolver builds a DNSResolver over net.DefaultResolver.
func NewDNSResolver() *DNSResolver {
	return &DNSResolver{inner: net.DefaultResolver}
}

func (d *DNSResolver) LookupTXT(ctx context.Context, host string) ([]string, error) {
	return d.inner.LookupTXT(ctx, host)
}

func (d *DNSResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	return d.inner.LookupCNAME(ctx, host)
}
