package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shortlinkhq/shortlink/internal/model"
)

// ErrDomainHasActiveLinks is returned by DeleteDomain when Links still
// reference it (§4.6 deletion rule).
var ErrDomainHasActiveLinks = errors.New("store: domain has active links")

const domainColumns = `id, owner_user_id, host, display_name, is_active, is_verified,
	verification_token, verified_at, dns_records, ssl_enabled, monthly_link_limit,
	current_month_usage, last_usage_reset, created_at, updated_at`

func scanDomain(row pgx.Row) (model.Domain, error) {
	var d model.Domain
	err := row.Scan(
		&d.ID, &d.OwnerUserID, &d.Host, &d.DisplayName, &d.IsActive, &d.IsVerified,
		&d.VerificationToken, &d.VerifiedAt, &d.DNSRecords, &d.SSLEnabled, &d.MonthlyLinkLimit,
		&d.CurrentMonthUsage, &d.LastUsageReset, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// CreateDomainParams is the input to CreateDomain.
type CreateDomainParams struct {
	OwnerUserID       uuid.UUID
	Host              string
	DisplayName       string
	VerificationToken string
	MonthlyLinkLimit  int
}

// CreateDomain inserts a new, unverified Domain.
func (s *Store) CreateDomain(ctx context.Context, p CreateDomainParams) (model.Domain, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO domains (owner_user_id, host, display_name, is_active, is_verified,
			verification_token, dns_records, ssl_enabled, monthly_link_limit, current_month_usage, last_usage_reset)
		VALUES ($1,$2,$3,false,false,$4,'',false,$5,0, now())
		RETURNING `+domainColumns,
		p.OwnerUserID, p.Host, p.DisplayName, p.VerificationToken, p.MonthlyLinkLimit,
	)
	d, err := scanDomain(row)
	if err != nil {
		if isUniqueViolation(err, "domains_host_key") {
			return model.Domain{}, ErrDuplicateHost
		}
		return model.Domain{}, fmt.Errorf("creating domain: %w", err)
	}
	return d, nil
}

// GetDomain loads a Domain by ID.
func (s *Store) GetDomain(ctx context.Context, id uuid.UUID) (model.Domain, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+domainColumns+` FROM domains WHERE id = $1`, id)
	d, err := scanDomain(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Domain{}, ErrNotFound
		}
		return model.Domain{}, fmt.Errorf("getting domain: %w", err)
	}
	return d, nil
}

// GetActiveByHost returns a Domain only when it is both active and
// verified (§4.6 lookup rule).
func (s *Store) GetActiveByHost(ctx context.Context, host string) (model.Domain, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE host = $1 AND is_active = true AND is_verified = true`,
		host,
	)
	d, err := scanDomain(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Domain{}, ErrNotFound
		}
		return model.Domain{}, fmt.Errorf("getting active domain by host: %w", err)
	}
	return d, nil
}

// ListDomainsByOwner returns every Domain owned by userID.
func (s *Store) ListDomainsByOwner(ctx context.Context, userID uuid.UUID) ([]model.Domain, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+domainColumns+` FROM domains WHERE owner_user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing domains: %w", err)
	}
	defer rows.Close()

	var out []model.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning domain row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDomainVerified flips isVerified/isActive and stamps verifiedAt, the
// terminal step of the DNS TXT verification protocol (§4.6).
func (s *Store) MarkDomainVerified(ctx context.Context, id uuid.UUID) (model.Domain, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE domains SET is_verified = true, is_active = true, verified_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+domainColumns,
		id,
	)
	d, err := scanDomain(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Domain{}, ErrNotFound
		}
		return model.Domain{}, fmt.Errorf("marking domain verified: %w", err)
	}
	return d, nil
}

// IncrementDomainUsage bumps currentMonthUsage on each new Link tied to
// the Domain.
func (s *Store) IncrementDomainUsage(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE domains SET current_month_usage = current_month_usage + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("incrementing domain usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetMonthlyUsage is the idempotent manual/cron trigger (§4.6 Open
// Question resolution): zeroes currentMonthUsage for every Domain whose
// lastUsageReset predates the current calendar month, advancing
// lastUsageReset to now. Returns the count of domains reset.
func (s *Store) ResetMonthlyUsage(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE domains
		SET current_month_usage = 0, last_usage_reset = now()
		WHERE date_trunc('month', last_usage_reset) < date_trunc('month', now())`,
	)
	if err != nil {
		return 0, fmt.Errorf("resetting monthly usage: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// HasActiveLinks reports whether any non-deleted Link still references
// domainID.
func (s *Store) HasActiveLinks(ctx context.Context, domainID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM links WHERE domain_id = $1 AND deleted_at IS NULL)`,
		domainID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking domain active links: %w", err)
	}
	return exists, nil
}

// DeleteDomain removes a Domain, refusing when active Links remain
// (§4.6 deletion rule).
func (s *Store) DeleteDomain(ctx context.Context, id uuid.UUID) error {
	hasLinks, err := s.HasActiveLinks(ctx, id)
	if err != nil {
		return err
	}
	if hasLinks {
		return ErrDomainHasActiveLinks
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM domains WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
