// Package store is the primary store gateway (§4.2): all durable mutations
// on the user/domain/link/click graph, via pgx against Postgres. It enforces
// uniqueness and referential integrity. A Link's fullShortUrl is written as
// the caller supplies it; the store does not recompute it when shortCode or
// domainId is written.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shortlinkhq/shortlink/internal/model"
)

// ErrDuplicateShortCode is returned by CreateLink when (shortCode, domainId)
// already exists — the caller should retry allocation.
var ErrDuplicateShortCode = errors.New("store: duplicate short code")

// ErrShortCodeExhausted is returned by GenerateUniqueShortCode after
// exhausting its attempt budget.
var ErrShortCodeExhausted = errors.New("store: short code space exhausted")

// ErrNotFound is returned when a row lookup finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateEmail is returned by CreateUser on a unique email violation.
var ErrDuplicateEmail = errors.New("store: duplicate email")

// ErrDuplicateHost is returned by CreateDomain on a unique host violation.
var ErrDuplicateHost = errors.New("store: duplicate host")

const shortCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Store is the primary store gateway, backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New builds a Store over an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// randomShortCode draws a code of length n from shortCodeAlphabet.
func randomShortCode(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(shortCodeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating random short code: %w", err)
		}
		b.WriteByte(shortCodeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// GenerateUniqueShortCode iteratively generates a code from the shortcode
// alphabet until free for domainID (nil means the system domain). After 5
// failed attempts at a given length, length is increased by 1; fails with
// ErrShortCodeExhausted after 10 total attempts.
func (s *Store) GenerateUniqueShortCode(ctx context.Context, domainID *uuid.UUID, length int) (string, error) {
	attempts := 0
	attemptsAtLength := 0
	for attempts < 10 {
		code, err := randomShortCode(length)
		if err != nil {
			return "", err
		}
		attempts++
		attemptsAtLength++

		taken, err := s.shortCodeTaken(ctx, code, domainID)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		if attemptsAtLength >= 5 {
			length++
			attemptsAtLength = 0
		}
	}
	return "", ErrShortCodeExhausted
}

func (s *Store) shortCodeTaken(ctx context.Context, code string, domainID *uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM links WHERE short_code = $1 AND domain_id IS NOT DISTINCT FROM $2 AND deleted_at IS NULL)`,
		code, domainID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking short code availability: %w", err)
	}
	return exists, nil
}

const linkColumns = `id, owner_user_id, domain_id, original_url, short_code, custom_code, title,
	description, campaign, tags, password_hash, expires_at, is_active, click_count,
	unique_clicks, last_click_at, utm_parameters, url_metadata, geo_mode, geo_countries,
	full_short_url, created_at, updated_at`

func scanLink(row pgx.Row) (model.Link, error) {
	var l model.Link
	var geoMode *string
	var geoCountries []string
	err := row.Scan(
		&l.ID, &l.OwnerUserID, &l.DomainID, &l.OriginalURL, &l.ShortCode, &l.CustomCode, &l.Title,
		&l.Description, &l.Campaign, &l.Tags, &l.PasswordHash, &l.ExpiresAt, &l.IsActive, &l.ClickCount,
		&l.UniqueClicks, &l.LastClickAt, &l.UTMParameters, &l.URLMetadata, &geoMode, &geoCountries,
		&l.FullShortURL, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return model.Link{}, err
	}
	if geoMode != nil {
		l.GeoRestrictions = &model.GeoRestrictions{Mode: model.GeoMode(*geoMode), Countries: geoCountries}
	}
	return l, nil
}

// CreateLinkParams is the input to CreateLink.
type CreateLinkParams struct {
	OwnerUserID     uuid.UUID
	DomainID        *uuid.UUID
	OriginalURL     string
	ShortCode       string
	CustomCode      bool
	Title           string
	Description     string
	Campaign        string
	Tags            []string
	PasswordHash    *string
	ExpiresAt       *time.Time
	UTMParameters   map[string]string
	URLMetadata     map[string]string
	GeoRestrictions *model.GeoRestrictions
	FullShortURL    string
}

// CreateLink inserts a Link with (shortCode, domainId) uniqueness. On
// conflict it returns ErrDuplicateShortCode so the caller can retry
// allocation with a fresh code.
func (s *Store) CreateLink(ctx context.Context, p CreateLinkParams) (model.Link, error) {
	var geoMode *string
	var geoCountries []string
	if p.GeoRestrictions != nil {
		m := string(p.GeoRestrictions.Mode)
		geoMode = &m
		geoCountries = p.GeoRestrictions.Countries
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO links (owner_user_id, domain_id, original_url, short_code, custom_code, title,
			description, campaign, tags, password_hash, expires_at, is_active, click_count,
			unique_clicks, utm_parameters, url_metadata, geo_mode, geo_countries, full_short_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,true,0,0,$12,$13,$14,$15,$16)
		RETURNING `+linkColumns,
		p.OwnerUserID, p.DomainID, p.OriginalURL, p.ShortCode, p.CustomCode, p.Title,
		p.Description, p.Campaign, p.Tags, p.PasswordHash, p.ExpiresAt,
		p.UTMParameters, p.URLMetadata, geoMode, geoCountries, p.FullShortURL,
	)
	link, err := scanLink(row)
	if err != nil {
		if isUniqueViolation(err, "links_short_code_domain_id_key") {
			return model.Link{}, ErrDuplicateShortCode
		}
		return model.Link{}, fmt.Errorf("creating link: %w", err)
	}
	return link, nil
}

// FindByShortCodeAndDomain resolves a Link by shortCode within domainID
// (nil selects the system domain). Only non-deleted links are returned;
// callers apply IsActive/expiry policy themselves.
func (s *Store) FindByShortCodeAndDomain(ctx context.Context, shortCode string, domainID *uuid.UUID) (model.Link, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links WHERE short_code = $1 AND domain_id IS NOT DISTINCT FROM $2 AND deleted_at IS NULL`,
		shortCode, domainID,
	)
	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Link{}, ErrNotFound
		}
		return model.Link{}, fmt.Errorf("finding link: %w", err)
	}
	return link, nil
}

// GetLink loads a Link by ID.
func (s *Store) GetLink(ctx context.Context, id uuid.UUID) (model.Link, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM links WHERE id = $1 AND deleted_at IS NULL`, id)
	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Link{}, ErrNotFound
		}
		return model.Link{}, fmt.Errorf("getting link: %w", err)
	}
	return link, nil
}

// ListLinksByOwner returns a page of Links owned by userID, newest first.
func (s *Store) ListLinksByOwner(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Link, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM links WHERE owner_user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close()

	var out []model.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning link row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountLinksByOwner returns the total number of non-deleted Links owned
// by userID, for pagination totals alongside ListLinksByOwner.
func (s *Store) CountLinksByOwner(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM links WHERE owner_user_id = $1 AND deleted_at IS NULL`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting links: %w", err)
	}
	return n, nil
}

// UpdateLinkParams carries the mutable Link fields. A nil pointer means
// "leave unchanged".
type UpdateLinkParams struct {
	ID              uuid.UUID
	OriginalURL     *string
	ShortCode       *string
	Title           *string
	Description     *string
	Campaign        *string
	Tags            []string
	PasswordHash    **string
	ExpiresAt       **time.Time
	IsActive        *bool
	UTMParameters   map[string]string
	GeoRestrictions *model.GeoRestrictions
	FullShortURL    *string
}

// UpdateLink applies a partial update and returns the refreshed row.
func (s *Store) UpdateLink(ctx context.Context, p UpdateLinkParams) (model.Link, error) {
	existing, err := s.GetLink(ctx, p.ID)
	if err != nil {
		return model.Link{}, err
	}

	if p.OriginalURL != nil {
		existing.OriginalURL = *p.OriginalURL
	}
	if p.ShortCode != nil {
		existing.ShortCode = *p.ShortCode
	}
	if p.Title != nil {
		existing.Title = *p.Title
	}
	if p.Description != nil {
		existing.Description = *p.Description
	}
	if p.Campaign != nil {
		existing.Campaign = *p.Campaign
	}
	if p.Tags != nil {
		existing.Tags = p.Tags
	}
	if p.PasswordHash != nil {
		existing.PasswordHash = *p.PasswordHash
	}
	if p.ExpiresAt != nil {
		existing.ExpiresAt = *p.ExpiresAt
	}
	if p.IsActive != nil {
		existing.IsActive = *p.IsActive
	}
	if p.UTMParameters != nil {
		existing.UTMParameters = p.UTMParameters
	}
	if p.GeoRestrictions != nil {
		existing.GeoRestrictions = p.GeoRestrictions
	}
	if p.FullShortURL != nil {
		existing.FullShortURL = *p.FullShortURL
	}

	var geoMode *string
	var geoCountries []string
	if existing.GeoRestrictions != nil {
		m := string(existing.GeoRestrictions.Mode)
		geoMode = &m
		geoCountries = existing.GeoRestrictions.Countries
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE links SET original_url=$2, short_code=$3, title=$4, description=$5, campaign=$6,
			tags=$7, password_hash=$8, expires_at=$9, is_active=$10, utm_parameters=$11,
			geo_mode=$12, geo_countries=$13, full_short_url=$14, updated_at=now()
		WHERE id=$1 AND deleted_at IS NULL
		RETURNING `+linkColumns,
		existing.ID, existing.OriginalURL, existing.ShortCode, existing.Title, existing.Description,
		existing.Campaign, existing.Tags, existing.PasswordHash, existing.ExpiresAt, existing.IsActive,
		existing.UTMParameters, geoMode, geoCountries, existing.FullShortURL,
	)
	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Link{}, ErrNotFound
		}
		if isUniqueViolation(err, "links_short_code_domain_id_key") {
			return model.Link{}, ErrDuplicateShortCode
		}
		return model.Link{}, fmt.Errorf("updating link: %w", err)
	}
	return link, nil
}

// SoftDeleteLink marks a Link deleted without removing its Click history.
func (s *Store) SoftDeleteLink(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE links SET deleted_at = now(), is_active = false WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft deleting link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementClicks atomically bumps Link click counters and stamps
// lastClickAt. isUnique additionally bumps uniqueClicks.
func (s *Store) IncrementClicks(ctx context.Context, linkID uuid.UUID, isUnique bool) error {
	query := `UPDATE links SET click_count = click_count + 1, last_click_at = now()`
	if isUnique {
		query += `, unique_clicks = unique_clicks + 1`
	}
	query += ` WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, linkID)
	if err != nil {
		return fmt.Errorf("incrementing click counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UniqueClick reports whether no prior Click row exists for (linkID, ip).
// An unresolvable/unknown IP is treated as non-unique.
func (s *Store) UniqueClick(ctx context.Context, linkID uuid.UUID, ip string) (bool, error) {
	if ip == "" || ip == "unknown" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM clicks WHERE link_id = $1 AND ip_address = $2)`,
		linkID, ip,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking unique click: %w", err)
	}
	return !exists, nil
}

// InsertClickParams is the input to InsertClick.
type InsertClickParams struct {
	LinkID     uuid.UUID
	IPAddress  string
	UserAgent  string
	Referrer   string
	Country    string
	City       string
	DeviceType model.DeviceType
	Browser    string
	OS         string
	IsBot      bool
}

// InsertClick writes one append-only Click row. This plus IncrementClicks
// form the resolver's durability boundary (§4.8 step 6) — both run inside
// a single transaction via InsertClickAndIncrement.
func (s *Store) InsertClick(ctx context.Context, p InsertClickParams) (model.Click, error) {
	return s.insertClick(ctx, s.pool, p)
}

func (s *Store) insertClick(ctx context.Context, q pgxQuerier, p InsertClickParams) (model.Click, error) {
	var c model.Click
	err := q.QueryRow(ctx, `
		INSERT INTO clicks (link_id, ip_address, user_agent, referrer, country, city, device_type, browser, os, is_bot, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
		RETURNING id, link_id, ip_address, user_agent, referrer, country, city, device_type, browser, os, is_bot, timestamp`,
		p.LinkID, p.IPAddress, p.UserAgent, p.Referrer, p.Country, p.City, p.DeviceType, p.Browser, p.OS, p.IsBot,
	).Scan(&c.ID, &c.LinkID, &c.IPAddress, &c.UserAgent, &c.Referrer, &c.Country, &c.City, &c.DeviceType, &c.Browser, &c.OS, &c.IsBot, &c.Timestamp)
	if err != nil {
		return model.Click{}, fmt.Errorf("inserting click: %w", err)
	}
	return c, nil
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// InsertClickAndIncrement runs the Click insert and counter increment in a
// single transaction — the resolver's durability boundary.
func (s *Store) InsertClickAndIncrement(ctx context.Context, p InsertClickParams, isUnique bool) (model.Click, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Click{}, fmt.Errorf("beginning click transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	click, err := s.insertClick(ctx, tx, p)
	if err != nil {
		return model.Click{}, err
	}

	query := `UPDATE links SET click_count = click_count + 1, last_click_at = now()`
	if isUnique {
		query += `, unique_clicks = unique_clicks + 1`
	}
	query += ` WHERE id = $1`
	if _, err := tx.Exec(ctx, query, p.LinkID); err != nil {
		return model.Click{}, fmt.Errorf("incrementing click counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Click{}, fmt.Errorf("committing click transaction: %w", err)
	}
	return click, nil
}
