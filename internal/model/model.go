// Package model holds the plain data types shared across the shortlink
// service: users, domains, links, clicks, sessions, and background jobs.
// These are dumb structs — behaviour lives in the packages that operate
// on them (store, linkregistry, resolver, authcore, ...).
package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is a User's privilege level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account holder: owner of Domains and Links.
type User struct {
	ID              uuid.UUID
	Email           string // unique, case-folded
	PasswordHash    *string // nil for OAuth-only accounts
	DisplayName     string
	Role            Role
	IsActive        bool
	IsEmailVerified bool
	GoogleID        *string
	Avatar          *string
	TokenVersion    int64 // monotonically increasing; bump invalidates all tokens
	LastSeenAt      *time.Time
	LastLogoutAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GeoMode selects how Link.GeoRestrictions.Countries is interpreted.
type GeoMode string

const (
	GeoModeAllow GeoMode = "allow"
	GeoModeDeny  GeoMode = "deny"
)

// GeoRestrictions gates a Link by the resolved country of the visitor.
type GeoRestrictions struct {
	Mode      GeoMode
	Countries []string
}

// Domain is a tenant-owned custom host that can front Links.
type Domain struct {
	ID                uuid.UUID
	OwnerUserID       uuid.UUID
	Host              string // lowercased, unique system-wide
	DisplayName       string
	IsActive          bool
	IsVerified        bool
	VerificationToken string // 32-byte hex
	VerifiedAt        *time.Time
	DNSRecords        string // descriptive blob for the verify UI
	SSLEnabled        bool
	MonthlyLinkLimit  int
	CurrentMonthUsage int
	LastUsageReset    time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Link is a short URL, optionally scoped to a custom Domain.
type Link struct {
	ID              uuid.UUID
	OwnerUserID     uuid.UUID
	DomainID        *uuid.UUID // nil = system domain
	OriginalURL     string
	ShortCode       string // [A-Za-z0-9_-]{1,50}
	CustomCode      bool
	Title           string
	Description     string
	Campaign        string
	Tags            []string
	PasswordHash    *string
	ExpiresAt       *time.Time
	IsActive        bool
	ClickCount      int64
	UniqueClicks    int64
	LastClickAt     *time.Time
	UTMParameters   map[string]string
	URLMetadata     map[string]string
	GeoRestrictions *GeoRestrictions
	FullShortURL    string // derived from host and ShortCode at creation; not recomputed on update
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DeviceType classifies the client agent that performed a Click.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceBot     DeviceType = "bot"
)

// Click is one append-only record of a successful redirect (or admitted
// password-gated attempt).
type Click struct {
	ID         uuid.UUID
	LinkID     uuid.UUID
	IPAddress  string
	UserAgent  string
	Referrer   string
	Country    string
	City       string
	DeviceType DeviceType
	Browser    string
	OS         string
	IsBot      bool
	Timestamp  time.Time
}

// Session is a login instance, removed on logout, TTL expiry, or mass
// invalidation via User.TokenVersion.
type Session struct {
	SessionID    string // opaque 32-byte hex
	UserID       uuid.UUID
	IssuedAt     time.Time
	LastActivity time.Time
	IP           string
	UserAgent    string
	AccessToken  string
	RefreshToken string
}

// JobKind identifies the kind of background work a Job performs.
type JobKind string

const (
	JobKindMetadata      JobKind = "metadata"
	JobKindEmail         JobKind = "email"
	JobKindAnalytics     JobKind = "analytics"
	JobKindClickTracking JobKind = "clickTracking"
)

// Job is one unit of asynchronous work.
type Job struct {
	ID          string
	Kind        JobKind
	Payload     []byte // JSON-encoded
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
}

// ReservedShortCodes are disallowed as custom short codes because they
// collide with management routes or are otherwise confusing.
var ReservedShortCodes = map[string]bool{
	"api": true, "admin": true, "www": true, "app": true, "login": true,
	"register": true, "dashboard": true, "health": true, "preview": true,
	"null": true, "undefined": true, "test": true,
}
