// Package resolver implements §4.8: the hot-path redirect engine. It
// validates input, resolves the (host, shortCode) pair to a Link,
// applies the access policy, classifies the User-Agent, and on a human
// hit writes the Click durably before enqueueing asynchronous analytics
// indexing. Every step is grounded in the state machine spec.md draws
// out explicitly; this file is the implementation of that diagram.
package resolver

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/cache"
	"github.com/shortlinkhq/shortlink/internal/jobqueue"
	"github.com/shortlinkhq/shortlink/internal/linkregistry"
	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/searchindex"
	"github.com/shortlinkhq/shortlink/internal/store"
)

var shortCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// botMarkers classifies a User-Agent as a bot shunt candidate (§4.8 step 4).
var botMarkers = []string{
	"bot", "crawler", "spider", "scraper", "googlebot", "bingbot",
	"facebookexternalhit", "twitterbot", "linkedinbot", "whatsapp", "telegram",
}

// IsBotUserAgent reports whether ua matches one of the §4.8 bot markers.
func IsBotUserAgent(ua string) bool {
	lower := strings.ToLower(ua)
	for _, m := range botMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ClickStore is the subset of the primary store the resolver writes
// through for its durability boundary.
type ClickStore interface {
	UniqueClick(ctx context.Context, linkID uuid.UUID, ip string) (bool, error)
	InsertClickAndIncrement(ctx context.Context, p store.InsertClickParams, isUnique bool) (model.Click, error)
}

// Request is one redirect attempt's inputs (§4.8).
type Request struct {
	HostName         string
	ShortCode        string
	IP               string
	UserAgent        string
	Referrer         string
	Country          string
	SubmittedPassword string
	HasPassword       bool // true when the caller supplied SubmittedPassword (even empty)
}

// Outcome is what the resolver decided to do with a Request.
type Outcome struct {
	Kind            OutcomeKind
	FinalURL        string
	Link            model.Link
	PasswordRequired bool
}

// OutcomeKind distinguishes the terminal action an HTTP handler must take.
type OutcomeKind int

const (
	OutcomeRedirect OutcomeKind = iota
	OutcomeBotMetadata
)

// Resolver is the redirect engine.
type Resolver struct {
	links   *linkregistry.Registry
	clicks  ClickStore
	cache   *cache.Cache
	queue   *jobqueue.Queue
	index   *searchindex.Gateway
	logger  *slog.Logger
}

// New builds a Resolver. queue is the click-tracking queue; when it is
// unavailable (nil or its enqueue fails) the resolver calls index
// directly and, failing that, swallows the error (§4.8 step 7).
func New(links *linkregistry.Registry, clicks ClickStore, c *cache.Cache, queue *jobqueue.Queue, index *searchindex.Gateway, logger *slog.Logger) *Resolver {
	return &Resolver{links: links, clicks: clicks, cache: c, queue: queue, index: index, logger: logger}
}

// ValidateShortCode applies §4.8's fast-reject preconditions.
func ValidateShortCode(shortCode string) error {
	if shortCode == "" || strings.Contains(shortCode, ".") || shortCode == "favicon.ico" {
		return apperr.New(apperr.CodeNotFound, "not found")
	}
	if !shortCodePattern.MatchString(shortCode) {
		return apperr.New(apperr.CodeValidation, "invalid short code")
	}
	return nil
}

// Preview runs the (1)-(2) resolution steps only, with no policy-check
// side effects — used by admin UI and chat-app unfurlers.
func (r *Resolver) Preview(ctx context.Context, hostName, shortCode string) (model.Link, error) {
	if err := ValidateShortCode(shortCode); err != nil {
		return model.Link{}, err
	}
	res, err := r.links.Resolve(ctx, hostName, shortCode)
	if err != nil {
		return model.Link{}, err
	}
	return res.Link, nil
}

// Resolve runs the full §4.8 state machine for a single redirect
// request.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Outcome, error) {
	if err := ValidateShortCode(req.ShortCode); err != nil {
		return Outcome{}, err
	}

	res, err := r.links.Resolve(ctx, req.HostName, req.ShortCode)
	if err != nil {
		return Outcome{}, err
	}
	link := res.Link

	denial := linkregistry.CanAccess(link, req.Country, time.Now())
	switch denial {
	case linkregistry.AccessExpired:
		return Outcome{}, apperr.New(apperr.CodeGone, "link has expired")
	case linkregistry.AccessDeactivated:
		return Outcome{}, apperr.New(apperr.CodeBlocked, "link is not active")
	case linkregistry.AccessGeoBlocked:
		return Outcome{}, apperr.New(apperr.CodeBlocked, "link is not available in your region")
	case linkregistry.AccessPasswordRequired:
		if !req.HasPassword {
			return Outcome{PasswordRequired: true}, apperr.New(apperr.CodePasswordRequired, "password required")
		}
		if !linkregistry.CheckPassword(link, req.SubmittedPassword) {
			return Outcome{PasswordRequired: true}, apperr.New(apperr.CodePasswordInvalid, "invalid password")
		}
	}

	finalURL, err := linkregistry.BuildFinalURL(link)
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.CodeInternal, "building final url", err)
	}

	if IsBotUserAgent(req.UserAgent) {
		return Outcome{Kind: OutcomeBotMetadata, Link: link, FinalURL: finalURL}, nil
	}

	r.recordClick(ctx, link, req)

	return Outcome{Kind: OutcomeRedirect, Link: link, FinalURL: finalURL}, nil
}

// recordClick performs §4.8 steps 5-7: determine uniqueness, write the
// durability-boundary Click+counter transaction, then enqueue (or
// directly dispatch) analytics indexing. Failures past the primary-store
// write are swallowed — the primary store is already authoritative.
func (r *Resolver) recordClick(ctx context.Context, link model.Link, req Request) {
	isUnique, err := r.clicks.UniqueClick(ctx, link.ID, req.IP)
	if err != nil {
		r.logger.Warn("checking click uniqueness", "link", link.ID, "error", err)
	}

	deviceType, browser, os := classifyUserAgent(req.UserAgent)
	click, err := r.clicks.InsertClickAndIncrement(ctx, store.InsertClickParams{
		LinkID:     link.ID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
		Referrer:   req.Referrer,
		Country:    req.Country,
		DeviceType: deviceType,
		Browser:    browser,
		OS:         os,
	}, isUnique)
	if err != nil {
		r.logger.Error("click durability write failed", "link", link.ID, "error", err)
		return
	}

	doc := searchindex.DocumentFromClick(click, link, link.OwnerUserID.String())
	r.enqueueIndex(ctx, doc)
}

func (r *Resolver) enqueueIndex(ctx context.Context, doc searchindex.ClickDocument) {
	if r.queue != nil {
		if err := r.queue.Enqueue(ctx, model.JobKindClickTracking, doc); err == nil {
			return
		}
		r.logger.Warn("click-tracking enqueue failed, falling back to direct index write")
	}
	if r.index == nil {
		return
	}
	if err := r.index.TrackClick(ctx, doc); err != nil {
		r.logger.Warn("direct analytics index write failed after queue fallback, swallowing", "error", err)
	}
}

// classifyUserAgent is a deliberately coarse device/browser/OS classifier
// — good enough for dashboard facets, not a full UA-parsing library
// (none was present in the retrieved example pack to ground a richer one
// on).
func classifyUserAgent(ua string) (model.DeviceType, string, string) {
	lower := strings.ToLower(ua)
	device := model.DeviceDesktop
	switch {
	case strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad"):
		device = model.DeviceTablet
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "android") || strings.Contains(lower, "iphone"):
		device = model.DeviceMobile
	}

	browser := "Unknown"
	switch {
	case strings.Contains(lower, "edg/"):
		browser = "Edge"
	case strings.Contains(lower, "chrome/"):
		browser = "Chrome"
	case strings.Contains(lower, "firefox/"):
		browser = "Firefox"
	case strings.Contains(lower, "safari/") && !strings.Contains(lower, "chrome"):
		browser = "Safari"
	}

	os := "Unknown"
	switch {
	case strings.Contains(lower, "windows"):
		os = "Windows"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macos"):
		os = "macOS"
	case strings.Contains(lower, "android"):
		os = "Android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad"):
		os = "iOS"
	case strings.Contains(lower, "linux"):
		os = "Linux"
	}

	return device, browser, os
}
