// Package seed provisions a development account with a sample custom
// domain (created unverified) and a handful of system-domain links, for
// local exploration of the API without a CSV import.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/store"
)

// DevEmail/DevPassword are the seeded demo account's credentials. Only
// created by the seed command; never used in production.
const (
	DevEmail    = "demo@shortlink.local"
	DevPassword = "demo-password-do-not-use"
)

// Run provisions the demo user, a sample custom domain, and a few sample
// links. It is idempotent: if the demo user already exists it logs a
// message and returns nil.
func Run(ctx context.Context, st *store.Store, systemDomain string, logger *slog.Logger) error {
	if _, err := st.GetUserByEmail(ctx, DevEmail); err == nil {
		logger.Info("seed: demo user already exists, skipping")
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking for existing demo user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(DevPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing demo password: %w", err)
	}
	hashStr := string(hash)

	user, err := st.CreateUser(ctx, store.CreateUserParams{
		Email:         DevEmail,
		PasswordHash:  &hashStr,
		DisplayName:   "Demo User",
		Role:          model.RoleAdmin,
		EmailVerified: true,
	})
	if err != nil {
		return fmt.Errorf("creating demo user: %w", err)
	}
	logger.Info("seed: created demo user", "email", user.Email, "id", user.ID)

	domain, err := st.CreateDomain(ctx, store.CreateDomainParams{
		OwnerUserID:       user.ID,
		Host:              "demo.shortlink.local",
		DisplayName:       "Demo custom domain",
		VerificationToken: "seeded-not-verifiable",
		MonthlyLinkLimit:  1000,
	})
	if err != nil {
		return fmt.Errorf("creating demo domain: %w", err)
	}
	logger.Info("seed: created demo domain", "host", domain.Host, "id", domain.ID)

	samples := []struct {
		code string
		url  string
	}{
		{"welcome", "https://github.com/shortlinkhq/shortlink"},
		{"docs", "https://pkg.go.dev/"},
	}
	for _, s := range samples {
		link, err := st.CreateLink(ctx, store.CreateLinkParams{
			OwnerUserID:  user.ID,
			OriginalURL:  s.url,
			ShortCode:    s.code,
			Title:        s.code,
			FullShortURL: fmt.Sprintf("https://%s/%s", systemDomain, s.code),
		})
		if err != nil {
			return fmt.Errorf("creating sample link %q: %w", s.code, err)
		}
		logger.Info("seed: created sample link", "shortCode", link.ShortCode, "id", link.ID)
	}

	logger.Info("seed: completed successfully", "user", user.Email, "domains", 1, "links", len(samples))
	return nil
}
