package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestRandomShortCode(t *testing.T) {
	for _, n := range []int{6, 7, 10} {
		code, err := randomShortCode(n)
		require.NoError(t, err)
		require.Len(t, code, n)
		for _, r := range code {
			require.Contains(t, shortCodeAlphabet, string(r))
		}
	}
}

func TestRandomShortCode_Distinct(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := randomShortCode(8)
		require.NoError(t, err)
		seen[code] = true
	}
	require.Greater(t, len(seen), 40, "50 draws of length 8 should essentially never collide")
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}

	require.True(t, isUniqueViolation(pgErr, "users_email_key"))
	require.True(t, isUniqueViolation(pgErr, ""))
	require.False(t, isUniqueViolation(pgErr, "other_constraint"))

	notUnique := &pgconn.PgError{Code: "23503"}
	require.False(t, isUniqueViolation(notUnique, ""))

	require.False(t, isUniqueViolation(errors.New("plain"), ""))
}
