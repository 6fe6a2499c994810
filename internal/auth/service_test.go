package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/school-portal/portal/internal/shared"
)

func TestServiceIssueAndVerify(t *testing.T) {
	svc := NewService("test-secret", "portal")
	token, err := svc.Issue(shared.Identity{UserID: 42, Username: "office1", Role: shared.RoleOffice}, time.Hour)
	require.NoError(t, err)

	identity, err := svc.Verify(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), identity.UserID)
	require.Equal(t, "office1", identity.Username)
	require.Equal(t, shared.RoleOffice, identity.Role)
}

func TestServiceVerifyRejects(t *testing.T) {
	svc := NewService("test-secret", "portal")
	valid := shared.Identity{UserID: 7, Role: shared.RoleParent}

	t.Run("missing", func(t *testing.T) {
		_, err := svc.Verify("")
		require.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewService("other", "portal").Issue(valid, time.Hour)
		require.NoError(t, err)
		_, err = svc.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewService("test-secret", "elsewhere").Issue(valid, time.Hour)
		require.NoError(t, err)
		_, err = svc.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		past := NewService("test-secret", "portal")
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := past.Issue(valid, time.Hour)
		require.NoError(t, err)
		_, err = svc.Verify(token)
		require.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		token, err := svc.Issue(shared.Identity{UserID: 7, Role: "JANITOR"}, time.Hour)
		require.NoError(t, err)
		_, err = svc.Verify(token)
		require.ErrorIs(t, err, ErrInvalidClaims)
	})

	t.Run("unsigned", func(t *testing.T) {
		claims := &Claims{UserID: 7, Role: string(shared.RoleAdmin)}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}
