package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewTokenManager("test-secret", "request-workflow", time.Hour)
	u := &repository.User{ID: 42, Username: "alice", Role: repository.RoleApprover}

	token, expires, err := m.Issue(u)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	id, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: 42, Username: "alice", Role: repository.RoleApprover}, id)
	assert.False(t, id.IsAdmin())
}

func TestVerify_Rejects(t *testing.T) {
	m := NewTokenManager("test-secret", "request-workflow", time.Hour)
	u := &repository.User{ID: 1, Username: "admin", Role: repository.RoleAdmin}
	good, _, err := m.Issue(u)
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenManager("other-secret", "request-workflow", time.Hour)
		_, err := other.Verify(good)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewTokenManager("test-secret", "someone-else", time.Hour)
		_, err := other.Verify(good)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		past := NewTokenManager("test-secret", "request-workflow", time.Minute)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		stale, _, err := past.Issue(u)
		require.NoError(t, err)
		_, err = m.Verify(stale)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			UserID: 1, Role: repository.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "request-workflow",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Verify("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
	})
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: 7, Role: repository.RoleAdmin})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(7), id.UserID)
	assert.True(t, id.IsAdmin())
}
