package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims tokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerify(t *testing.T) {
	t.Parallel()
	verifier := NewJWTVerifier(testSecret)
	userID := uuid.NewString()

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()
		token := signToken(t, testSecret, tokenClaims{
			Username: "alice",
			Roles:    []string{"admin"},
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		identity, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, userID, identity.UserID)
		assert.Equal(t, "alice", identity.Username)
		assert.True(t, identity.IsAdmin())
	})

	t.Run("no roles means no admin", func(t *testing.T) {
		t.Parallel()
		token := signToken(t, testSecret, tokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		})
		identity, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.False(t, identity.IsAdmin())
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		token := signToken(t, testSecret, tokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})
		_, err := verifier.Verify(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		token := signToken(t, "other-secret", tokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		})
		_, err := verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()
		token := signToken(t, testSecret, tokenClaims{Username: "ghost"})
		_, err := verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		t.Parallel()
		_, err := verifier.Verify("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong signing algorithm", func(t *testing.T) {
		t.Parallel()
		token := jwt.NewWithClaims(jwt.SigningMethodNone, tokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = verifier.Verify(signed)
		assert.ErrorIs(t, err, ErrInvalidSigningAlg)
	})
}
