package domain

import (
	"testing"
	"time"

	apperrors "dmsync-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountConnection_UsableToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	t.Run("missing token", func(t *testing.T) {
		_, err := (&AccountConnection{ID: "acc"}).UsableToken(now)
		assert.True(t, apperrors.IsAuth(err))
	})

	t.Run("nil account", func(t *testing.T) {
		var acc *AccountConnection
		_, err := acc.UsableToken(now)
		assert.True(t, apperrors.IsAuth(err))
	})

	t.Run("expired token", func(t *testing.T) {
		_, err := (&AccountConnection{AccessToken: "tok", TokenExpiry: &past}).UsableToken(now)
		assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := (&AccountConnection{AccessToken: "tok", TokenExpiry: &future}).UsableToken(now)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
	})

	t.Run("no expiry recorded", func(t *testing.T) {
		token, err := (&AccountConnection{AccessToken: "tok"}).UsableToken(now)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
	})
}
