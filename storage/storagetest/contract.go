// Package storagetest checks that an authclient.Storage behaves the way the
// token store expects.
package storagetest

import (
	"context"
	"testing"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty storage for one subtest
type Factory func(t *testing.T) authclient.Storage

// Run exercises the storage contract against storages built by newStorage
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	t.Run("missing key", func(t *testing.T) {
		s := newStorage(t)
		v, ok, err := s.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("set and overwrite", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, authclient.KeyAccessToken, "a1"))
		require.NoError(t, s.Set(ctx, authclient.KeyAccessToken, "a2"))

		v, ok, err := s.Get(ctx, authclient.KeyAccessToken)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "a2", v)
	})

	t.Run("multi key delete", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		store := authclient.NewTokenStore(s)

		require.NoError(t, store.SetTokens(ctx, "a", "r"))
		require.NoError(t, store.SetAdminUser(ctx, authclient.AdminProfile{Username: "admin", IsStaff: true}))
		require.NoError(t, store.SetLanguage(ctx, "en"))

		require.NoError(t, store.ClearTokens(ctx))

		for _, key := range []string{authclient.KeyAccessToken, authclient.KeyRefreshToken, authclient.KeyAdminUser} {
			_, ok, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok, key)
		}

		lang, ok, err := s.Get(ctx, authclient.KeyLanguage)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "en", lang)
	})

	t.Run("delete missing keys", func(t *testing.T) {
		s := newStorage(t)
		assert.NoError(t, s.Delete(context.Background(), "missing", "also-missing"))
	})

	t.Run("token store round trip", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		store := authclient.NewTokenStore(s)

		require.NoError(t, store.SetTokens(ctx, "a1", "r1"))
		require.NoError(t, store.SetAccessToken(ctx, "a2"))

		access, err := store.AccessToken(ctx)
		require.NoError(t, err)
		refresh, err := store.RefreshToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a2", access)
		assert.Equal(t, "r1", refresh)
	})
}
