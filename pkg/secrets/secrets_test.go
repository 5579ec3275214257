package secrets

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "gocloud.dev/secrets/localsecrets"
)

const testKeeperURL = "base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAIrnolCz9bQQ6uAhl4="

func testBundle(t *testing.T) *Bundle {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return &Bundle{
		SigningKey:    EncodeSigningKey(key),
		SMTPPasswords: map[string]string{"smtp-1": "hunter2"},
	}
}

func TestKeeperStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bundle.enc")
	sealed := testBundle(t)

	require.NoError(t, Seal(ctx, testKeeperURL, path, sealed))

	store, err := Open(ctx, testKeeperURL, path)
	require.NoError(t, err)
	defer store.Close()

	bundle, err := store.Bundle(ctx)
	require.NoError(t, err)
	assert.Equal(t, sealed.SigningKey, bundle.SigningKey)

	key, err := bundle.SigningKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	pw, err := bundle.SMTPPassword("smtp-1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)

	_, err = bundle.SMTPPassword("ghost")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestKeeperStoreRefresh(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bundle.enc")
	first := testBundle(t)
	require.NoError(t, Seal(ctx, testKeeperURL, path, first))

	store, err := Open(ctx, testKeeperURL, path, WithCacheTTL(time.Hour))
	require.NoError(t, err)
	defer store.Close()

	second := testBundle(t)
	require.NoError(t, Seal(ctx, testKeeperURL, path, second))

	// the long TTL keeps the first bundle cached
	bundle, err := store.Bundle(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.SigningKey, bundle.SigningKey)

	require.NoError(t, store.Refresh(ctx))
	bundle, err = store.Bundle(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.SigningKey, bundle.SigningKey)
}

func TestKeeperStoreClosed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bundle.enc")
	require.NoError(t, Seal(ctx, testKeeperURL, path, testBundle(t)))

	store, err := Open(ctx, testKeeperURL, path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Bundle(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestSealRejectsShortSigningKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.enc")
	err := Seal(context.Background(), testKeeperURL, path, &Bundle{
		SigningKey: EncodeSigningKey([]byte("short")),
	})
	require.Error(t, err)
}

func TestStaticStore(t *testing.T) {
	ctx := context.Background()

	_, err := NewStaticStore(&Bundle{})
	assert.ErrorIs(t, err, ErrMissingSecret)

	store, err := NewStaticStore(testBundle(t))
	require.NoError(t, err)

	_, err = store.Bundle(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	_, err = store.Bundle(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestEnvStore(t *testing.T) {
	ctx := context.Background()
	store := NewEnvStore("IAMCORE_TEST_SIGNING_KEY")

	_, err := store.Bundle(ctx)
	require.Error(t, err, "unset variable rejected")

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	t.Setenv("IAMCORE_TEST_SIGNING_KEY", EncodeSigningKey(key))

	bundle, err := store.Bundle(ctx)
	require.NoError(t, err)
	got, err := bundle.SigningKeyBytes()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}
