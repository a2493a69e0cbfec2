package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func storeAt(now time.Time) *TokenStore {
	s := NewTokenStore()
	s.now = func() time.Time { return now }
	return s
}

func TestTokenStore_Empty(t *testing.T) {
	assert.Equal(t, "", NewTokenStore().Token())
}

func TestTokenStore_ExpirySkew(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		expiresAt int64
		want      string
	}{
		{"well before expiry", now.Unix() + 3600, "abc"},
		{"exactly at skew", now.Unix() + 300, "abc"},
		{"inside skew", now.Unix() + 299, ""},
		{"already expired", now.Unix() - 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storeAt(now)
			require.NoError(t, s.Set(Token{AccessToken: "abc", ExpiresAt: tt.expiresAt}))
			assert.Equal(t, tt.want, s.Token())
		})
	}
}

func TestTokenStore_ExpiredTokenIsDiscarded(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := storeAt(now)
	require.NoError(t, s.Set(Token{AccessToken: "abc", ExpiresAt: now.Unix() + 600}))
	assert.Equal(t, "abc", s.Token())

	s.now = func() time.Time { return now.Add(400 * time.Second) }
	assert.Equal(t, "", s.Token())
	assert.Nil(t, s.token)

	// Rewinding the clock does not bring it back.
	s.now = func() time.Time { return now }
	assert.Equal(t, "", s.Token())
}

func TestTokenStore_SetRejectsEmpty(t *testing.T) {
	err := NewTokenStore().Set(Token{ExpiresAt: time.Now().Unix() + 3600})
	assert.True(t, eris.Is(err, ErrEmptyToken))
}

func TestSession(t *testing.T) {
	s := NewSession()
	assert.False(t, s.IsAuthorized())

	require.NoError(t, s.Authorize(Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour).Unix()}))
	assert.True(t, s.IsAuthorized())
	assert.Equal(t, "abc", s.Tokens().Token())

	s.Deauthorize()
	assert.False(t, s.IsAuthorized())
	assert.Equal(t, "", s.Tokens().Token())

	require.NoError(t, s.Authorize(Token{AccessToken: "old", ExpiresAt: time.Now().Add(time.Minute).Unix()}))
	assert.False(t, s.IsAuthorized())
}

func TestPathStore_TakeOnce(t *testing.T) {
	dir := t.TempDir()
	s := NewPathStore(dir)

	path, err := s.TakePath("v1")
	require.NoError(t, err)
	assert.Equal(t, "", path)

	require.NoError(t, s.SetPath("v1", "/geo-coverage/settings"))
	require.NoError(t, s.SetPath("v2", "/other"))

	// A second store over the same directory sees the persisted value.
	reopened := NewPathStore(dir)
	path, err = reopened.TakePath("v1")
	require.NoError(t, err)
	assert.Equal(t, "/geo-coverage/settings", path)

	path, err = reopened.TakePath("v1")
	require.NoError(t, err)
	assert.Equal(t, "", path)

	path, err = NewPathStore(dir).TakePath("v1")
	require.NoError(t, err)
	assert.Equal(t, "", path)

	path, err = NewPathStore(dir).TakePath("v2")
	require.NoError(t, err)
	assert.Equal(t, "/other", path)
}

func TestPathStore_KeyValue(t *testing.T) {
	dir := t.TempDir()
	s := NewPathStore(dir)

	require.NoError(t, s.Set("theme", "dark"))
	v, ok := s.Get("theme")
	assert.True(t, ok)
	assert.Equal(t, "dark", v)

	require.NoError(t, s.Delete("theme"))
	_, ok = NewPathStore(dir).Get("theme")
	assert.False(t, ok)

	assert.NoError(t, s.Delete("missing"))
}

func TestPathStore_IgnoresCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paths.json"), []byte("{not json"), 0644))

	s := NewPathStore(dir)
	path, err := s.TakePath("v1")
	require.NoError(t, err)
	assert.Equal(t, "", path)
}
