// ABOUTME: Tests for bearer token resolution and claims inspection
// ABOUTME: Covers env override, token file, missing token, JWT decoding

package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSource_EnvVarTakesPriority(t *testing.T) {
	t.Setenv(EnvToken, "env-token")

	src := &FileSource{Path: filepath.Join(t.TempDir(), "missing")}
	token, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "env-token", token)
}

func TestFileSource_ReadsTokenFile(t *testing.T) {
	t.Setenv(EnvToken, "")

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  file-token\n"), 0600))

	src := &FileSource{Path: path}
	token, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "file-token", token, "token should be trimmed")
}

func TestFileSource_MissingTokenIsErrNoToken(t *testing.T) {
	t.Setenv(EnvToken, "")

	src := &FileSource{Path: filepath.Join(t.TempDir(), "missing")}
	_, err := src.Token()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFileSource_EmptyFileIsErrNoToken(t *testing.T) {
	t.Setenv(EnvToken, "")

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0600))

	src := &FileSource{Path: path}
	_, err := src.Token()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestStaticSource(t *testing.T) {
	token, err := StaticSource("abc").Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = StaticSource("").Token()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestInspect_DecodesClaims(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	claims := jwt.MapClaims{
		"sub": "user-42",
		"exp": expires.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	info, err := Inspect(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-42", info.Subject)
	assert.True(t, info.ExpiresAt.Equal(expires))
	assert.False(t, info.Expired())
}

func TestInspect_ExpiredToken(t *testing.T) {
	claims := jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	info, err := Inspect(signed)
	require.NoError(t, err)
	assert.True(t, info.Expired())
}

func TestInspect_GarbageIsInvalid(t *testing.T) {
	_, err := Inspect("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestInspect_NoExpiryNeverExpires(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	info, err := Inspect(signed)
	require.NoError(t, err)
	assert.True(t, info.ExpiresAt.IsZero())
	assert.False(t, info.Expired())
}
