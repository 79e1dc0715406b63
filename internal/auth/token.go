// ABOUTME: Bearer token resolution for API and streaming connections
// ABOUTME: Reads from an env var override or a token file under XDG config

package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrNoToken      = errors.New("no token available")
	ErrInvalidToken = errors.New("invalid token")
)

// EnvToken is the environment variable checked before the token file.
const EnvToken = "MARKETOLUH_TOKEN"

// Source resolves the bearer credential used to authenticate against
// the backend. Absence of a token is reported as ErrNoToken.
type Source interface {
	Token() (string, error)
}

// FileSource resolves tokens from the environment first, then from a
// token file. The zero value uses the default file location.
type FileSource struct {
	// Path overrides the token file location. When empty,
	// DefaultTokenPath() is used.
	Path string
}

// Token returns the current bearer token, or ErrNoToken when neither
// the env var nor the token file yields one.
func (s *FileSource) Token() (string, error) {
	if token := os.Getenv(EnvToken); token != "" {
		return token, nil
	}

	path := s.Path
	if path == "" {
		path = DefaultTokenPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// DefaultTokenPath returns the token file location.
// Priority: XDG_CONFIG_HOME/marketoluh/token > ~/.config/marketoluh/token
func DefaultTokenPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "token" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "marketoluh", "token")
}

// StaticSource returns a fixed token, mainly for tests and flag overrides.
type StaticSource string

func (s StaticSource) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// TokenInfo describes the claims of a bearer token.
type TokenInfo struct {
	Subject   string
	ExpiresAt time.Time // zero when the token carries no expiry
}

// Inspect decodes the token claims without verifying the signature.
// The client has no signing secret; verification is the server's job.
// This exists so the CLI can show identity and warn about expiry.
func Inspect(tokenString string) (*TokenInfo, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	info := &TokenInfo{}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}

// Expired reports whether the token's expiry claim has passed.
// Tokens without an expiry claim never report expired.
func (i *TokenInfo) Expired() bool {
	return !i.ExpiresAt.IsZero() && time.Now().After(i.ExpiresAt)
}
