// Package download issues and verifies the ephemeral, signed download
// URIs returned by the MCP get_file_uri tool and the HTTP file-download
// route. Tokens are short-lived JWTs carrying only the logical file path.
package download

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints and verifies file-download tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// New builds an Issuer. A zero ttl defaults to 5 minutes.
func New(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{secret: secret, ttl: ttl}
}

type claims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

// IssueURI returns the relative URI a client can GET to download path's
// current content before the token expires.
func (i *Issuer) IssueURI(path string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return "/api/files/download?token=" + signed, nil
}

// Verify validates tokenString and returns the file path it authorizes.
func (i *Issuer) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("invalid or expired download token")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.Path == "" {
		return "", fmt.Errorf("invalid download token payload")
	}
	return c.Path, nil
}
