// Package storage is the local object store packages are served from. It
// issues time-limited signed download URLs and reports package changes.
package storage

import (
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/scormview/pkg/errors"
)

// MaxURLTTL is the longest lifetime a signed URL may have.
const MaxURLTTL = 24 * time.Hour

// ObjectsPrefix is the route signed URLs point at.
const ObjectsPrefix = "/objects/"

// Signer issues fetchable URLs for stored objects.
type Signer interface {
	SignedDownloadURL(path string, ttl time.Duration) (string, error)
}

// Claims bind a token to one object path.
type Claims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

// URLSigner signs object URLs with HS256 tokens.
type URLSigner struct {
	key     []byte
	baseURL string
	now     func() time.Time
}

// NewURLSigner creates a signer. An empty key gets a random per-process key,
// which invalidates every issued URL on restart.
func NewURLSigner(key, baseURL string) (*URLSigner, error) {
	secret := []byte(key)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return &URLSigner{
		key:     secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}, nil
}

// Token returns a signed token for path valid for ttl.
func (s *URLSigner) Token(path string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > MaxURLTTL {
		return "", errors.New(errors.ErrCodeInvalidInput, "ttl out of range").
			WithContext("ttl", ttl.String()).
			WithContext("max", MaxURLTTL.String())
	}
	now := s.now()
	claims := &Claims{
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   path,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// SignedDownloadURL returns baseURL/objects/<path>?token=<jwt>.
func (s *URLSigner) SignedDownloadURL(path string, ttl time.Duration) (string, error) {
	token, err := s.Token(path, ttl)
	if err != nil {
		return "", err
	}
	return s.baseURL + ObjectsPrefix + escapePath(path) + "?token=" + url.QueryEscape(token), nil
}

// Verify checks that token is valid, unexpired and issued for path.
func (s *URLSigner) Verify(token, path string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		reason := "invalid token"
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		return nil, errors.Wrap(err, errors.ErrCodeInvalidToken, reason).WithContext("path", path)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New(errors.ErrCodeInvalidToken, "invalid token").WithContext("path", path)
	}
	if claims.Path != path {
		return nil, errors.New(errors.ErrCodeInvalidToken, "token issued for another object").
			WithContext("path", path)
	}
	return claims, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
