package interceptor

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/milan604/netkit/pkg/errors"
)

// DefaultJWTLifetime is assumed for tokens that carry no exp claim.
const DefaultJWTLifetime = time.Hour

// JWTTokenProvider wraps a source of raw JWTs and reads their expiry from the exp claim.
// Signatures are not verified; the server does that.
type JWTTokenProvider struct {
	Source func(ctx context.Context) (string, error)
	parser *jwt.Parser
}

// NewJWTTokenProvider creates a provider over source.
func NewJWTTokenProvider(source func(ctx context.Context) (string, error)) *JWTTokenProvider {
	return &JWTTokenProvider{Source: source, parser: jwt.NewParser()}
}

// FetchToken pulls a token from Source and extracts its expiry.
func (p *JWTTokenProvider) FetchToken(ctx context.Context) (string, time.Time, error) {
	raw, err := p.Source(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	exp, err := ExpiryOf(p.parser, raw)
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, exp, nil
}

// ExpiryOf returns the exp claim of an unverified token, or now+DefaultJWTLifetime when absent.
func ExpiryOf(parser *jwt.Parser, raw string) (time.Time, error) {
	if parser == nil {
		parser = jwt.NewParser()
	}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, errors.Wrap(err, "jwt: parse token")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "jwt: read exp claim")
	}
	if exp == nil {
		return time.Now().Add(DefaultJWTLifetime), nil
	}
	return exp.Time, nil
}

// HS256Signer mints short-lived service tokens signed with a shared secret.
type HS256Signer struct {
	Secret   []byte
	Issuer   string
	Subject  string
	Audience []string
	TTL      time.Duration
	now      func() time.Time
}

// NewHS256Signer creates a signer. ttl <= 0 uses DefaultJWTLifetime.
func NewHS256Signer(secret []byte, issuer, subject string, audience []string, ttl time.Duration) *HS256Signer {
	if ttl <= 0 {
		ttl = DefaultJWTLifetime
	}
	return &HS256Signer{
		Secret:   secret,
		Issuer:   issuer,
		Subject:  subject,
		Audience: audience,
		TTL:      ttl,
		now:      time.Now,
	}
}

// FetchToken signs a fresh token.
func (s *HS256Signer) FetchToken(context.Context) (string, time.Time, error) {
	if len(s.Secret) == 0 {
		return "", time.Time{}, errors.New("jwt: empty signing secret")
	}
	now := s.now()
	exp := now.Add(s.TTL)
	claims := jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Subject:   s.Subject,
		Audience:  s.Audience,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "jwt: sign token")
	}
	return signed, exp, nil
}
