package jwt

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/wayfarer/wayfarer/internal/config"
)

type issuedClaims struct {
	Role string `json:"role"`
	gojwt.RegisteredClaims
}

// Issuer signs HS256 bearer tokens for authenticated users.
type Issuer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewIssuer(cfg config.AuthorizationConfig) (*Issuer, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("signing key is required")
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("token TTL must be positive, got %s", cfg.TokenTTL)
	}

	return &Issuer{
		key:      []byte(cfg.SigningKey),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TokenTTL,
		now:      time.Now,
	}, nil
}

// Issue returns a signed token for subject, valid from now for the configured
// TTL.
func (i *Issuer) Issue(subject, role string) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if !rolePattern.MatchString(role) {
		return "", fmt.Errorf("invalid role %q", role)
	}

	now := i.now().UTC()

	claims := issuedClaims{
		Role: role,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  gojwt.ClaimStrings{i.audience},
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
