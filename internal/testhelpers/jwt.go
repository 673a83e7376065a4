package testhelpers

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

const (
	TestSigningKey = "test-signing-key-with-enough-entropy-0123456789"
	TestIssuer     = "wayfarer"
	TestAudience   = "wayfarer-api"
)

// UserClaims are the custom claims carried by user bearer tokens.
type UserClaims struct {
	Role string `json:"role,omitempty"`
}

// CreateJWT signs claims with HS256 using key. It is independent of the
// production issuer so that tests validate the wire format rather than
// round-tripping through the same code.
func CreateJWT(t *testing.T, key string, claims josejwt.Claims, custom UserClaims) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(key)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err, "failed to create signer")

	token, err := josejwt.Signed(signer).Claims(claims).Claims(custom).Serialize()
	require.NoError(t, err, "failed to sign JWT")

	return token
}

// ValidClaims returns registered claims for subject that are valid from one
// minute ago until one minute from now.
func ValidClaims(subject string) josejwt.Claims {
	now := time.Now().UTC()

	return josejwt.Claims{
		Issuer:    TestIssuer,
		Subject:   subject,
		Audience:  josejwt.Audience{TestAudience},
		IssuedAt:  josejwt.NewNumericDate(now),
		NotBefore: josejwt.NewNumericDate(now.Add(-1 * time.Minute)),
		Expiry:    josejwt.NewNumericDate(now.Add(1 * time.Minute)),
	}
}

// UserToken is a convenience for a valid token for subject with the given role.
func UserToken(t *testing.T, subject, role string) string {
	t.Helper()
	return CreateJWT(t, TestSigningKey, ValidClaims(subject), UserClaims{Role: role})
}
