package jwt

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
)

// requiredClaims are registered claims the core validator accepts as absent
// but that every user token must carry.
var requiredClaims = []struct {
	name    string
	present func(validator.RegisteredClaims) bool
}{
	{"aud", func(c validator.RegisteredClaims) bool { return len(c.Audience) > 0 }},
	{"sub", func(c validator.RegisteredClaims) bool { return c.Subject != "" }},
	{"exp", func(c validator.RegisteredClaims) bool { return c.Expiry != 0 }},
}

func registeredClaimsValidator(next jwtmiddleware.ValidateToken) jwtmiddleware.ValidateToken {
	return func(ctx context.Context, token string) (interface{}, error) {
		claims, err := next(ctx, token)
		if err != nil {
			return nil, err
		}

		validated, ok := claims.(*validator.ValidatedClaims)
		if !ok {
			return nil, fmt.Errorf("unexpected claims type %T", claims)
		}

		for _, rc := range requiredClaims {
			if !rc.present(validated.RegisteredClaims) {
				return nil, fmt.Errorf("required claim %q not present", rc.name)
			}
		}

		return claims, nil
	}
}

var rolePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,31}$`)

// UserClaims are the private claims of a user token.
type UserClaims struct {
	Role string `json:"role"`
}

// Validate rejects tokens without a role, or with a role that could not have
// been issued by this service.
func (c *UserClaims) Validate(context.Context) error {
	if c.Role == "" {
		return errors.New("missing expected claim(s): role")
	}
	if !rolePattern.MatchString(c.Role) {
		return fmt.Errorf("invalid role claim %q", c.Role)
	}
	return nil
}

func userCustomClaims() func() validator.CustomClaims {
	return func() validator.CustomClaims {
		return &UserClaims{}
	}
}
