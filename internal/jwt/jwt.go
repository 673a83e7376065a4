// Package jwt issues and validates the bearer tokens presented by API users.
package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/justinas/alice"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wayfarer/wayfarer/internal/audit"
	"github.com/wayfarer/wayfarer/internal/config"
)

// Middleware returns HTTP middleware that verifies the JWT and enforces the
// validity claims. The retrieved claims are set on the request context and can
// be retrieved by calling jwt.ClaimsFromContext(ctx).
func Middleware(cfg config.AuthorizationConfig, options ...jwtmiddleware.Option) (func(http.Handler) http.Handler, error) {
	key := []byte(cfg.SigningKey)
	keyFunc := func(_ context.Context) (interface{}, error) { return key, nil }

	// the validator is used by the middleware to check the JWT signature and claims
	jwtValidator, err := validator.New(
		keyFunc,
		validator.HS256,
		cfg.Issuer,
		[]string{cfg.Audience},
		validator.WithAllowedClockSkew(5*time.Second),
		validator.WithCustomClaims(userCustomClaims()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the validator: %w", err)
	}

	// validation errors are marked in the audit log by the error handler; valid
	// claims are recorded by the audit claims middleware
	options = append(options, jwtmiddleware.WithErrorHandler(auditErrorHandler()))

	middleware := jwtmiddleware.New(
		registeredClaimsValidator(jwtValidator.ValidateToken),
		options...,
	)

	return alice.New(middleware.CheckJWT, auditClaimsMiddleware()).Then, nil
}

// ContextWithClaims returns a new context.Context with the provided validated
// claims added to it. This is primarily for test usage.
func ContextWithClaims(ctx context.Context, claims *validator.ValidatedClaims) context.Context {
	return context.WithValue(ctx, jwtmiddleware.ContextKey{}, claims)
}

// ContextWithUser creates a context carrying claims for subject and role.
func ContextWithUser(ctx context.Context, subject, role string) context.Context {
	return ContextWithClaims(ctx, &validator.ValidatedClaims{
		RegisteredClaims: validator.RegisteredClaims{Subject: subject},
		CustomClaims:     &UserClaims{Role: role},
	})
}

// ClaimsFromContext returns the validated claims from the context as set by the
// JWT middleware. This will return nil if the context data is not set. This
// should be regarded as an error for handlers that expect the claims to be
// present.
func ClaimsFromContext(ctx context.Context) *validator.ValidatedClaims {
	claims, _ := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	return claims
}

// UserClaimsFromContext gets the custom user claims from the context, as added
// by the JWT middleware. This will return nil if the claims are not present.
func UserClaimsFromContext(ctx context.Context) *UserClaims {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return nil
	}

	userClaims, _ := claims.CustomClaims.(*UserClaims)

	return userClaims
}

func auditClaimsMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			claims := ClaimsFromContext(r.Context())

			if claims == nil {
				entry.Error = "JWT claims missing from context"
			} else {
				reg := claims.RegisteredClaims
				entry.Authorized = true
				entry.AuthSubject = reg.Subject
				entry.AuthIssuer = reg.Issuer
				entry.AuthAudience = reg.Audience
				entry.AuthExpirySecs = reg.Expiry

				if user := UserClaimsFromContext(r.Context()); user != nil {
					entry.AuthRole = user.Role
				}

				trace.SpanFromContext(r.Context()).SetAttributes(
					attribute.String("enduser.id", entry.AuthSubject),
					attribute.String("enduser.role", entry.AuthRole),
				)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func auditErrorHandler() jwtmiddleware.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		entry := audit.Log(r.Context())
		entry.Error = fmt.Sprintf("JWT authorization failure: %s", err.Error())

		// A missing token is a 401 here, unlike the library default of 400.
		status := http.StatusInternalServerError
		if errors.Is(err, jwtmiddleware.ErrJWTMissing) || errors.Is(err, jwtmiddleware.ErrJWTInvalid) {
			status = http.StatusUnauthorized
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", "Bearer")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(status)})
	}
}
