package itinerary

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/wayfarer/wayfarer/internal/audit"
	"github.com/wayfarer/wayfarer/internal/failure"
	"github.com/wayfarer/wayfarer/internal/generate"
	"github.com/wayfarer/wayfarer/internal/retry"
)

// Stage is a step of a single RequestPlan call.
type Stage string

const (
	StageBuilding       Stage = "building"
	StageAuthenticating Stage = "authenticating"
	StageCalling        Stage = "calling"
	StageExtracting     Stage = "extracting"
	StageDone           Stage = "done"
)

// Generator produces raw model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (string, error)
}

// TokenProvider supplies bearer tokens for a scope.
type TokenProvider interface {
	Token(ctx context.Context, scope string) (string, error)
}

// Client requests itineraries from a model. It holds no per-request state
// and is safe for concurrent use.
type Client struct {
	generator Generator
	policy    retry.Policy
	tokens    TokenProvider
	scope     string
}

type ClientOption func(*Client)

// WithBearerAuth attaches a token for scope to every model call.
func WithBearerAuth(tokens TokenProvider, scope string) ClientOption {
	return func(c *Client) {
		c.tokens = tokens
		c.scope = scope
	}
}

func WithRetryPolicy(policy retry.Policy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

func NewClient(generator Generator, opts ...ClientOption) *Client {
	c := &Client{
		generator: generator,
		policy:    retry.DefaultPolicy("generate"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestPlan builds the prompt for destination, calls the model under the
// retry policy and extracts the itinerary from its reply. Every failure is a
// *failure.Error; no fallback itinerary is ever produced.
func (c *Client) RequestPlan(ctx context.Context, destination string) (Document, error) {
	entry := audit.Log(ctx)
	logger := log.Ctx(ctx).With().Str("destination", destination).Logger()

	stage := StageBuilding
	attempts := 0
	enter := func(next Stage) {
		stage = next
		entry.Stage = string(next)
		logger.Debug().Str("stage", string(next)).Msg("itinerary stage")
	}
	fail := func(err error) (Document, error) {
		kind := failure.KindOf(err)
		entry.FailureKind = kind.String()
		logger.Info().Err(err).
			Str("stage", string(stage)).
			Str("kind", kind.String()).
			Int("attempts", attempts).
			Msg("itinerary request failed")
		return Document{}, err
	}

	enter(StageBuilding)
	prompt, err := BuildPrompt(destination)
	if err != nil {
		return fail(err)
	}
	entry.Destination, _ = NormalizeDestination(destination)

	var bearer string
	if c.tokens != nil && c.scope != "" {
		enter(StageAuthenticating)
		bearer, err = c.tokens.Token(ctx, c.scope)
		if err != nil {
			if !failure.Is(err, failure.KindAuth) {
				err = failure.Wrap(failure.KindAuth, "authenticate", err, "obtaining model token")
			}
			return fail(err)
		}
	}

	enter(StageCalling)
	raw, err := retry.Execute(ctx, c.policy, func(ctx context.Context) (string, error) {
		attempts++
		entry.Attempts = attempts
		return c.generator.Generate(ctx, generate.Request{
			Prompt:      prompt,
			BearerToken: bearer,
		})
	})
	if err != nil {
		return fail(err)
	}

	enter(StageExtracting)
	doc, err := Extract(raw)
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Candidate != "" {
			logger.Debug().Str("candidate", fe.Candidate).Msg("unparseable itinerary candidate")
		}
		return fail(err)
	}

	enter(StageDone)
	entry.StopCount = len(doc.Stops)

	return doc, nil
}
