// Package server runs the HTTP server and the orderly release of its
// dependencies on shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

type hookDefinition struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks releases dependencies once the server has stopped accepting
// requests. Hooks run in registration order and a failing hook does not stop
// the ones after it.
type ShutdownHooks struct {
	hooks []hookDefinition
}

// AddContext registers a hook that receives the shutdown context, which
// carries the shutdown deadline. Nil hooks are ignored with a warning.
func (s *ShutdownHooks) AddContext(name string, hook func(context.Context) error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	s.hooks = append(s.hooks, hookDefinition{name: name, fn: hook})
}

// AddCloser registers a resource such as a user store or token cache.
func (s *ShutdownHooks) AddCloser(name string, closer io.Closer) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.AddContext(name, func(context.Context) error { return closer.Close() })
}

// Execute runs the hooks and returns the joined errors of any that failed,
// each prefixed with the hook name.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	var errs []error
	for _, hook := range s.hooks {
		hookLog := log.Ctx(ctx).With().Str("hook", hook.name).Logger()

		started := time.Now()
		if err := hook.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Dur("elapsed", time.Since(started)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
			continue
		}
		hookLog.Info().Dur("elapsed", time.Since(started)).Msg("shutdown hook complete")
	}

	return errors.Join(errs...)
}
