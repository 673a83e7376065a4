package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/wayfarer/wayfarer/internal/bootstrap"
	"github.com/wayfarer/wayfarer/internal/config"
	"github.com/wayfarer/wayfarer/internal/jwt"
	"github.com/wayfarer/wayfarer/internal/user"
)

// newHashPasswordCmd prints a bcrypt hash for a users seed file. The password
// is read from stdin so that it stays out of shell history.
func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password: %w", err)
			}

			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("password must not be empty")
			}

			hash, err := user.HashPassword(password, cost)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	return cmd
}

// newTokenCmd checks that a token can be obtained for a scope. The token
// itself is never printed.
func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <scope>",
		Short: "Obtain a token for a scope and print when it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadClient(ctx)
			if err != nil {
				return fmt.Errorf("configuration load failed: %w", err)
			}

			creds, closer, err := bootstrap.Credentials(ctx, cfg.Config())
			if err != nil {
				return err
			}
			if creds == nil {
				return errors.New("AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET must be set")
			}
			defer func() { _ = closer.Close() }()

			expiresAt, err := creds.ExpiresAt(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: expires %s (in %s)\n",
				args[0],
				expiresAt.UTC().Format(time.RFC3339),
				time.Until(expiresAt).Round(time.Second))
			return nil
		},
	}
}

// newMintCmd signs a user token with the server's signing key, for calling a
// local server without registering.
func newMintCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a bearer token for a local server using JWT_SIGNING_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAuthorization(cmd.Context())
			if err != nil {
				return err
			}
			if ttl > 0 {
				cfg.TokenTTL = ttl
			}

			issuer, err := jwt.NewIssuer(cfg)
			if err != nil {
				return err
			}

			token, err := issuer.Issue(subject, role)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "local-user", "token subject")
	cmd.Flags().StringVar(&role, "role", user.DefaultRole, "token role")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_TOKEN_TTL)")

	return cmd
}

func loadAuthorization(ctx context.Context) (config.AuthorizationConfig, error) {
	var cfg config.AuthorizationConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return cfg, fmt.Errorf("error reading config: %w", err)
	}
	return cfg, nil
}
