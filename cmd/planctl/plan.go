package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/wayfarer/wayfarer/internal/bootstrap"
	"github.com/wayfarer/wayfarer/internal/config"
)

func newPlanCmd() *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "plan <destination>",
		Short: "Request a one-day itinerary and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			cfg, err := config.LoadClient(ctx)
			if err != nil {
				return fmt.Errorf("configuration load failed: %w", err)
			}

			var closers []io.Closer
			defer func() {
				for _, c := range closers {
					err = errors.Join(err, c.Close())
				}
			}()

			creds, credsCloser, err := bootstrap.Credentials(ctx, cfg.Config())
			if err != nil {
				return err
			}
			if credsCloser != nil {
				closers = append(closers, credsCloser)
			}

			gen, genCloser, err := bootstrap.Generator(ctx, cfg.Model, http.DefaultClient)
			if err != nil {
				return err
			}
			if genCloser != nil {
				closers = append(closers, genCloser)
			}

			client, err := bootstrap.ItineraryClient(cfg.Config(), gen, creds)
			if err != nil {
				return err
			}

			started := time.Now()
			doc, err := client.RequestPlan(ctx, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(doc); err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%d stops in %s\n", len(doc.Stops), time.Since(started).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&compact, "compact", false, "print the document on a single line")

	return cmd
}
