package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/KRYPTOHAUS/hyperfeed/internal/auth"
	"github.com/KRYPTOHAUS/hyperfeed/internal/opml"
)

// NewImportOPMLCommand creates the import-opml command.
func NewImportOPMLCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-opml <file>",
		Short: "Create an owned feed for every subscription in an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			subs, err := opml.Parse(file)
			if err != nil {
				return err
			}

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			imported := 0
			for _, sub := range subs {
				_, _, created, err := a.hub.Create(ctx, sub)
				if err != nil {
					a.log.Warn(ctx, "import feed", "url", sub.URL, "error", err)
					continue
				}
				if created {
					imported++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d\n", imported, len(subs))
			return nil
		},
	}
}

// NewExportOPMLCommand creates the export-opml command.
func NewExportOPMLCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export-opml",
		Short: "Write the owned subscriptions as OPML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			subs, err := a.store.GetSubscriptions(ctx)
			if err != nil {
				return err
			}
			data, err := opml.Export("Hyperfeed Feeds", subs)
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var subject string
	var ttl time.Duration
	var feeds []string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the mutating HTTP routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}
			tok, err := auth.GenerateToken(subject, []byte(cfg.JWTSecret), ttl, feeds...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "validity (config token TTL when 0)")
	cmd.Flags().StringSliceVar(&feeds, "feed", nil, "restrict the token to these feed keys")
	return cmd
}
