// Package cli wires the hyperfeed commands.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string
	Archive    string
	Verbose    bool
}

// NewRootCommand creates the root command for the hyperfeed CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "hyperfeed",
		Short: "Append-only archives of syndication feeds",
		Long: `hyperfeed keeps every item a feed has ever published in an append-only,
deduplicated archive, renders it back as RSS and replicates it to mirrors.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.json or .yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "database", "", "catalog database: sqlite path or postgres URL")
	cmd.PersistentFlags().StringVar(&opts.Archive, "archive", "", "archive backend: sql, memory, file:///dir or s3://bucket/prefix")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewRenderCommand(opts))
	cmd.AddCommand(NewMirrorCommand(opts))
	cmd.AddCommand(NewImportOPMLCommand(opts))
	cmd.AddCommand(NewExportOPMLCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}
