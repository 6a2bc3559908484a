// Package cli implements the dirsync command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/dirsync/internal/config"
	"github.com/c0deZ3R0/dirsync/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	// Lookup overrides the process environment (for testing).
	Lookup config.LookupFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the dirsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dirsync",
		Short: "Mirror a Microsoft Entra directory into a document store",
		Long: `dirsync copies users, sign-in events and directory audit events from
Microsoft Graph into a document store. Event streams resume from the newest
record of the previous run; users are reconciled field by field.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitFailure, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file (environment variables take precedence)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

func (o *RootOptions) lookup() config.LookupFunc {
	if o.Lookup != nil {
		return o.Lookup
	}
	return os.LookupEnv
}

// newLogger installs the process logger on w so that stdout only carries
// results. Packages falling back to logging.Default share it.
func (o *RootOptions) newLogger(cfg logging.Config, w io.Writer) *logging.Logger {
	if o.Verbose {
		cfg.Level = "debug"
	}
	return logging.Init(cfg, w)
}
