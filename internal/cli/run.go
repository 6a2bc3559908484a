package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/dirsync/directory"
	"github.com/c0deZ3R0/dirsync/internal/config"
	"github.com/c0deZ3R0/dirsync/logging"
	"github.com/c0deZ3R0/dirsync/storage"
	"github.com/c0deZ3R0/dirsync/synckit"
	"github.com/c0deZ3R0/dirsync/transport/graph"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Streams restricts the run to the named stream types.
	Streams []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Synchronize users, sign-in events and audit events",
		Long: `Run every stream once, in order: users, sign_in_logs, audit_logs.

A stream that fails is reported and the next one still runs; the exit code is
non-zero only when configuration or storage is unusable.

Example:
  GRAPH_TENANT_ID=... GRAPH_CLIENT_ID=... GRAPH_CLIENT_SECRET=... \
  STORAGE_URI=sqlite://dirsync.db STORAGE_DATABASE=directory dirsync run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Streams, "stream", nil, "only run these stream types (repeatable)")

	return cmd
}

func runSync(cmd *cobra.Command, opts *RunOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := config.LoadWithLookup(opts.ConfigPath, opts.lookup())
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}
	logger := opts.newLogger(cfg.Logging, cmd.ErrOrStderr())
	cliLog := logger.WithComponent(logging.Component("cli"))

	streams, err := selectStreams(directory.Streams(directory.Options{
		PageSize:       cfg.Sync.PageSize,
		UsersPageDelay: cfg.Sync.UsersPageDelay,
	}), opts.Streams)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "invalid stream selection", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "failed to open storage", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			cliLog.Error("error closing storage", "error", closeErr)
		}
	}()

	client, err := graph.NewWithCredentials(ctx, graph.Credentials{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		AuthorityURL: cfg.Graph.AuthorityURL,
	}, cfg.Graph.BaseURL, &http.Client{Timeout: cfg.Graph.RequestTimeout},
		graph.WithMaxResponseSize(cfg.Graph.MaxResponseSize),
		graph.WithLogger(logger),
	)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "failed to create graph client", err)
	}

	pol := newPolicies(streams)
	mgr, err := synckit.NewManager(
		synckit.WithSource(client),
		synckit.WithStore(store),
		synckit.WithStreams(streams...),
		synckit.WithLogger(logger),
		synckit.WithObserver(func(r *synckit.StreamResult) {
			out.Text("%s", formatStream(pol.summarizeStream(r)))
		}),
	)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "failed to create sync manager", err)
	}

	res := mgr.Run(ctx)
	if failed := res.Failed(); len(failed) > 0 {
		cliLog.Warn("run finished with failed streams",
			"run_id", res.RunID,
			"failed", len(failed),
			"streams", len(res.Streams))
	}
	out.Text("run %s finished in %s, %d of %d streams failed",
		res.RunID, res.Duration.Round(time.Millisecond), len(res.Failed()), len(res.Streams))
	return out.Success(pol.summarizeRun(res))
}

// selectStreams filters all by type, keeping run order.
func selectStreams(all []*synckit.Stream, names []string) ([]*synckit.Stream, error) {
	if len(names) == 0 {
		return all, nil
	}
	known := make(map[string]*synckit.Stream, len(all))
	for _, s := range all {
		known[s.Type] = s
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := known[n]; !ok {
			return nil, unknownStreamError(n, all)
		}
		want[n] = true
	}
	var out []*synckit.Stream
	for _, s := range all {
		if want[s.Type] {
			out = append(out, s)
		}
	}
	return out, nil
}

// openStore opens the configured backend, logging how long it took.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (synckit.Store, error) {
	var store synckit.Store
	err := logger.LogOperation(ctx, logging.Operation("open_storage"), logging.Component("storage"), func() error {
		var err error
		store, err = storage.Open(ctx, cfg.Storage.URI, cfg.Storage.Database, logger)
		return err
	})
	return store, err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
