package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/dirsync/directory"
	"github.com/c0deZ3R0/dirsync/internal/config"
	"github.com/c0deZ3R0/dirsync/synckit"
)

// StreamStatus is the stored state of one stream.
type StreamStatus struct {
	Stream     string     `json:"stream"`
	Collection string     `json:"collection"`
	Documents  int64      `json:"documents"`
	Watermark  string     `json:"watermark,omitempty"`
	LastID     string     `json:"last_id,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored watermarks and collection sizes",
		Long: `Print, for every stream, the number of stored documents and the watermark
the next run will resume from. Only the storage settings are required.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd, rootOpts)
		},
	}
}

func showStatus(cmd *cobra.Command, opts *RootOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := config.Read(opts.ConfigPath, opts.lookup())
	if err == nil {
		err = cfg.ValidateStorage()
	}
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}
	logger := opts.newLogger(cfg.Logging, cmd.ErrOrStderr())

	ctx := commandContext(cmd)
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "failed to open storage", err)
	}
	defer store.Close()

	var rows []StreamStatus
	for _, s := range directory.Streams(directory.DefaultOptions) {
		row := StreamStatus{Stream: s.Type, Collection: s.Collection}

		row.Documents, err = store.Count(ctx, s.Collection)
		if err != nil {
			out.Error(err)
			return WrapExitError(ExitFailure, "failed to count "+s.Collection, err)
		}
		if s.Incremental() {
			wm, err := store.GetWatermark(ctx, s.Type)
			if err != nil {
				out.Error(err)
				return WrapExitError(ExitFailure, "failed to read watermark of "+s.Type, err)
			}
			if wm != nil {
				row.Watermark = wm.Timestamp
				row.LastID = wm.LastID
				if !wm.UpdatedAt.IsZero() {
					updated := wm.UpdatedAt.UTC()
					row.UpdatedAt = &updated
				}
			}
		}
		rows = append(rows, row)
	}

	if opts.Format == "json" {
		return out.Success(rows)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tCOLLECTION\tDOCUMENTS\tWATERMARK\tLAST ID")
	for _, r := range rows {
		wm, id := r.Watermark, r.LastID
		if wm == "" {
			wm, id = "-", "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Stream, r.Collection, r.Documents, wm, id)
	}
	return tw.Flush()
}

func unknownStreamError(name string, all []*synckit.Stream) error {
	types := make([]string, 0, len(all))
	for _, s := range all {
		types = append(types, s.Type)
	}
	return fmt.Errorf("unknown stream %q: must be one of %s", name, strings.Join(types, ", "))
}
