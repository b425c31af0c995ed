package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/intake/pkg/config"
	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/store"
)

// ErrNoDurableEvents is returned when the configured driver keeps events
// only in process memory, so there is nothing to export after the fact.
var ErrNoDurableEvents = errors.New("audit export needs STORE_DRIVER=sqlite or postgres")

// NewAuditCommand creates the audit command group.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Export and verify hash-chained submission histories",
	}
	cmd.AddCommand(newAuditExportCommand(rootOpts))
	cmd.AddCommand(newAuditVerifyCommand())
	return cmd
}

func newAuditExportCommand(rootOpts *RootOptions) *cobra.Command {
	var archive bool

	cmd := &cobra.Command{
		Use:   "export <submission-id>",
		Short: "Export one submission's events as a verifiable bundle",
		Long: `Export the event history of one submission as a hash-chained bundle.

The bundle is written to stdout, or with --archive to the destination
selected by ARCHIVE_KIND (fs, s3 or gcs).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bundle, err := exportBundle(ctx, rootOpts, args[0])
			if err != nil {
				return err
			}
			if !archive {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(bundle)
			}
			archiver, err := store.NewArchiver(ctx, archiveConfig(rootOpts.cfg))
			if err != nil {
				return err
			}
			where, err := archiver.Archive(ctx, bundle)
			if err != nil {
				return err
			}
			rootOpts.logger.InfoContext(ctx, "audit bundle archived",
				"submission_id", bundle.SubmissionID,
				"bundle_id", bundle.BundleID,
				"entries", bundle.EntryCount,
				"location", where,
			)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), where)
			return err
		},
	}

	cmd.Flags().BoolVar(&archive, "archive", false, "upload the bundle instead of printing it")
	return cmd
}

func newAuditVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <bundle.json>",
		Short: "Verify an exported bundle's hashes and chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var bundle store.AuditBundle
			if err := json.Unmarshal(data, &bundle); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := store.VerifyBundle(&bundle); err != nil {
				return fmt.Errorf("bundle %s: %w", bundle.BundleID, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d entries, head %s\n", bundle.EntryCount, bundle.ChainHead)
			return err
		},
	}
}

func exportBundle(ctx context.Context, opts *RootOptions, submissionID string) (*store.AuditBundle, error) {
	st, err := openStorage(ctx, opts.cfg, opts.logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()
	if st.events == nil {
		return nil, ErrNoDurableEvents
	}
	events, err := st.events.List(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return chainBundle(ctx, submissionID, events, time.Now())
}

// chainBundle replays events into a fresh audit log, which rebuilds the
// per-submission hash chain, and exports it.
func chainBundle(ctx context.Context, submissionID string, events []contracts.Event, now time.Time) (*store.AuditBundle, error) {
	log := store.NewAuditLog().WithClock(func() time.Time { return now })
	for _, ev := range events {
		if err := log.Append(ctx, ev); err != nil {
			return nil, err
		}
	}
	return log.ExportBundle(submissionID)
}

func archiveConfig(cfg *config.Config) store.ArchiveConfig {
	return store.ArchiveConfig{
		Kind:     store.ArchiveKind(cfg.ArchiveKind),
		Dir:      cfg.ArchiveDir,
		Bucket:   cfg.ArchiveBucket,
		Region:   cfg.ArchiveRegion,
		Endpoint: cfg.ArchiveEndpoint,
		Prefix:   cfg.ArchivePrefix,
	}
}
