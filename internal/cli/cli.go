// Package cli implements batchctl, the command line client for the batch engine API.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/client"
	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/spf13/cobra"
)

const (
	defaultServer       = "http://localhost:8080"
	defaultWaitInterval = 2 * time.Second
)

type options struct {
	server    string
	requestID string
	timeout   time.Duration
}

// NewRootCommand builds the batchctl command tree writing results to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "batchctl",
		Short:         "Submit and inspect batches on a batch engine server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	server := os.Getenv("BATCH_ENGINE_URL")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "batch engine base URL")
	root.PersistentFlags().StringVar(&opts.requestID, "request-id", "", "X-Request-ID sent with every call")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "per-request timeout")

	root.AddCommand(
		newCreateCommand(opts),
		newBatchCommand(opts, "start", "Start a pending batch", func(ctx context.Context, c *client.Client, id string) (any, error) {
			return c.StartBatch(ctx, id)
		}),
		newBatchCommand(opts, "status", "Show the current status of a batch", func(ctx context.Context, c *client.Client, id string) (any, error) {
			return c.GetStatus(ctx, id)
		}),
		newBatchCommand(opts, "results", "Show the aggregated results of a completed batch", func(ctx context.Context, c *client.Client, id string) (any, error) {
			return c.GetResults(ctx, id)
		}),
		newBatchCommand(opts, "cancel", "Cancel the pending operations of a batch", func(ctx context.Context, c *client.Client, id string) (any, error) {
			return c.CancelBatch(ctx, id)
		}),
		newAttemptsCommand(opts),
		newStatsCommand(opts),
		newWaitCommand(opts),
	)

	return root
}

func Execute() int {
	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (o *options) client() (*client.Client, error) {
	return client.New(o.server, client.WithTimeout(o.timeout), client.WithRequestID(o.requestID))
}

func newCreateCommand(opts *options) *cobra.Command {
	var (
		file        string
		autoStart   bool
		callbackURL string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "create -f FILE",
		Short: "Create a batch from a YAML or JSON manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(file)
			if err != nil {
				return err
			}
			req := m.request()
			req.AutoStart = autoStart
			if cmd.Flags().Changed("callback") {
				req.CallbackURL = callbackURL
			}
			if cmd.Flags().Changed("concurrency") {
				req.MaxConcurrentOperations = concurrency
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.CreateBatch(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "manifest file")
	cmd.Flags().BoolVar(&autoStart, "start", false, "start the batch right after creating it")
	cmd.Flags().StringVar(&callbackURL, "callback", "", "override the manifest callback URL")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override maxConcurrentOperations")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type batchCall func(ctx context.Context, c *client.Client, batchID string) (any, error)

func newBatchCommand(opts *options, use string, short string, call batchCall) *cobra.Command {
	return &cobra.Command{
		Use:   use + " BATCH_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			out, err := call(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newAttemptsCommand(opts *options) *cobra.Command {
	var operationID string

	cmd := &cobra.Command{
		Use:   "attempts BATCH_ID",
		Short: "Show recorded handler attempts of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			out, err := c.ListAttempts(cmd.Context(), args[0], operationID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&operationID, "operation", "", "only show attempts of this operation")
	return cmd
}

func newStatsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show service-wide statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			stats, err := c.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newWaitCommand(opts *options) *cobra.Command {
	var (
		interval time.Duration
		maxWait  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait BATCH_ID",
		Short: "Poll a batch until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if maxWait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, maxWait)
				defer cancel()
			}

			snapshot, err := waitForTerminal(ctx, c, args[0], interval)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snapshot)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", defaultWaitInterval, "poll interval")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "give up after this long (0 waits forever)")
	return cmd
}

func waitForTerminal(ctx context.Context, c *client.Client, batchID string, interval time.Duration) (*domain.BatchSnapshot, error) {
	if interval <= 0 {
		interval = defaultWaitInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snapshot, err := c.GetStatus(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if snapshot.Status.IsTerminal() {
			return snapshot, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("batch %s still %s: %w", batchID, snapshot.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
