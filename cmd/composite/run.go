package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/composite/internal/composite"
	"github.com/aristath/composite/internal/config"
	"github.com/aristath/composite/internal/proc"
	"github.com/aristath/composite/internal/task"
)

const shutdownTimeout = 10 * time.Second

type runOptions struct {
	sequential bool
	queue      string
	retry      bool
	breaker    string
	timeout    time.Duration
}

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [flags] -- SCRIPT [SCRIPT...]",
		Short: "Run shell scripts as one composite task",
		Long: `Run each SCRIPT with "sh -c" as a sub-task of a single composite and print
every script's output or error in argument order.

Examples:
  # Run three scripts in parallel
  composite run -- "make lint" "make test" "make docs"

  # Run them one after another; later scripts still run if one fails
  composite run --sequential -- "make build" "make test"

  # Retry flaky scripts with the configured backoff
  composite run --retry --breaker network -- "curl -fsS https://example.com"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}
			return runScripts(ctx, a, cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.sequential, "sequential", "s", false, "run scripts one after another")
	cmd.Flags().StringVarP(&opts.queue, "queue", "q", config.DefaultQueue, "configured queue to run the scripts on")
	cmd.Flags().BoolVar(&opts.retry, "retry", false, "retry failing scripts with exponential backoff")
	cmd.Flags().StringVar(&opts.breaker, "breaker", "", "route scripts through the named circuit breaker")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "cancel the composite after this long (0 for no limit)")
	return cmd
}

func runScripts(ctx context.Context, a *app, out io.Writer, scripts []string, opts runOptions) error {
	var taskOpts []task.Option
	if opts.retry {
		taskOpts = append(taskOpts, task.WithRetry(a.cfg.Retry.Policy()))
	}
	if opts.breaker != "" {
		taskOpts = append(taskOpts, task.WithBreaker(a.breakers.Get(opts.breaker)))
	}

	q := a.queue(opts.queue)
	compOpts := []composite.Option{
		composite.WithQueue(q),
		composite.WithLogger(a.logger),
		composite.WithEventBus(a.bus),
	}

	var c *composite.Composite
	if opts.sequential {
		c = composite.NewSequence(func(seq *composite.Sequence) {
			for _, script := range scripts {
				seq.Append(proc.Shell(a.procs, script, taskOpts...))
			}
		}, compOpts...)
	} else {
		tasks := make([]task.Task, 0, len(scripts))
		for _, script := range scripts {
			tasks = append(tasks, proc.Shell(a.procs, script, taskOpts...))
		}
		c = composite.New(tasks, compOpts...)
	}

	a.logger.Info("running composite", "id", c.ID(), "mode", c.Mode().String(), "tasks", c.Len(), "queue", q.Name())
	results, errs, runErr := c.Run(ctx)

	if runErr != nil {
		log.Println("Composite interrupted, waiting for sub-tasks to stop...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := q.Wait(shutdownCtx); err != nil {
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
	}

	printSlots(out, scripts, results, errs)

	if runErr != nil {
		return fmt.Errorf("composite %s: %w", c.ID(), runErr)
	}
	if _, err := c.Outcome(); err != nil {
		return err
	}
	return nil
}

// printSlots writes one line per sub-task, in submission order.
func printSlots(out io.Writer, labels []string, results []any, errs []error) {
	for i := range results {
		label := fmt.Sprintf("#%d", i)
		if i < len(labels) {
			label = labels[i]
		}
		if errs[i] != nil {
			fmt.Fprintf(out, "[%d] FAIL %s: %v\n", i, label, errs[i])
			continue
		}
		fmt.Fprintf(out, "[%d] OK   %s: %v\n", i, label, results[i])
	}
}
