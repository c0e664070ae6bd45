package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/composite/internal/composite"
	"github.com/aristath/composite/internal/config"
	"github.com/aristath/composite/internal/task"
)

func newDemoCmd(load func() (*config.Config, error)) *cobra.Command {
	var step time.Duration

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a parallel and a sequential composite of simulated work",
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
			return runDemo(cmd.Context(), a, cmd.OutOrStdout(), step)
		},
	}
	cmd.Flags().DurationVar(&step, "step", 100*time.Millisecond, "duration of one simulated unit of work")
	return cmd
}

// simulated sleeps for d, honouring cancellation.
func simulated(name string, d time.Duration, result any, err error) *task.Operation {
	return task.New(func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return result, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, task.WithID(name))
}

// flaky fails its first failures calls, then succeeds.
func flaky(name string, failures int32, opts ...task.Option) *task.Operation {
	var calls atomic.Int32
	opts = append([]task.Option{task.WithID(name)}, opts...)
	return task.New(func(ctx context.Context) (any, error) {
		if n := calls.Add(1); n <= failures {
			return nil, fmt.Errorf("%s: transient failure %d", name, n)
		}
		return fmt.Sprintf("%s ok after %d attempts", name, calls.Load()), nil
	}, opts...)
}

func runDemo(ctx context.Context, a *app, out io.Writer, step time.Duration) error {
	retry := a.cfg.Retry.Policy()
	retry.InitialInterval = step / 2
	retry.MaxInterval = step * 2

	parallel := composite.New([]task.Task{
		simulated("fetch-users", 3*step, "42 users", nil),
		simulated("fetch-orders", step, "17 orders", nil),
		simulated("fetch-invoices", 2*step, nil, errors.New("invoice service unavailable")),
		flaky("fetch-rates", 2, task.WithRetry(retry), task.WithBreaker(a.breakers.Get("rates"))),
	},
		composite.WithID("parallel-fetch"),
		composite.WithQueue(a.queue(config.DefaultQueue)),
		composite.WithLogger(a.logger),
		composite.WithEventBus(a.bus),
	)

	sequential := composite.NewSequence(func(seq *composite.Sequence) {
		seq.Append(simulated("migrate", step, "schema v7", nil))
		seq.Append(simulated("seed", step, "seeded", nil))
		seq.Append(simulated("verify", step, "verified", nil))
	},
		composite.WithID("sequential-setup"),
		composite.WithQueue(a.queue(config.SerialQueue)),
		composite.WithLogger(a.logger),
		composite.WithEventBus(a.bus),
	)

	var mu sync.Mutex
	report := func(c *composite.Composite) composite.CompletionFunc {
		labels := make([]string, 0, c.Len())
		for _, t := range c.Tasks() {
			labels = append(labels, t.ID())
		}
		return func(results []any, errs []error) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "%s (%s):\n", c.ID(), c.Mode())
			printSlots(out, labels, results, errs)
		}
	}
	parallel.SetCompletion(report(parallel))
	sequential.SetCompletion(report(sequential))

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range []*composite.Composite{parallel, sequential} {
		g.Go(func() error {
			_, _, err := c.Run(gctx)
			return err
		})
	}
	return g.Wait()
}
