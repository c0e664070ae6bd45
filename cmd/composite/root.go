package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/aristath/composite/internal/config"
	"github.com/aristath/composite/internal/events"
	"github.com/aristath/composite/internal/logging"
	"github.com/aristath/composite/internal/proc"
	"github.com/aristath/composite/internal/queue"
	"github.com/aristath/composite/internal/task"
)

func newRootCmd() *cobra.Command {
	var globalPath, projectPath, logLevel string

	root := &cobra.Command{
		Use:   "composite",
		Short: "Run groups of tasks as one composite task",
		Long: `composite runs several tasks as a single unit, either in parallel or
one after another, and reports every task's result and error in the order
the tasks were given.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&globalPath, "global-config", "", "global config file (default ~/.composite/config.json)")
	root.PersistentFlags().StringVar(&projectPath, "project-config", "", "project config file (default .composite/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")

	paths := func() (string, string, error) {
		defGlobal, defProject, err := config.DefaultPaths()
		if err != nil {
			return "", "", err
		}
		global, project := globalPath, projectPath
		if global == "" {
			global = defGlobal
		}
		if project == "" {
			project = defProject
		}
		return global, project, nil
	}
	load := func() (*config.Config, error) {
		var cfg *config.Config
		var err error
		if globalPath == "" && projectPath == "" {
			cfg, err = config.LoadDefault()
		} else {
			var global, project string
			if global, project, err = paths(); err == nil {
				cfg, err = config.Load(global, project)
			}
		}
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		return cfg, nil
	}

	root.AddCommand(newRunCmd(load), newDemoCmd(load), newConfigCmd(load, paths))
	return root
}

// app holds the process-wide pieces every command shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
	bus      *events.Bus
	procs    *proc.Manager
	breakers *task.BreakerRegistry

	mu     sync.Mutex
	queues map[string]*queue.Queue
	wg     sync.WaitGroup
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		closeLog: func() error { return nil },
		bus:      events.NewBus(),
		procs:    proc.NewManager(),
		queues:   make(map[string]*queue.Queue),
	}

	if cfg.Logging.Dir != "" {
		logger, closeFn, err := logging.NewFile(cfg.Logging.Dir, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		a.logger, a.closeLog = logger, closeFn
	} else {
		a.logger = logging.New(os.Stderr, cfg.Logging.Level)
	}
	a.breakers = task.NewBreakerRegistry(cfg.Breaker.Settings(), a.logger)

	ch := a.bus.SubscribeAll(cfg.Events.BufferSize)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for ev := range ch {
			a.logger.Debug("event", "type", ev.EventType(), "source", ev.SourceID())
		}
	}()
	return a, nil
}

// queue returns the named queue, creating it from configuration on first use.
func (a *app) queue(name string) *queue.Queue {
	a.mu.Lock()
	defer a.mu.Unlock()

	if q, ok := a.queues[name]; ok {
		return q
	}
	q := queue.New(
		queue.WithName(name),
		queue.WithMaxConcurrency(a.cfg.Queue(name).MaxConcurrency),
		queue.WithLogger(a.logger),
		queue.WithEventBus(a.bus),
	)
	a.queues[name] = q
	return q
}

// close kills leftover subprocesses and flushes the event logger.
func (a *app) close() {
	if n := a.procs.Count(); n > 0 {
		log.Printf("Killing %d leftover subprocesses", n)
		if err := a.procs.KillAll(); err != nil {
			log.Printf("Error killing subprocesses: %v", err)
		}
	}
	a.bus.Close()
	a.wg.Wait()
	if dropped := a.bus.Dropped(); dropped > 0 {
		a.logger.Warn("events dropped", "count", dropped)
	}
	if err := a.closeLog(); err != nil {
		log.Printf("Error closing log file: %v", err)
	}
}
