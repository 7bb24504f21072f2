package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/batyrsync/batyrd/internal/archive"
	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/dbgateway"
	"github.com/batyrsync/batyrd/internal/eventbus"
	"github.com/batyrsync/batyrd/internal/httpapi"
	"github.com/batyrsync/batyrd/internal/jobhistory"
	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/jobqueue"
	"github.com/batyrsync/batyrd/internal/log"
	"github.com/batyrsync/batyrd/internal/ogrsource"
	"github.com/batyrsync/batyrd/internal/pull"
	"github.com/batyrsync/batyrd/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the batyrd HTTP API and background workers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := log.Configure("production", "batyrd"); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	queue := jobqueue.New()
	jobs := jobmodel.NewJobList()
	reader := pull.WrapReader(ogrsource.New())

	var lifecycles []worker.Lifecycle

	// A local event bus is always started; the AMQP mirror inside it only
	// activates when an AMQP URL is configured (SPEC_FULL §B.2).
	bus, err := eventbus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	defer bus.Close()
	lifecycles = append(lifecycles, bus)

	if cfg.AdminDBConnectionString != "" {
		history, err := jobhistory.Open(cfg.AdminDBConnectionString)
		if err != nil {
			return fmt.Errorf("failed to open job history store: %w", err)
		}
		defer history.Close()
		lifecycles = append(lifecycles, history)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Archive.Bucket != "" {
		arc, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		lifecycles = append(lifecycles, arc)
	}

	var workers []*worker.Worker
	var gateways []*dbgateway.Gateway
	for i := 0; i < cfg.NumWorkers; i++ {
		gw := dbgateway.New(cfg.DBConnectionString)
		gateways = append(gateways, gw)

		w := worker.New(
			"worker-"+strconv.Itoa(i+1),
			queue,
			gw,
			pull.WrapGateway(gw),
			reader,
			cfg,
		)
		w.Lifecycle = fanOutLifecycle(lifecycles)
		workers = append(workers, w)
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	server := httpapi.New(cfg, queue, jobs)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("serve: shutdown signal received")
		cancel()
		queue.Shutdown()
	}()

	if err := server.Run(ctx, cfg.HTTPListen); err != nil {
		log.Error(err, "serve: http server stopped with an error")
	}

	queue.Shutdown()
	wg.Wait()

	for _, gw := range gateways {
		_ = gw.Close(context.Background())
	}

	log.Info("serve: shutdown complete")
	return nil
}

// fanOutLifecycle merges any number of Lifecycle listeners into one, so a
// Worker only ever needs to hold a single reference regardless of how many
// optional sinks (event bus, history store, archive) are configured.
type fanOut []worker.Lifecycle

func fanOutLifecycle(l []worker.Lifecycle) worker.Lifecycle {
	if len(l) == 0 {
		return nil
	}
	return fanOut(l)
}

func (f fanOut) JobStarted(job *jobmodel.Job) {
	for _, l := range f {
		l.JobStarted(job)
	}
}

func (f fanOut) JobFinished(job *jobmodel.Job) {
	for _, l := range f {
		l.JobFinished(job)
	}
}
