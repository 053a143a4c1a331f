package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/pipeline"
	"genesis/internal/stage"
	"genesis/internal/stats"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
	"genesis/internal/workers"
)

// Daemon coordinates the background services and enforces single-instance
// execution through a file lock next to the database.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.Store
	queue       *taskqueue.Queue
	coordinator *pipeline.Coordinator
	discovery   *workers.Discovery
	pool        *workers.Pool
	aggregator  *stats.Aggregator
	api         *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	Items        store.HealthSummary
	Tasks        map[taskqueue.Status]int
	Settings     store.Settings
	Workers      []stage.Health
}

// New constructs a daemon with initialized collaborators.
func New(cfg *config.Config, st *store.Store, q *taskqueue.Queue, coord *pipeline.Coordinator,
	discovery *workers.Discovery, pool *workers.Pool, aggregator *stats.Aggregator, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || q == nil || coord == nil || pool == nil {
		return nil, errors.New("daemon requires config, store, queue, coordinator, and pool")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "genesisd.lock")
	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       st,
		queue:       q,
		coordinator: coord,
		discovery:   discovery,
		pool:        pool,
		aggregator:  aggregator,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, verifies the store, seeds runtime
// settings, and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another genesis daemon instance is already running")
	}

	if err := d.store.Ping(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("database health check: %w", err)
	}
	if err := d.store.SeedSettings(ctx, store.SettingsFromConfig(d.cfg)); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("seed runtime settings: %w", err)
	}
	for _, health := range d.pool.Health(ctx) {
		if !health.Ready {
			d.logger.Warn("stage not ready at startup",
				logging.String(logging.FieldStage, health.Name),
				logging.String("detail", health.Detail))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}

	d.spawn("workers", d.pool.Run, runCtx)
	if d.discovery != nil {
		d.spawn("discovery", d.discovery.Run, runCtx)
	}
	if d.aggregator != nil {
		d.spawn("stats", d.aggregator.Run, runCtx)
	}

	d.running.Store(true)
	d.logger.Info("genesis daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("pid", os.Getpid()))
	return nil
}

func (d *Daemon) spawn(name string, run func(context.Context) error, ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("service stopped",
				logging.String(logging.FieldComponent, name),
				logging.Error(err))
		}
	}()
}

// Stop shuts down the services, waits for in-flight work, and releases the
// instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("genesis daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, empty until Start succeeds or when
// the API is disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status reports the daemon's runtime view. Store errors degrade to empty
// sections rather than failing the whole snapshot.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if summary, err := d.store.Health(ctx); err == nil {
		status.Items = summary
	} else {
		d.logger.Warn("item health unavailable", logging.Error(err))
	}
	if counts, err := d.queue.CountsByStatus(ctx); err == nil {
		status.Tasks = counts
	} else {
		d.logger.Warn("task counts unavailable", logging.Error(err))
	}
	if settings, err := d.coordinator.Settings(ctx); err == nil {
		status.Settings = settings
	}
	status.Workers = d.pool.Health(ctx)
	return status
}
