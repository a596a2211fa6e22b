package retrievo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/retrievo/pkg/alert"
	"github.com/soundprediction/retrievo/pkg/config"
	"github.com/soundprediction/retrievo/pkg/engine"
	"github.com/soundprediction/retrievo/pkg/health"
	"github.com/soundprediction/retrievo/pkg/optimizer"
	"github.com/soundprediction/retrievo/pkg/resilience"
	"github.com/soundprediction/retrievo/pkg/search"
	"github.com/soundprediction/retrievo/pkg/store"
	"github.com/soundprediction/retrievo/pkg/strategy"
	"github.com/soundprediction/retrievo/pkg/syncer"
	"github.com/soundprediction/retrievo/pkg/telemetry"
	"github.com/soundprediction/retrievo/pkg/types"
)

// pingInterval is how often engines are probed for health when idle.
const pingInterval = 30 * time.Second

// Options configure a Client.
type Options struct {
	// ConfigPath is the configuration file. Empty means defaults plus
	// environment overrides only.
	ConfigPath string

	// Engines are the three backing store clients. Required.
	Engines *engine.Set

	// Embedder turns query text into a vector for the vector engine. Nil
	// disables vector-side query embedding (the engines receive only text).
	Embedder search.Embedder

	// Logger overrides the logger built from the log configuration.
	Logger *slog.Logger

	// Alerter overrides the SMTP alerter built from the alert
	// configuration. Useful in tests.
	Alerter alert.Alerter

	// ConfigOverrides are applied on top of file and environment values
	// before components are wired, as dotted keys.
	ConfigOverrides map[string]interface{}

	// WatchConfig enables file watching for hot reload.
	WatchConfig bool
}

// Client wires the orchestration components together. Create it with New.
type Client struct {
	cfg       *config.Manager
	engines   *engine.Set
	tracker   *health.Tracker
	monitor   *health.Monitor
	exec      *resilience.Executor
	selector  *strategy.Selector
	searcher  *search.Searcher
	optimizer *optimizer.Optimizer
	syncer    *syncer.Service
	store     *store.Store
	recorder  *telemetry.QueryRecorder
	logger    *slog.Logger

	cfgListener config.Handle
	cancel      context.CancelFunc
}

var _ Retrievo = (*Client)(nil)

// New builds a fully wired client from the given options.
func New(opts Options) (*Client, error) {
	if opts.Engines == nil {
		return nil, fmt.Errorf("retrievo: engines are required")
	}

	mgr, err := config.NewManager(opts.ConfigPath, opts.Logger)
	if err != nil {
		return nil, err
	}
	if len(opts.ConfigOverrides) > 0 {
		if _, err := mgr.Update(opts.ConfigOverrides); err != nil {
			return nil, err
		}
	}
	snap := mgr.Current()

	logger := opts.Logger
	if logger == nil {
		logger, err = buildLogger(snap)
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:     mgr,
		engines: opts.Engines,
		logger:  logger,
	}

	c.tracker = health.NewTracker(types.EngineRelational, types.EngineKeyword, types.EngineVector)
	c.exec = resilience.NewExecutor(resilienceSettings(snap), logger)

	alerter := opts.Alerter
	if alerter == nil {
		if snap.Alert.Enabled {
			alerter = alert.NewEmailAlerter(snap.Alert)
		} else {
			alerter = alert.NoOpAlerter{}
		}
	}
	notifier := alert.NewBreakerNotifier(alerter, logger)

	if snap.Store.Path != "" || snap.Store.InMemory {
		c.store, err = store.Open(snap.Store, logger)
		if err != nil {
			return nil, err
		}
	}
	c.exec.OnStateChange(func(name string, from, to gobreaker.State) {
		notifier.OnStateChange(name, from, to)
		if c.store != nil {
			// The hook runs under the breaker's lock; Snapshot would
			// re-enter it and deadlock the tripping call.
			if err := c.store.SaveBreaker(c.exec.TransitionSnapshot(name, to)); err != nil {
				logger.Error("persist breaker snapshot failed", "breaker", name, "error", err)
			}
		}
	})

	c.selector = strategy.NewSelector(mgr.Current, c.tracker)
	c.searcher = search.NewSearcher(opts.Engines, c.exec, c.tracker, opts.Embedder, logger)
	c.optimizer = optimizer.NewOptimizer(mgr.Current, logger)

	var jobStore syncer.JobStore
	if c.store != nil {
		jobStore = c.store
	}
	c.syncer = syncer.NewService(opts.Engines, nil, c.exec, mgr.Current, jobStore, logger)

	if snap.Telemetry.ParquetPath != "" {
		c.recorder = telemetry.NewQueryRecorder(snap.Telemetry.ParquetPath)
	}

	c.monitor = health.NewMonitor(c.tracker, pingInterval, logger)
	for _, eng := range opts.Engines.All() {
		eng := eng
		c.monitor.Register(eng.Role(), func(ctx context.Context) (types.PingResult, error) {
			return eng.Ping(ctx)
		})
	}

	// Config updates reach the components that cache derived state; pure
	// readers pick up the new snapshot on their next call.
	c.cfgListener = mgr.OnUpdate(func(s *config.Snapshot) {
		c.exec.UpdateSettings(resilienceSettings(s))
		c.optimizer.Reconfigure(s)
	})
	if opts.WatchConfig && opts.ConfigPath != "" {
		mgr.Watch()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.monitor.Start(ctx)
	c.syncer.Start(ctx)

	logger.Info("retrievo client ready",
		"config_version", snap.Version,
		"store", c.store != nil,
		"telemetry", c.recorder != nil)
	return c, nil
}

// SubmitJob implements SyncScheduler.
func (c *Client) SubmitJob(cfg syncer.JobConfig) (string, error) {
	return c.syncer.SubmitJob(cfg)
}

// SyncChunks implements SyncScheduler.
func (c *Client) SyncChunks(kbID, docID string, chunks []types.Record) (string, error) {
	return c.syncer.SyncChunks(kbID, docID, chunks)
}

// SyncEmbeddings implements SyncScheduler.
func (c *Client) SyncEmbeddings(kbID string, chunkIDs []string) (string, error) {
	return c.syncer.SyncEmbeddings(kbID, chunkIDs)
}

// IncrementalSync implements SyncScheduler.
func (c *Client) IncrementalSync(dataType string, since time.Time) (string, error) {
	return c.syncer.IncrementalSync(dataType, since)
}

// JobStatus implements SyncScheduler.
func (c *Client) JobStatus(jobID string) (syncer.JobRecord, error) {
	return c.syncer.JobStatus(jobID)
}

// CancelJob implements SyncScheduler.
func (c *Client) CancelJob(jobID string) error {
	return c.syncer.CancelJob(jobID)
}

// UpdateConfig implements Admin.
func (c *Client) UpdateConfig(partial map[string]interface{}) (int64, error) {
	return c.cfg.Update(partial)
}

// ReloadConfig implements Admin.
func (c *Client) ReloadConfig() (int64, error) {
	return c.cfg.Reload()
}

// ResetBreaker implements Admin.
func (c *Client) ResetBreaker(name string) {
	c.exec.ResetBreaker(name)
}

// Recommend implements QueryExecutor.
func (c *Client) Recommend(query string) []strategy.Candidate {
	return c.selector.Recommend(query)
}

// Config exposes the configuration manager for callers that need direct
// access, such as the ops server's config endpoints.
func (c *Client) Config() *config.Manager {
	return c.cfg
}

// Close implements Admin. It stops the worker pool, the health monitor and
// flushes telemetry; in-flight sync batches finish their current batch.
func (c *Client) Close() error {
	c.cfg.Unregister(c.cfgListener)
	if c.cancel != nil {
		c.cancel()
	}
	c.monitor.Stop()
	c.syncer.Stop()

	var firstErr error
	if c.recorder != nil {
		if err := c.recorder.Close(); err != nil {
			firstErr = err
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// resilienceSettings maps the configuration section onto executor settings.
func resilienceSettings(s *config.Snapshot) resilience.Settings {
	return resilience.Settings{
		FailureThreshold: s.Resilience.FailureThreshold,
		Window:           time.Duration(s.Resilience.FailureRateWindow) * time.Second,
		RecoveryTimeout:  s.Resilience.RecoveryTimeout(),
		MaxAttempts:      s.Resilience.MaxRetries,
		RetryBase:        time.Duration(s.Resilience.RetryBaseMs) * time.Millisecond,
		CallTimeout:      s.Resilience.CallTimeout(),
	}
}

// buildLogger constructs the slog logger described by the log section,
// wrapping it with parquet mirroring when telemetry is configured.
func buildLogger(snap *config.Snapshot) (*slog.Logger, error) {
	var level slog.Level
	switch snap.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if snap.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	if snap.Telemetry.ParquetPath != "" {
		ph, err := telemetry.NewParquetHandler(handler, snap.Telemetry.ParquetPath)
		if err != nil {
			return nil, err
		}
		handler = ph
	}
	return slog.New(handler), nil
}
