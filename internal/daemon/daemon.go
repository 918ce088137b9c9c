package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/seqbot/internal/config"
	"github.com/harun/seqbot/internal/logger"
	"github.com/harun/seqbot/internal/metrics"
	"github.com/harun/seqbot/internal/observability"
	"github.com/harun/seqbot/internal/telegram"
	"github.com/harun/seqbot/internal/tracing"
	"github.com/harun/seqbot/pkg/commandqueue"
	"github.com/harun/seqbot/pkg/fsub"
	"github.com/harun/seqbot/pkg/sequence"
	"github.com/harun/seqbot/pkg/store"
	"golang.org/x/sync/errgroup"
)

// TelegramBot is the transport the daemon drives
type TelegramBot interface {
	Messenger
	sequence.Forwarder
	fsub.MembershipChecker

	SetHandler(handler telegram.UpdateHandler)
	SetCommands(commands []tgbotapi.BotCommand) error
	Start(ctx context.Context) error
	Stop() error
}

// Version is reported by the CLI and attached to traces.
const Version = "0.1.0"

// newTelegramBot is swapped in tests.
var newTelegramBot = func(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (TelegramBot, error) {
	bot, err := telegram.New(&cfg.Telegram, log)
	if err != nil {
		return nil, err
	}
	bot.SetMetrics(m)
	return bot, nil
}

// Daemon represents the seqbot service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store     store.Store
	audit     *observability.AuditLogger
	metrics   *metrics.Metrics
	queue     *commandqueue.CommandQueue
	registry  *fsub.Registry
	gate      *fsub.Gate
	sequences *sequence.Manager

	// Services
	bot         TelegramBot
	router      *Router
	health      *HealthServer
	maintenance *Maintenance
	lifecycle   *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracer *tracing.Provider
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.Setup(tracing.Options{
			ServiceName:    "seqbot",
			ServiceVersion: Version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracer = tp
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// abort releases what a failed New already acquired
func (d *Daemon) abort() {
	d.cancel()
	if d.queue != nil {
		_ = d.queue.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.audit != nil {
		_ = d.audit.Close()
	}
	_ = d.tracer.Shutdown(context.Background())
	d.tracer = nil
}

// initializeCoreModules initializes storage, the registry and the queue
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	st, err := store.Open(store.Config{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.SQLitePath,
		Redis: store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	d.store = st
	d.logger.Info().Str("driver", cfg.Store.Driver).Msg("Store opened")

	if cfg.Logging.AuditFile != "" {
		audit, err := observability.OpenAuditLogger(cfg.Logging.AuditFile)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to open audit log, using stderr")
			audit = observability.NewAuditLogger(os.Stderr)
		}
		d.audit = audit
	} else {
		d.audit = observability.NewAuditLogger(os.Stderr)
	}

	d.metrics = metrics.NewMetrics()

	d.queue = commandqueue.New(d.logger.Component("commandqueue"))
	d.metrics.ObserveQueue(d.queue)
	d.logger.Info().Msg("Command queue initialized")

	d.registry = fsub.NewRegistry(st, cfg.Telegram.OwnerID, d.logger.Component("fsub"))
	d.registry.SetRecorder(d.audit)
	if cfg.Telegram.OwnerID == 0 {
		d.logger.Warn().Msg("No owner id configured, channel management is disabled")
	}

	return nil
}

// initializeServices wires the transport, the sequence manager and the
// background services
func (d *Daemon) initializeServices() error {
	cfg := d.config

	bot, err := newTelegramBot(cfg, d.logger, d.metrics)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	d.bot = bot

	d.gate = fsub.NewGate(d.registry, bot, d.logger.Component("gate"))
	d.gate.SetObserver(d.metrics)

	d.sequences = sequence.NewManager(d.queue, d.gate, bot, d.store, sequence.Config{
		ReplayInterval: cfg.Sequence.ReplayInterval(),
	}, d.logger.Component("sequence"))
	d.sequences.SetObserver(d.metrics)

	d.router = NewRouter(RouterDeps{
		Messenger:  bot,
		Queue:      d.queue,
		Sequences:  d.sequences,
		Registry:   d.registry,
		Store:      d.store,
		Audit:      d.audit,
		Messages:   cfg.Messages,
		PendingTTL: cfg.Maintenance.PendingTTL(),
		Logger:     d.logger.GetZerolog(),
	})
	bot.SetHandler(d.router)

	if cfg.Health.Enabled {
		d.health = NewHealthServer(cfg.Health.Addr(), d.healthStatus, d.metrics.Handler(), d.logger.GetZerolog())
	}

	maintenance, err := NewMaintenance(cfg.Maintenance.Schedule, d.logger.GetZerolog())
	if err != nil {
		return err
	}
	d.maintenance = maintenance
	d.registerMaintenanceJobs()

	return nil
}

func (d *Daemon) registerMaintenanceJobs() {
	d.maintenance.Add("sessions", func(ctx context.Context) error {
		d.metrics.SessionsActive.Set(float64(d.sequences.ActiveSessions()))
		return nil
	})

	d.maintenance.Add("pending_inputs", func(ctx context.Context) error {
		if n := d.router.ExpirePending(); n > 0 {
			d.logger.Debug().Int("expired", n).Msg("Expired pending operator inputs")
		}
		return nil
	})

	d.maintenance.Add("queue_stats", func(ctx context.Context) error {
		for lane, stats := range d.queue.Stats() {
			d.logger.Debug().
				Str("lane", lane).
				Int("queued", stats.Queued).
				Bool("running", stats.Running).
				Msg("Queue stats")
		}
		return nil
	})
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Starting seqbot daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.health != nil {
		if err := d.health.Listen(); err != nil {
			_ = d.lifecycle.Stop()
			d.markStopped()
			return fmt.Errorf("failed to start health server: %w", err)
		}
	}

	if err := d.bot.SetCommands(d.router.Commands().Menu()); err != nil {
		log.Warn().Err(err).Msg("Failed to publish command menu")
	}

	if err := d.bot.Start(d.ctx); err != nil {
		_ = d.lifecycle.Stop()
		d.markStopped()
		return fmt.Errorf("failed to start telegram bot: %w", err)
	}
	log.Info().Msg("Telegram bot started")

	g, gctx := errgroup.WithContext(d.ctx)
	if d.health != nil {
		g.Go(func() error { return d.health.Serve(gctx) })
	}
	g.Go(func() error { return d.maintenance.Run(gctx) })
	d.group = g

	log.Info().Msg("Daemon started successfully")

	return nil
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon. In-flight replays get a short grace period before
// their lanes are cancelled.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping seqbot daemon")

	if err := d.bot.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop telegram bot")
	}

	if !d.queue.WaitForActive(5 * time.Second) {
		log.Warn().Msg("Cancelling unfinished lane tasks")
	}
	if err := d.queue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close command queue")
	}

	d.cancel()
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			log.Error().Err(err).Msg("Background service failed")
		}
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if err := d.store.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close store")
	}

	if d.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.tracer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracer = nil
	}

	if err := d.audit.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit logger")
	}

	log.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status represents daemon status
type Status struct {
	Running        bool
	Uptime         time.Duration
	StartTime      time.Time
	ActiveSessions int
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:        d.running,
		ActiveSessions: d.sequences.ActiveSessions(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

func (d *Daemon) healthStatus(ctx context.Context) HealthStatus {
	status := d.Status()

	hs := HealthStatus{
		Status:         "ok",
		Uptime:         status.Uptime.Round(time.Second).String(),
		Telegram:       "polling",
		ActiveSessions: status.ActiveSessions,
	}
	if !status.Running {
		hs.Status = "stopping"
		hs.Telegram = "stopped"
	}

	if channels, err := d.registry.Channels(ctx); err != nil {
		hs.Status = "degraded"
		hs.Channels = -1
	} else {
		hs.Channels = len(channels)
	}
	return hs
}

// Wait blocks until SIGINT or SIGTERM, or until a background service fails,
// then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var done <-chan struct{}
	if d.group != nil {
		ch := make(chan struct{})
		go func() {
			_ = d.group.Wait()
			close(ch)
		}()
		done = ch
	}

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-done:
		d.logger.Warn().Msg("Background service exited")
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetRouter returns the update router
func (d *Daemon) GetRouter() *Router {
	return d.router
}

// GetSequences returns the sequence manager
func (d *Daemon) GetSequences() *sequence.Manager {
	return d.sequences
}

// GetStore returns the persistence layer
func (d *Daemon) GetStore() store.Store {
	return d.store
}
