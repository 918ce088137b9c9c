package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// maintenanceJob is one periodic housekeeping step
type maintenanceJob struct {
	name string
	run  func(ctx context.Context) error
}

// Maintenance runs housekeeping jobs on a cron schedule. A run that is still
// going when the next tick fires makes that tick a no-op.
type Maintenance struct {
	schedule string
	logger   zerolog.Logger
	cron     *cron.Cron

	mu   sync.Mutex
	jobs []maintenanceJob
	runs int
}

// NewMaintenance validates the schedule ("@every 1m", "*/5 * * * *", ...)
func NewMaintenance(schedule string, logger zerolog.Logger) (*Maintenance, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}

	return &Maintenance{
		schedule: schedule,
		logger:   logger.With().Str("component", "maintenance").Logger(),
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
	}, nil
}

// Add registers a job. Jobs run in registration order.
func (m *Maintenance) Add(name string, run func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, maintenanceJob{name: name, run: run})
}

// RunOnce runs every job. A failing job is logged and does not stop the
// others.
func (m *Maintenance) RunOnce(ctx context.Context) {
	m.mu.Lock()
	jobs := append([]maintenanceJob(nil), m.jobs...)
	m.runs++
	m.mu.Unlock()

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := job.run(ctx); err != nil {
			m.logger.Warn().Err(err).Str("job", job.name).Msg("Maintenance job failed")
		}
	}
}

// Runs returns how many times RunOnce was invoked
func (m *Maintenance) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

// Run schedules the jobs and blocks until ctx is cancelled
func (m *Maintenance) Run(ctx context.Context) error {
	if _, err := m.cron.AddFunc(m.schedule, func() { m.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}

	m.cron.Start()
	m.logger.Info().Str("schedule", m.schedule).Int("jobs", len(m.jobs)).Msg("Maintenance scheduled")

	<-ctx.Done()
	<-m.cron.Stop().Done()

	m.logger.Info().Msg("Maintenance stopped")
	return nil
}
