package healthcheck

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/config"
	"github.com/wa-console/instance-manager/internal/store/model"
)

// Schedule is the part of the instance store the monitor needs.
type Schedule interface {
	ListDueForCheck(ctx context.Context, now time.Time) (model.InstanceList, error)
	UpdateCheckSchedule(ctx context.Context, id uuid.UUID, failures int, next time.Time) error
}

// Reconciler re-verifies one instance against the gateway and applies the
// answer.
type Reconciler interface {
	Reconcile(ctx context.Context, inst model.Instance) (*model.Instance, error)
}

// Monitor periodically re-verifies online instances so sessions dropped on
// the gateway side are noticed without a push.
type Monitor struct {
	schedule               Schedule
	reconciler             Reconciler
	pool                   *ants.Pool
	interval               time.Duration
	stopCh                 chan struct{}
	wg                     sync.WaitGroup
	maxConsecutiveFailures int
	baseBackoffInterval    time.Duration
	maxBackoffInterval     time.Duration
}

// NewMonitor creates a new health check monitor
func NewMonitor(schedule Schedule, reconciler Reconciler, cfg *config.HealthCheckConfig) (*Monitor, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		schedule:               schedule,
		reconciler:             reconciler,
		pool:                   pool,
		interval:               cfg.Interval,
		stopCh:                 make(chan struct{}),
		maxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		baseBackoffInterval:    cfg.BaseBackoffInterval,
		maxBackoffInterval:     cfg.MaxBackoffInterval,
	}, nil
}

// Start begins the health check monitoring loop
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop gracefully stops the health check monitor
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.pool.Release()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Run immediately on start
	m.CheckInstances(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckInstances(ctx)
		}
	}
}

// CheckInstances re-verifies every instance that is due and waits for the
// batch to finish.
func (m *Monitor) CheckInstances(ctx context.Context) {
	instances, err := m.schedule.ListDueForCheck(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("listing instances for health check")
		return
	}

	var batch sync.WaitGroup
	for _, inst := range instances {
		if ctx.Err() != nil {
			break
		}
		batch.Add(1)
		if err := m.pool.Submit(func() {
			defer batch.Done()
			m.checkInstance(ctx, inst)
		}); err != nil {
			batch.Done()
			log.Warn().Err(err).Str("instance_id", inst.ID.String()).Msg("health check not scheduled")
		}
	}
	batch.Wait()
}

func (m *Monitor) checkInstance(ctx context.Context, inst model.Instance) {
	failures := 0
	updated, err := m.reconciler.Reconcile(ctx, inst)
	if err != nil {
		failures = inst.ConsecutiveFailures + 1
		log.Debug().Err(err).
			Str("instance_id", inst.ID.String()).
			Str("instance", inst.Name).
			Int("failures", failures).
			Msg("health check verify failed")
	}

	nextCheck := m.CalculateNextCheckTime(time.Now().UTC(), failures)
	if err := m.schedule.UpdateCheckSchedule(ctx, inst.ID, failures, nextCheck); err != nil {
		log.Debug().Err(err).Str("instance_id", inst.ID.String()).Msg("updating health check schedule")
		return
	}

	if failures == m.maxConsecutiveFailures {
		log.Warn().
			Str("instance_id", inst.ID.String()).
			Str("instance", inst.Name).
			Msg("gateway keeps failing to verify instance, backing off")
	}
	if updated != nil && updated.Status != inst.Status {
		log.Info().
			Str("instance_id", inst.ID.String()).
			Str("instance", inst.Name).
			Str("to", string(updated.Status)).
			Msg("health check changed instance status")
	}
}

// CalculateNextCheckTime determines when the next health check should occur.
// A successful check schedules the standard interval. Failures back off
// exponentially once they reach MaxConsecutiveFailures:
// min(MaxBackoff, BaseInterval * 2^(failures - MaxConsecutiveFailures))
func (m *Monitor) CalculateNextCheckTime(now time.Time, consecutiveFailures int) time.Time {
	if consecutiveFailures == 0 {
		return now.Add(m.interval)
	}

	exponent := consecutiveFailures - m.maxConsecutiveFailures
	if exponent < 0 {
		exponent = 0
	}

	const maxExponent = 10
	if exponent > maxExponent {
		exponent = maxExponent
	}

	backoffMultiplier := math.Pow(2, float64(exponent))
	backoffDuration := time.Duration(float64(m.baseBackoffInterval) * backoffMultiplier)

	if backoffDuration > m.maxBackoffInterval {
		backoffDuration = m.maxBackoffInterval
	}

	return now.Add(backoffDuration)
}
