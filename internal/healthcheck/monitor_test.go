package healthcheck_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/wa-console/instance-manager/internal/config"
	"github.com/wa-console/instance-manager/internal/healthcheck"
	"github.com/wa-console/instance-manager/internal/store/model"
)

// testHealthCheckConfig returns a default config for testing
func testHealthCheckConfig() *config.HealthCheckConfig {
	return &config.HealthCheckConfig{
		Enabled:                true,
		Interval:               10 * time.Second,
		MaxConsecutiveFailures: 3,
		BaseBackoffInterval:    10 * time.Second,
		MaxBackoffInterval:     5 * time.Minute,
		Workers:                4,
	}
}

type scheduleUpdate struct {
	ID                  uuid.UUID
	ConsecutiveFailures int
	NextCheck           time.Time
}

// mockSchedule implements healthcheck.Schedule for testing
type mockSchedule struct {
	mu        sync.Mutex
	instances model.InstanceList
	updates   []scheduleUpdate
}

func (m *mockSchedule) ListDueForCheck(ctx context.Context, now time.Time) (model.InstanceList, error) {
	var result model.InstanceList
	for _, inst := range m.instances {
		if inst.NextCheckTime == nil || !inst.NextCheckTime.After(now) {
			result = append(result, inst)
		}
	}
	return result, nil
}

func (m *mockSchedule) UpdateCheckSchedule(ctx context.Context, id uuid.UUID, failures int, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, scheduleUpdate{ID: id, ConsecutiveFailures: failures, NextCheck: next})
	return nil
}

func (m *mockSchedule) updateFor(id uuid.UUID) (scheduleUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.updates {
		if u.ID == id {
			return u, true
		}
	}
	return scheduleUpdate{}, false
}

// mockReconciler fails for the instances listed in failing.
type mockReconciler struct {
	mu      sync.Mutex
	failing map[uuid.UUID]bool
	checked []uuid.UUID
}

func (m *mockReconciler) Reconcile(ctx context.Context, inst model.Instance) (*model.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked = append(m.checked, inst.ID)
	if m.failing[inst.ID] {
		return nil, errors.New("gateway verify timed out")
	}
	return &inst, nil
}

func (m *mockReconciler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.checked)
}

func onlineInstance(failures int) model.Instance {
	return model.Instance{
		ID:                  uuid.New(),
		OwnerID:             uuid.New(),
		Name:                "sales",
		Status:              model.StatusOnline,
		ConsecutiveFailures: failures,
	}
}

var _ = Describe("Monitor", func() {
	var (
		cfg        *config.HealthCheckConfig
		schedule   *mockSchedule
		reconciler *mockReconciler
		monitor    *healthcheck.Monitor
		ctx        context.Context
	)

	BeforeEach(func() {
		cfg = testHealthCheckConfig()
		schedule = &mockSchedule{}
		reconciler = &mockReconciler{failing: map[uuid.UUID]bool{}}
		ctx = context.Background()

		var err error
		monitor, err = healthcheck.NewMonitor(schedule, reconciler, cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("CalculateNextCheckTime", func() {
		var now time.Time

		BeforeEach(func() {
			now = time.Now()
		})

		It("schedules next check at the configured interval after a success", func() {
			nextCheck := monitor.CalculateNextCheckTime(now, 0)
			Expect(nextCheck.Sub(now)).To(Equal(cfg.Interval))
		})

		It("uses base backoff interval below the failure threshold", func() {
			nextCheck := monitor.CalculateNextCheckTime(now, 1)
			Expect(nextCheck.Sub(now)).To(Equal(cfg.BaseBackoffInterval))
		})

		It("uses base backoff interval at the failure threshold", func() {
			nextCheck := monitor.CalculateNextCheckTime(now, 3)
			Expect(nextCheck.Sub(now)).To(Equal(cfg.BaseBackoffInterval))
		})

		It("doubles backoff for 4 consecutive failures", func() {
			nextCheck := monitor.CalculateNextCheckTime(now, 4)
			Expect(nextCheck.Sub(now)).To(Equal(cfg.BaseBackoffInterval * 2))
		})

		It("quadruples backoff for 5 consecutive failures", func() {
			nextCheck := monitor.CalculateNextCheckTime(now, 5)
			Expect(nextCheck.Sub(now)).To(Equal(cfg.BaseBackoffInterval * 4))
		})

		It("caps backoff at max interval for many failures", func() {
			nextCheck := monitor.CalculateNextCheckTime(now, 100)
			Expect(nextCheck.Sub(now)).To(Equal(cfg.MaxBackoffInterval))
		})
	})

	Describe("CheckInstances", func() {
		It("resets failures after a successful verify", func() {
			inst := onlineInstance(2)
			schedule.instances = model.InstanceList{inst}

			monitor.CheckInstances(ctx)

			update, ok := schedule.updateFor(inst.ID)
			Expect(ok).To(BeTrue())
			Expect(update.ConsecutiveFailures).To(Equal(0))
			Expect(update.NextCheck).To(BeTemporally("~", time.Now().Add(cfg.Interval), time.Second))
		})

		It("counts a failed verify and backs off", func() {
			inst := onlineInstance(4)
			reconciler.failing[inst.ID] = true
			schedule.instances = model.InstanceList{inst}

			monitor.CheckInstances(ctx)

			update, ok := schedule.updateFor(inst.ID)
			Expect(ok).To(BeTrue())
			Expect(update.ConsecutiveFailures).To(Equal(5))
			Expect(update.NextCheck).To(BeTemporally("~", time.Now().Add(cfg.BaseBackoffInterval*4), time.Second))
		})

		It("skips instances that are not due", func() {
			later := time.Now().Add(time.Hour)
			due := onlineInstance(0)
			notDue := onlineInstance(0)
			notDue.NextCheckTime = &later
			schedule.instances = model.InstanceList{due, notDue}

			monitor.CheckInstances(ctx)

			Expect(reconciler.count()).To(Equal(1))
			_, ok := schedule.updateFor(notDue.ID)
			Expect(ok).To(BeFalse())
		})

		It("checks every due instance through the pool", func() {
			for range 20 {
				schedule.instances = append(schedule.instances, onlineInstance(0))
			}

			monitor.CheckInstances(ctx)

			Expect(reconciler.count()).To(Equal(20))
		})
	})

	Describe("Start and Stop", func() {
		It("runs a check immediately and stops cleanly", func() {
			schedule.instances = model.InstanceList{onlineInstance(0)}

			monitor.Start(ctx)
			Eventually(reconciler.count).Should(BeNumerically(">=", 1))
			monitor.Stop()
		})
	})
})
