// Package poller runs bounded status polls, at most one per instance.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/metrics"
)

// Outcome is how a poll terminated.
type Outcome string

const (
	OutcomeRunning  Outcome = ""
	OutcomeOnline   Outcome = "online"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCanceled Outcome = "canceled"
)

// CheckFunc reports whether the instance reached the target state. Errors
// are treated as "not yet".
type CheckFunc func(ctx context.Context) (bool, error)

// Poll is a single polling session.
type Poll struct {
	ID        uuid.UUID
	StartedAt time.Time
	Deadline  time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	outcome Outcome
	checks  int
}

// Done is closed once the poll has terminated.
func (p *Poll) Done() <-chan struct{} {
	return p.done
}

func (p *Poll) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// Checks returns how many checks ran so far.
func (p *Poll) Checks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checks
}

// Wait blocks until the poll terminates or ctx is done.
func (p *Poll) Wait(ctx context.Context) Outcome {
	select {
	case <-p.done:
	case <-ctx.Done():
	}
	return p.Outcome()
}

func (p *Poll) finish(o Outcome) {
	p.mu.Lock()
	if p.outcome == OutcomeRunning {
		p.outcome = o
	}
	p.mu.Unlock()
}

// Status describes the active poll of an instance.
type Status struct {
	Active    bool      `json:"active"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Deadline  time.Time `json:"deadline,omitempty"`
	Checks    int       `json:"checks"`
}

type Poller struct {
	interval time.Duration
	timeout  time.Duration
	base     context.Context
	stop     context.CancelFunc

	// OnFinish, when set, is called once per poll after it terminated.
	OnFinish func(id uuid.UUID, outcome Outcome)

	mu     sync.Mutex
	active map[uuid.UUID]*Poll
}

func New(interval, timeout time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		interval: interval,
		timeout:  timeout,
		base:     ctx,
		stop:     cancel,
		active:   make(map[uuid.UUID]*Poll),
	}
}

// Start begins polling id, cancelling any poll already running for it.
// The first check runs immediately.
func (p *Poller) Start(id uuid.UUID, check CheckFunc) *Poll {
	ctx, cancel := context.WithCancel(p.base)
	now := time.Now()
	poll := &Poll{
		ID:        id,
		StartedAt: now,
		Deadline:  now.Add(p.timeout),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	if prev, ok := p.active[id]; ok {
		prev.finish(OutcomeCanceled)
		prev.cancel()
	}
	p.active[id] = poll
	p.mu.Unlock()

	metrics.ActivePolls.Inc()
	go p.run(ctx, poll, check)
	return poll
}

func (p *Poller) run(ctx context.Context, poll *Poll, check CheckFunc) {
	defer func() {
		poll.cancel()
		p.release(poll)
		close(poll.done)
		metrics.ActivePolls.Dec()
		outcome := poll.Outcome()
		metrics.PollOutcomes.WithLabelValues(string(outcome)).Inc()
		if p.OnFinish != nil {
			p.OnFinish(poll.ID, outcome)
		}
	}()

	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if p.tick(ctx, poll, check) {
			poll.finish(OutcomeOnline)
			return
		}
		select {
		case <-ctx.Done():
			poll.finish(OutcomeCanceled)
			return
		case <-deadline.C:
			poll.finish(OutcomeTimeout)
			log.Info().Str("instance_id", poll.ID.String()).Msg("poll timed out before the instance came online")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context, poll *Poll, check CheckFunc) bool {
	if ctx.Err() != nil {
		return false
	}
	poll.mu.Lock()
	poll.checks++
	poll.mu.Unlock()

	ok, err := check(ctx)
	if err != nil {
		log.Debug().Err(err).Str("instance_id", poll.ID.String()).Msg("poll check failed")
		return false
	}
	return ok
}

// release drops the map entry only if it still belongs to poll.
func (p *Poller) release(poll *Poll) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.active[poll.ID]; ok && cur == poll {
		delete(p.active, poll.ID)
	}
}

// Cancel stops the poll for id, if any. It does not wait for the poll
// goroutine to exit.
func (p *Poller) Cancel(id uuid.UUID) bool {
	p.mu.Lock()
	poll, ok := p.active[id]
	if ok {
		delete(p.active, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	poll.finish(OutcomeCanceled)
	poll.cancel()
	return true
}

func (p *Poller) Active(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[id]
	return ok
}

func (p *Poller) Status(id uuid.UUID) Status {
	p.mu.Lock()
	poll, ok := p.active[id]
	p.mu.Unlock()
	if !ok {
		return Status{}
	}
	return Status{
		Active:    true,
		StartedAt: poll.StartedAt,
		Deadline:  poll.Deadline,
		Checks:    poll.Checks(),
	}
}

// Stop cancels every running poll.
func (p *Poller) Stop() {
	p.mu.Lock()
	polls := make([]*Poll, 0, len(p.active))
	for id, poll := range p.active {
		polls = append(polls, poll)
		delete(p.active, id)
	}
	p.mu.Unlock()
	for _, poll := range polls {
		poll.finish(OutcomeCanceled)
	}
	p.stop()
}
