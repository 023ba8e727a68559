package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/gateway"
	"github.com/wa-console/instance-manager/internal/metrics"
	"github.com/wa-console/instance-manager/internal/normalize"
	"github.com/wa-console/instance-manager/internal/poller"
	"github.com/wa-console/instance-manager/internal/store"
	"github.com/wa-console/instance-manager/internal/store/model"
)

// ActionResult is the outcome of a lifecycle action.
type ActionResult struct {
	Instance *model.Instance
	// Polling is true when a status poll was started for the instance.
	Polling bool
	// Warning carries a gateway failure that did not fail the action.
	Warning string
}

// LifecycleService drives the connection state machine of instances. All
// operations on one instance are serialised.
type LifecycleService struct {
	store        store.Store
	gateway      Gateway
	endpoints    endpointResolver
	poller       *poller.Poller
	locks        *instanceLocks
	restartDelay time.Duration
	now          func() time.Time
}

func NewLifecycleService(s store.Store, gw Gateway, defaults gateway.Endpoints, p *poller.Poller, restartDelay time.Duration) *LifecycleService {
	return &LifecycleService{
		store:        s,
		gateway:      gw,
		endpoints:    endpointResolver{store: s, defaults: defaults},
		poller:       p,
		locks:        newInstanceLocks(),
		restartDelay: restartDelay,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Connect asks the gateway to start pairing. On success the instance becomes
// connecting with the returned QR and a poll is started, unless the gateway
// already reports the session online. A failed call leaves the store as is.
func (s *LifecycleService) Connect(ctx context.Context, owner uuid.UUID, instanceID string) (*ActionResult, error) {
	id, err := parseInstanceID(instanceID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	inst, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if inst.Status == model.StatusOnline {
		return &ActionResult{Instance: inst}, nil
	}

	url, err := s.endpoints.resolve(ctx, owner, gateway.OpConnect)
	if err != nil {
		return nil, gatewayFailure(err)
	}
	resp, err := s.gateway.Connect(ctx, url, requestFor(inst))
	if err != nil {
		return nil, gatewayFailure(err)
	}

	snap := normalize.Normalize(resp.Payload)
	if snap.Is(normalize.StatusOnline) {
		s.poller.Cancel(id)
		updated, err := s.transition(ctx, inst, model.StatusOnline, nil)
		if err != nil {
			return nil, err
		}
		return &ActionResult{Instance: updated}, nil
	}

	var qr *string
	if snap != nil && snap.QRImage != nil {
		embedded := gateway.EmbeddableQR(*snap.QRImage)
		qr = &embedded
	}
	updated, err := s.transition(ctx, inst, model.StatusConnecting, qr)
	if err != nil {
		return nil, err
	}
	s.startPoll(owner, id)
	return &ActionResult{Instance: updated, Polling: true}, nil
}

// Disconnect always ends in disconnected with no QR. A gateway failure is
// reported as a warning.
func (s *LifecycleService) Disconnect(ctx context.Context, owner uuid.UUID, instanceID string) (*ActionResult, error) {
	id, err := parseInstanceID(instanceID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	inst, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	s.poller.Cancel(id)

	var warning string
	url, err := s.endpoints.resolve(ctx, owner, gateway.OpDisconnect)
	if err == nil {
		_, err = s.gateway.Disconnect(ctx, url, requestFor(inst))
	}
	if err != nil {
		warning = gatewayFailure(err).Error()
		log.Warn().Err(err).
			Str("instance_id", inst.ID.String()).
			Str("instance", inst.Name).
			Msg("gateway disconnect failed, forcing local disconnect")
	}

	// The local write must survive a caller that went away mid-call.
	updated, err := s.transition(context.WithoutCancel(ctx), inst, model.StatusDisconnected, nil)
	if err != nil {
		return nil, err
	}
	return &ActionResult{Instance: updated, Warning: warning}, nil
}

// Verify asks the gateway for the current status and applies it. A gateway
// failure is returned as a transient error and nothing is written.
func (s *LifecycleService) Verify(ctx context.Context, owner uuid.UUID, instanceID string) (*model.Instance, error) {
	id, err := parseInstanceID(instanceID)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, owner, id, false)
}

// Reconcile verifies an instance on behalf of the system, without an
// ownership check.
func (s *LifecycleService) Reconcile(ctx context.Context, inst model.Instance) (*model.Instance, error) {
	return s.verify(ctx, inst.OwnerID, inst.ID, false)
}

func (s *LifecycleService) verify(ctx context.Context, owner, id uuid.UUID, polling bool) (*model.Instance, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	// A poll cancelled while it waited for the lock must not write.
	if polling && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	inst, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	url, err := s.endpoints.resolve(ctx, owner, gateway.OpVerify)
	if err != nil {
		return nil, gatewayFailure(err)
	}
	resp, err := s.gateway.Verify(ctx, url, requestFor(inst))
	if err != nil {
		return nil, gatewayFailure(err)
	}
	if polling && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	snap := normalize.Normalize(resp.Payload)
	switch {
	case snap.Is(normalize.StatusOnline):
		if !polling {
			s.poller.Cancel(id)
		}
		return s.transition(ctx, inst, model.StatusOnline, nil)
	case snap.Is(normalize.StatusOffline) && inst.Status == model.StatusOnline:
		return s.transition(ctx, inst, model.StatusDisconnected, nil)
	case inst.Status == model.StatusConnecting && snap != nil && snap.QRImage != nil:
		// The gateway rotates pairing codes while connecting.
		qr := gateway.EmbeddableQR(*snap.QRImage)
		return s.transition(ctx, inst, model.StatusConnecting, &qr)
	}
	return inst, nil
}

// Restart disconnects, waits for the restart delay and connects again.
func (s *LifecycleService) Restart(ctx context.Context, owner uuid.UUID, instanceID string) (*ActionResult, error) {
	down, err := s.Disconnect(ctx, owner, instanceID)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.restartDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	up, err := s.Connect(ctx, owner, instanceID)
	if err != nil {
		return nil, err
	}
	if up.Warning == "" {
		up.Warning = down.Warning
	}
	return up, nil
}

// ApplySnapshot merges a status pushed by the gateway. It reports false when
// the snapshot carries no status the state machine understands.
func (s *LifecycleService) ApplySnapshot(ctx context.Context, id uuid.UUID, snap *normalize.Snapshot) (*model.Instance, bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	inst, err := s.store.Instance().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			return nil, false, NewNotFoundError("instance %s not found", id)
		}
		return nil, false, err
	}

	switch {
	case snap.Is(normalize.StatusOnline):
		s.poller.Cancel(id)
		updated, err := s.transition(ctx, inst, model.StatusOnline, nil)
		return updated, err == nil, err
	case snap.Is(normalize.StatusOffline):
		s.poller.Cancel(id)
		updated, err := s.transition(ctx, inst, model.StatusDisconnected, nil)
		return updated, err == nil, err
	case snap.Is(normalize.StatusConnecting):
		qr := inst.QRImage
		if snap.QRImage != nil {
			embedded := gateway.EmbeddableQR(*snap.QRImage)
			qr = &embedded
		}
		updated, err := s.transition(ctx, inst, model.StatusConnecting, qr)
		return updated, err == nil, err
	}
	return inst, false, nil
}

// PollStatus reports the active poll of an owned instance.
func (s *LifecycleService) PollStatus(ctx context.Context, owner uuid.UUID, instanceID string) (poller.Status, error) {
	id, err := parseInstanceID(instanceID)
	if err != nil {
		return poller.Status{}, err
	}
	if _, err := s.owned(ctx, owner, id); err != nil {
		return poller.Status{}, err
	}
	return s.poller.Status(id), nil
}

// StopPoll cancels the poll of an owned instance. It reports whether a poll
// was running.
func (s *LifecycleService) StopPoll(ctx context.Context, owner uuid.UUID, instanceID string) (bool, error) {
	id, err := parseInstanceID(instanceID)
	if err != nil {
		return false, err
	}
	if _, err := s.owned(ctx, owner, id); err != nil {
		return false, err
	}
	return s.poller.Cancel(id), nil
}

// Shutdown cancels every running poll.
func (s *LifecycleService) Shutdown() {
	s.poller.Stop()
}

// withInstance runs fn while holding the lock of an owned instance.
func (s *LifecycleService) withInstance(ctx context.Context, owner uuid.UUID, id uuid.UUID, fn func(*model.Instance) error) error {
	unlock := s.locks.lock(id)
	defer unlock()

	inst, err := s.owned(ctx, owner, id)
	if err != nil {
		return err
	}
	return fn(inst)
}

func (s *LifecycleService) startPoll(owner, id uuid.UUID) {
	s.poller.Start(id, func(ctx context.Context) (bool, error) {
		inst, err := s.verify(ctx, owner, id, true)
		if err != nil {
			return false, err
		}
		return inst.Status == model.StatusOnline, nil
	})
	log.Debug().Str("instance_id", id.String()).Msg("status poll started")
}

// owned loads the instance and checks it belongs to owner.
func (s *LifecycleService) owned(ctx context.Context, owner, id uuid.UUID) (*model.Instance, error) {
	inst, err := s.store.Instance().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			return nil, NewNotFoundError("instance %s not found", id)
		}
		return nil, err
	}
	if inst.OwnerID != owner {
		return nil, NewForbiddenError("instance belongs to another user")
	}
	return inst, nil
}

// transition writes status and QR in one update and refreshes lastUpdate.
// The QR only survives in the connecting state.
func (s *LifecycleService) transition(ctx context.Context, inst *model.Instance, to model.InstanceStatus, qr *string) (*model.Instance, error) {
	if to != model.StatusConnecting {
		qr = nil
	}
	if inst.Status == to && samePtr(inst.QRImage, qr) {
		return inst, nil
	}

	from := inst.Status
	updated, err := s.store.Instance().UpdateState(ctx, inst.ID, store.StateUpdate{
		Status:     to,
		QRImage:    qr,
		LastUpdate: s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			return nil, NewNotFoundError("instance %s not found", inst.ID)
		}
		return nil, fmt.Errorf("update instance state: %w", err)
	}

	if from != to {
		metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
		log.Info().
			Str("instance_id", inst.ID.String()).
			Str("instance", inst.Name).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("instance status changed")
	}
	return updated, nil
}

func parseInstanceID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewValidationError("invalid instance ID format")
	}
	return id, nil
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
