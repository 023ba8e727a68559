package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/metrics"
	"github.com/wa-console/instance-manager/internal/normalize"
	"github.com/wa-console/instance-manager/internal/store"
	"github.com/wa-console/instance-manager/internal/store/model"
)

// IngestResult reports what a pushed status did.
type IngestResult struct {
	Instance *model.Instance
	Applied  bool
	Status   string
}

// IngestService accepts status pushes from the gateway. Pushes go through
// the same Normalizer and state machine as polling.
type IngestService struct {
	store     store.Store
	lifecycle *LifecycleService
	secret    string
}

func NewIngestService(s store.Store, lifecycle *LifecycleService, secret string) *IngestService {
	return &IngestService{store: s, lifecycle: lifecycle, secret: secret}
}

// Authorize checks the shared secret when one is configured.
func (s *IngestService) Authorize(presented string) error {
	if s.secret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.secret)) != 1 {
		metrics.WebhookIngest.WithLabelValues("unauthorized").Inc()
		return NewUnauthorizedError("invalid webhook secret")
	}
	return nil
}

// Ingest normalizes payload and applies it to the instance it names.
func (s *IngestService) Ingest(ctx context.Context, payload any) (*IngestResult, error) {
	snap := normalize.Normalize(payload)
	if snap == nil || snap.Name == nil || snap.Status == nil {
		metrics.WebhookIngest.WithLabelValues("invalid").Inc()
		return nil, NewValidationError("missing instance name or status")
	}

	inst, err := s.identify(ctx, payload, *snap.Name)
	if err != nil {
		metrics.WebhookIngest.WithLabelValues("unmatched").Inc()
		return nil, err
	}

	updated, applied, err := s.lifecycle.ApplySnapshot(ctx, inst.ID, snap)
	if err != nil {
		return nil, err
	}

	result := "ignored"
	if applied {
		result = "applied"
	}
	metrics.WebhookIngest.WithLabelValues(result).Inc()
	log.Info().
		Str("instance_id", inst.ID.String()).
		Str("instance", inst.Name).
		Str("reported_status", *snap.Status).
		Bool("applied", applied).
		Msg("gateway status push")

	return &IngestResult{Instance: updated, Applied: applied, Status: *snap.Status}, nil
}

// identify resolves the pushed name, scoped by userId when the payload
// carries one.
func (s *IngestService) identify(ctx context.Context, payload any, name string) (*model.Instance, error) {
	if owner, ok := ownerOf(payload); ok {
		inst, err := s.store.Instance().GetByOwnerAndName(ctx, owner, name)
		if err != nil {
			if errors.Is(err, store.ErrInstanceNotFound) {
				return nil, NewNotFoundError("instance '%s' not found", name)
			}
			return nil, err
		}
		return inst, nil
	}

	matches, err := s.store.Instance().ListByName(ctx, name)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, NewNotFoundError("instance '%s' not found", name)
	case 1:
		return &matches[0], nil
	}
	return nil, NewConflictError("instance name '%s' is ambiguous, include userId", name)
}

// ownerOf reads userId from the object the snapshot was read from, then
// from the envelope around it.
func ownerOf(payload any) (uuid.UUID, bool) {
	objects := make([]map[string]any, 0, 2)
	if inner, ok := normalize.Unwrap(payload); ok {
		objects = append(objects, inner)
	}
	switch v := payload.(type) {
	case map[string]any:
		objects = append(objects, v)
	case []any:
		if len(v) > 0 {
			if outer, ok := v[0].(map[string]any); ok {
				objects = append(objects, outer)
			}
		}
	}

	for _, obj := range objects {
		raw, ok := obj["userId"].(string)
		if !ok {
			continue
		}
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}
