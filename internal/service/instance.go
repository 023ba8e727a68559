package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gookit/validate"
	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/gateway"
	"github.com/wa-console/instance-manager/internal/store"
	"github.com/wa-console/instance-manager/internal/store/model"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// CreateInstanceRequest is the input of InstanceService.Create.
type CreateInstanceRequest struct {
	Name string `json:"instanceName" validate:"required|maxLen:64"`
}

// CreateResult is a created instance and whether the gateway was notified.
type CreateResult struct {
	Instance      *model.Instance
	WebhookCalled bool
}

// ListResult contains the result of listing instances with pagination info.
type ListResult struct {
	Instances     model.InstanceList
	NextPageToken string
}

// InstanceService handles instance bookkeeping. State changes go through
// the LifecycleService.
type InstanceService struct {
	store     store.Store
	gateway   Gateway
	endpoints endpointResolver
	lifecycle *LifecycleService
}

func NewInstanceService(s store.Store, gw Gateway, defaults gateway.Endpoints, lifecycle *LifecycleService) *InstanceService {
	return &InstanceService{
		store:     s,
		gateway:   gw,
		endpoints: endpointResolver{store: s, defaults: defaults},
		lifecycle: lifecycle,
	}
}

// Create registers a disconnected instance and best-effort notifies the
// gateway. Names are unique per owner.
func (s *InstanceService) Create(ctx context.Context, owner uuid.UUID, req CreateInstanceRequest) (*CreateResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	v := validate.Struct(&req)
	if !v.Validate() {
		return nil, NewValidationError("%s", v.Errors.One())
	}

	created, err := s.store.Instance().Create(ctx, model.Instance{
		ID:      uuid.New(),
		OwnerID: owner,
		Name:    req.Name,
		Status:  model.StatusDisconnected,
	})
	if err != nil {
		if errors.Is(err, store.ErrInstanceNameTaken) {
			return nil, NewConflictError("instance '%s' already exists", req.Name)
		}
		return nil, err
	}
	log.Info().Str("instance_id", created.ID.String()).Str("instance", created.Name).Msg("created instance")

	result := &CreateResult{Instance: created}
	url, err := s.endpoints.resolve(ctx, owner, gateway.OpCreate)
	if err != nil {
		if !gateway.IsConfigError(err) {
			log.Warn().Err(err).Str("instance", created.Name).Msg("resolving create webhook failed")
		}
		return result, nil
	}
	if _, err := s.gateway.Create(ctx, url, requestFor(created)); err != nil {
		log.Warn().Err(err).Str("instance", created.Name).Msg("gateway create failed, instance kept")
		return result, nil
	}
	result.WebhookCalled = true
	return result, nil
}

// Get retrieves an owned instance. Returns ErrCodeNotFound or
// ErrCodeForbidden.
func (s *InstanceService) Get(ctx context.Context, owner uuid.UUID, instanceID string) (*model.Instance, error) {
	id, err := parseInstanceID(instanceID)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.owned(ctx, owner, id)
}

// List returns the owner's instances, newest first.
func (s *InstanceService) List(ctx context.Context, owner uuid.UUID, requestedPageSize int, pageToken string) (*ListResult, error) {
	pageSize := requestedPageSize
	if pageSize < 0 {
		return nil, NewValidationError("max_page_size must not be negative")
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	offset := 0
	if pageToken != "" {
		decoded, err := decodePageToken(pageToken)
		if err != nil || decoded < 0 {
			return nil, NewValidationError("invalid page_token")
		}
		offset = decoded
	}

	total, err := s.store.Instance().CountByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	instances, err := s.store.Instance().ListByOwner(ctx, owner, &store.Pagination{Limit: pageSize, Offset: offset})
	if err != nil {
		return nil, err
	}

	var nextPageToken string
	nextOffset := offset + len(instances)
	if int64(nextOffset) < total {
		nextPageToken = encodePageToken(nextOffset)
	}

	return &ListResult{Instances: instances, NextPageToken: nextPageToken}, nil
}

// Delete removes an owned instance. Any poll is cancelled and the gateway
// is asked to release the remote session; a gateway failure does not block
// the delete.
func (s *InstanceService) Delete(ctx context.Context, owner uuid.UUID, instanceID string) error {
	id, err := parseInstanceID(instanceID)
	if err != nil {
		return err
	}

	err = s.lifecycle.withInstance(ctx, owner, id, func(inst *model.Instance) error {
		s.lifecycle.poller.Cancel(id)

		if url, err := s.endpoints.resolve(ctx, owner, gateway.OpDelete); err == nil {
			if _, err := s.gateway.Delete(ctx, url, requestFor(inst)); err != nil {
				log.Warn().Err(err).Str("instance", inst.Name).Msg("gateway delete failed, removing locally")
			}
		}

		if err := s.store.Instance().Delete(context.WithoutCancel(ctx), id); err != nil {
			if errors.Is(err, store.ErrInstanceNotFound) {
				return NewNotFoundError("instance %s not found", id)
			}
			return err
		}
		log.Info().Str("instance_id", id.String()).Str("instance", inst.Name).Msg("deleted instance")
		return nil
	})
	if err != nil {
		return err
	}
	s.lifecycle.locks.forget(id)
	return nil
}

func encodePageToken(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodePageToken(token string) (int, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(decoded))
}
