package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wa-console/instance-manager/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrInstanceNameTaken = errors.New("instance name already taken")
)

// Pagination contains options for paginated queries.
type Pagination struct {
	Limit  int
	Offset int
}

// StateUpdate is the connection state written in a single update.
// A nil QRImage clears the stored image.
type StateUpdate struct {
	Status     model.InstanceStatus
	QRImage    *string
	LastUpdate time.Time
}

type Instance interface {
	Create(ctx context.Context, instance model.Instance) (*model.Instance, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Instance, error)
	GetByOwnerAndName(ctx context.Context, ownerID uuid.UUID, name string) (*model.Instance, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, pagination *Pagination) (model.InstanceList, error)
	CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)
	ListByName(ctx context.Context, name string) (model.InstanceList, error)
	UpdateState(ctx context.Context, id uuid.UUID, update StateUpdate) (*model.Instance, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListDueForCheck(ctx context.Context, now time.Time) (model.InstanceList, error)
	UpdateCheckSchedule(ctx context.Context, id uuid.UUID, failures int, next time.Time) error
}

type InstanceStore struct {
	db *gorm.DB
}

var _ Instance = (*InstanceStore)(nil)

func NewInstance(db *gorm.DB) Instance {
	return &InstanceStore{db: db}
}

func (s *InstanceStore) Create(ctx context.Context, instance model.Instance) (*model.Instance, error) {
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	if instance.Status == "" {
		instance.Status = model.StatusDisconnected
	}
	if instance.LastUpdate.IsZero() {
		instance.LastUpdate = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(&instance).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return nil, ErrInstanceNameTaken
		}
		return nil, err
	}
	return &instance, nil
}

func (s *InstanceStore) Get(ctx context.Context, id uuid.UUID) (*model.Instance, error) {
	var instance model.Instance
	if err := s.db.WithContext(ctx).First(&instance, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return &instance, nil
}

func (s *InstanceStore) GetByOwnerAndName(ctx context.Context, ownerID uuid.UUID, name string) (*model.Instance, error) {
	var instance model.Instance
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND name = ?", ownerID, name).
		First(&instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return &instance, nil
}

func (s *InstanceStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, pagination *Pagination) (model.InstanceList, error) {
	var instances model.InstanceList
	query := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("create_time DESC, id ASC")

	if pagination != nil {
		query = query.Limit(pagination.Limit).Offset(pagination.Offset)
	}

	if err := query.Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

func (s *InstanceStore) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Instance{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *InstanceStore) ListByName(ctx context.Context, name string) (model.InstanceList, error) {
	var instances model.InstanceList
	if err := s.db.WithContext(ctx).Where("name = ?", name).Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

func (s *InstanceStore) UpdateState(ctx context.Context, id uuid.UUID, update StateUpdate) (*model.Instance, error) {
	// A map is required so a nil QR is written as NULL instead of skipped.
	values := map[string]any{
		"status":      update.Status,
		"qr_image":    update.QRImage,
		"last_update": update.LastUpdate,
	}
	result := s.db.WithContext(ctx).Model(&model.Instance{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrInstanceNotFound
	}
	return s.Get(ctx, id)
}

func (s *InstanceStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&model.Instance{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// ListDueForCheck returns online instances that were never scheduled or
// whose next check time has passed.
func (s *InstanceStore) ListDueForCheck(ctx context.Context, now time.Time) (model.InstanceList, error) {
	var instances model.InstanceList
	err := s.db.WithContext(ctx).
		Where("status = ?", model.StatusOnline).
		Where("next_check_time IS NULL OR next_check_time <= ?", now).
		Order("last_update ASC").
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func (s *InstanceStore) UpdateCheckSchedule(ctx context.Context, id uuid.UUID, failures int, next time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.Instance{}).Where("id = ?", id).
		UpdateColumns(map[string]any{
			"consecutive_failures": failures,
			"next_check_time":      next,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}
