package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wa-console/instance-manager/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type User interface {
	// GetWebhooks returns the saved overrides, or an empty User when the
	// owner never saved any.
	GetWebhooks(ctx context.Context, id uuid.UUID) (*model.User, error)
	SaveWebhooks(ctx context.Context, user model.User) (*model.User, error)
}

type UserStore struct {
	db *gorm.DB
}

var _ User = (*UserStore)(nil)

func NewUser(db *gorm.DB) User {
	return &UserStore{db: db}
}

func (s *UserStore) GetWebhooks(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.User{ID: id}, nil
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) SaveWebhooks(ctx context.Context, user model.User) (*model.User, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"webhook_send_message",
			"webhook_create_instance",
			"webhook_verify_instance",
			"webhook_connect_instance",
			"webhook_disconnect_instance",
			"webhook_delete_instance",
			"update_time",
		}),
	}).Create(&user).Error
	if err != nil {
		return nil, err
	}
	return s.GetWebhooks(ctx, user.ID)
}
