package model

import (
	"time"

	"github.com/google/uuid"
)

// InstanceStatus is the canonical connection state of an instance.
type InstanceStatus string

const (
	StatusDisconnected InstanceStatus = "disconnected"
	StatusConnecting   InstanceStatus = "connecting"
	StatusOnline       InstanceStatus = "online"
)

type Instance struct {
	ID                  uuid.UUID      `gorm:"primaryKey;type:uuid"`
	OwnerID             uuid.UUID      `gorm:"column:owner_id;type:uuid;not null;uniqueIndex:idx_instances_owner_name"`
	Name                string         `gorm:"column:name;not null;uniqueIndex:idx_instances_owner_name"`
	Status              InstanceStatus `gorm:"column:status;not null;index"`
	QRImage             *string        `gorm:"column:qr_image;type:text"`
	LastUpdate          time.Time      `gorm:"column:last_update;not null"`
	ConsecutiveFailures int            `gorm:"column:consecutive_failures;not null;default:0"`
	NextCheckTime       *time.Time     `gorm:"column:next_check_time"`
	CreateTime          time.Time      `gorm:"column:create_time;autoCreateTime"`
	UpdateTime          time.Time      `gorm:"column:update_time;autoUpdateTime"`
}

type InstanceList []Instance
