package model

import (
	"time"

	"github.com/google/uuid"
)

// User carries the per-owner gateway endpoint overrides. Accounts themselves
// live in the auth service; this row only exists once an owner saves
// overrides.
type User struct {
	ID                        uuid.UUID `gorm:"primaryKey;type:uuid"`
	WebhookSendMessage        *string   `gorm:"column:webhook_send_message"`
	WebhookCreateInstance     *string   `gorm:"column:webhook_create_instance"`
	WebhookVerifyInstance     *string   `gorm:"column:webhook_verify_instance"`
	WebhookConnectInstance    *string   `gorm:"column:webhook_connect_instance"`
	WebhookDisconnectInstance *string   `gorm:"column:webhook_disconnect_instance"`
	WebhookDeleteInstance     *string   `gorm:"column:webhook_delete_instance"`
	CreateTime                time.Time `gorm:"column:create_time;autoCreateTime"`
	UpdateTime                time.Time `gorm:"column:update_time;autoUpdateTime"`
}
