package service

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gookit/validate"
	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/store"
	"github.com/wa-console/instance-manager/internal/store/model"
)

// WebhookSettings are an owner's gateway URL overrides. Empty means "use the
// default".
type WebhookSettings struct {
	SendMessage        string `json:"sendMessage" validate:"url"`
	CreateInstance     string `json:"createInstance" validate:"url"`
	VerifyInstance     string `json:"verifyInstance" validate:"url"`
	ConnectInstance    string `json:"connectInstance" validate:"url"`
	DisconnectInstance string `json:"disconnectInstance" validate:"url"`
	DeleteInstance     string `json:"deleteInstance" validate:"url"`
}

type WebhookService struct {
	store store.Store
}

func NewWebhookService(s store.Store) *WebhookService {
	return &WebhookService{store: s}
}

func (s *WebhookService) Get(ctx context.Context, owner uuid.UUID) (*WebhookSettings, error) {
	user, err := s.store.User().GetWebhooks(ctx, owner)
	if err != nil {
		return nil, err
	}
	return settingsOf(user), nil
}

// Save validates and stores the overrides, replacing all previous values.
func (s *WebhookService) Save(ctx context.Context, owner uuid.UUID, settings WebhookSettings) (*WebhookSettings, error) {
	fields := []*string{
		&settings.SendMessage, &settings.CreateInstance, &settings.VerifyInstance,
		&settings.ConnectInstance, &settings.DisconnectInstance, &settings.DeleteInstance,
	}
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}

	v := validate.Struct(&settings)
	if !v.Validate() {
		return nil, NewValidationError("%s", v.Errors.One())
	}
	for _, f := range fields {
		if *f == "" {
			continue
		}
		if u, err := url.Parse(*f); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, NewValidationError("%s is not an absolute http(s) URL", *f)
		}
	}

	saved, err := s.store.User().SaveWebhooks(ctx, model.User{
		ID:                        owner,
		WebhookSendMessage:        optional(settings.SendMessage),
		WebhookCreateInstance:     optional(settings.CreateInstance),
		WebhookVerifyInstance:     optional(settings.VerifyInstance),
		WebhookConnectInstance:    optional(settings.ConnectInstance),
		WebhookDisconnectInstance: optional(settings.DisconnectInstance),
		WebhookDeleteInstance:     optional(settings.DeleteInstance),
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("user_id", owner.String()).Msg("saved gateway overrides")
	return settingsOf(saved), nil
}

func settingsOf(u *model.User) *WebhookSettings {
	return &WebhookSettings{
		SendMessage:        deref(u.WebhookSendMessage),
		CreateInstance:     deref(u.WebhookCreateInstance),
		VerifyInstance:     deref(u.WebhookVerifyInstance),
		ConnectInstance:    deref(u.WebhookConnectInstance),
		DisconnectInstance: deref(u.WebhookDisconnectInstance),
		DeleteInstance:     deref(u.WebhookDeleteInstance),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
