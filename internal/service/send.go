package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/gookit/validate"
	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/gateway"
	"github.com/wa-console/instance-manager/internal/store"
	"github.com/wa-console/instance-manager/internal/store/model"
)

// noImage is what the send flow expects when no image is attached.
const noImage = "sem-imagem"

type SendContact struct {
	Name  string `json:"nome"`
	Phone string `json:"telefone"`
}

type SendRequest struct {
	Message  string        `json:"message" validate:"required"`
	ImageURL string        `json:"imageUrl"`
	Contacts []SendContact `json:"contacts"`
}

type SendResult struct {
	Instance   string `json:"instanceName"`
	Recipients int    `json:"recipients"`
	StatusCode int    `json:"status"`
	Response   any    `json:"data"`
}

// SendService hands message batches to the gateway send flow through the
// owner's first online instance. Delivery is up to the gateway.
type SendService struct {
	store         store.Store
	gateway       Gateway
	endpoints     endpointResolver
	publicBaseURL string
}

func NewSendService(s store.Store, gw Gateway, defaults gateway.Endpoints, publicBaseURL string) *SendService {
	return &SendService{
		store:         s,
		gateway:       gw,
		endpoints:     endpointResolver{store: s, defaults: defaults},
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *SendService) Send(ctx context.Context, owner uuid.UUID, req SendRequest) (*SendResult, error) {
	url, err := s.endpoints.resolve(ctx, owner, gateway.OpSend)
	if err != nil {
		return nil, gatewayFailure(err)
	}
	req.Message = strings.TrimSpace(req.Message)
	if v := validate.Struct(&req); !v.Validate() {
		return nil, NewValidationError("%s", v.Errors.One())
	}

	inst, err := s.firstOnline(ctx, owner)
	if err != nil {
		return nil, err
	}

	body := gateway.SendRequest{
		Message:      req.Message,
		ImageURL:     s.imageURL(req.ImageURL),
		UserID:       owner.String(),
		InstanceName: inst.Name,
	}
	if contacts := dedupeContacts(req.Contacts); len(contacts) > 0 {
		body.SelectedContacts = &gateway.Recipients{Total: len(contacts), List: contacts}
	}

	resp, err := s.gateway.Send(ctx, url, body)
	if err != nil {
		return nil, gatewayFailure(err)
	}

	recipients := 0
	if body.SelectedContacts != nil {
		recipients = body.SelectedContacts.Total
	}
	log.Info().
		Str("instance_id", inst.ID.String()).
		Str("instance", inst.Name).
		Int("recipients", recipients).
		Msg("message batch handed to gateway")

	return &SendResult{
		Instance:   inst.Name,
		Recipients: recipients,
		StatusCode: resp.StatusCode,
		Response:   resp.Payload,
	}, nil
}

// firstOnline picks the oldest online instance of owner.
func (s *SendService) firstOnline(ctx context.Context, owner uuid.UUID) (*model.Instance, error) {
	instances, err := s.store.Instance().ListByOwner(ctx, owner, nil)
	if err != nil {
		return nil, err
	}
	var first *model.Instance
	for i := range instances {
		if instances[i].Status != model.StatusOnline {
			continue
		}
		if first == nil || instances[i].CreateTime.Before(first.CreateTime) {
			first = &instances[i]
		}
	}
	if first == nil {
		return nil, NewValidationError("no connected WhatsApp instance, connect an instance first")
	}
	return first, nil
}

// imageURL passes absolute URLs through and resolves paths against the
// public base URL.
func (s *SendService) imageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return noImage
	case strings.Contains(raw, "://"):
		return raw
	case s.publicBaseURL == "":
		return noImage
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return s.publicBaseURL + raw
}

func dedupeContacts(in []SendContact) []gateway.Contact {
	seen := make(map[string]struct{}, len(in))
	out := make([]gateway.Contact, 0, len(in))
	for _, c := range in {
		phone := strings.TrimSpace(c.Phone)
		if phone == "" {
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		out = append(out, gateway.Contact{Name: strings.TrimSpace(c.Name), Phone: phone})
	}
	return out
}
