package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/wa-console/instance-manager/internal/gateway"
	"github.com/wa-console/instance-manager/internal/store"
	"github.com/wa-console/instance-manager/internal/store/model"
)

// Gateway is the subset of *gateway.Client the services call.
type Gateway interface {
	Create(ctx context.Context, url string, req gateway.Request) (*gateway.Response, error)
	Connect(ctx context.Context, url string, req gateway.Request) (*gateway.Response, error)
	Disconnect(ctx context.Context, url string, req gateway.Request) (*gateway.Response, error)
	Delete(ctx context.Context, url string, req gateway.Request) (*gateway.Response, error)
	Verify(ctx context.Context, url string, req gateway.Request) (*gateway.Response, error)
	Send(ctx context.Context, url string, req gateway.SendRequest) (*gateway.Response, error)
}

var _ Gateway = (*gateway.Client)(nil)

// endpointResolver combines the default endpoints with the owner's saved
// overrides.
type endpointResolver struct {
	store    store.Store
	defaults gateway.Endpoints
}

func (r endpointResolver) resolve(ctx context.Context, owner uuid.UUID, op gateway.Operation) (string, error) {
	user, err := r.store.User().GetWebhooks(ctx, owner)
	if err != nil {
		return "", err
	}
	return r.defaults.Resolve(op, overridesOf(user))
}

func overridesOf(u *model.User) gateway.Endpoints {
	return gateway.Endpoints{
		Create:     deref(u.WebhookCreateInstance),
		Verify:     deref(u.WebhookVerifyInstance),
		Connect:    deref(u.WebhookConnectInstance),
		Disconnect: deref(u.WebhookDisconnectInstance),
		Delete:     deref(u.WebhookDeleteInstance),
		Send:       deref(u.WebhookSendMessage),
	}
}

func requestFor(inst *model.Instance) gateway.Request {
	return gateway.Request{InstanceName: inst.Name, UserID: inst.OwnerID.String()}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
