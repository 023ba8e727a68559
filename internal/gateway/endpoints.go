package gateway

import "github.com/wa-console/instance-manager/internal/config"

// Operation names one gateway call.
type Operation string

const (
	OpCreate     Operation = "create"
	OpVerify     Operation = "verify"
	OpConnect    Operation = "connect"
	OpDisconnect Operation = "disconnect"
	OpDelete     Operation = "delete"
	OpSend       Operation = "send"
)

// Endpoints holds one URL per operation. An empty value means not configured.
type Endpoints struct {
	Create     string
	Verify     string
	Connect    string
	Disconnect string
	Delete     string
	Send       string
}

// EndpointsFromConfig returns the process-wide default endpoints.
func EndpointsFromConfig(cfg *config.GatewayConfig) Endpoints {
	return Endpoints{
		Create:     cfg.CreateURL,
		Verify:     cfg.VerifyURL,
		Connect:    cfg.ConnectURL,
		Disconnect: cfg.DisconnectURL,
		Delete:     cfg.DeleteURL,
		Send:       cfg.SendURL,
	}
}

func (e Endpoints) url(op Operation) string {
	switch op {
	case OpCreate:
		return e.Create
	case OpVerify:
		return e.Verify
	case OpConnect:
		return e.Connect
	case OpDisconnect:
		return e.Disconnect
	case OpDelete:
		return e.Delete
	case OpSend:
		return e.Send
	}
	return ""
}

// Resolve picks the owner override for op when set, else the default.
// It returns a *ConfigError when neither is configured.
func (e Endpoints) Resolve(op Operation, overrides Endpoints) (string, error) {
	if u := overrides.url(op); u != "" {
		return u, nil
	}
	if u := e.url(op); u != "" {
		return u, nil
	}
	return "", &ConfigError{Op: op}
}
