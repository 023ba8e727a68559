// Package gateway calls the external automation webhooks that drive
// WhatsApp. It returns decoded, still unnormalized payloads and never
// touches the instance store.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/wa-console/instance-manager/internal/config"
	"github.com/wa-console/instance-manager/internal/metrics"
)

// Request is the body sent to every lifecycle webhook.
type Request struct {
	InstanceName string `json:"instanceName"`
	UserID       string `json:"userId"`
}

// Contact is one message recipient as the send flow expects it.
type Contact struct {
	Name  string `json:"nome"`
	Phone string `json:"telefone"`
}

// Recipients wraps the contact list the way the send flow reads it.
type Recipients struct {
	Total int       `json:"total"`
	List  []Contact `json:"list"`
}

// SendRequest is the body of the message send webhook.
type SendRequest struct {
	Message          string      `json:"message"`
	ImageURL         string      `json:"imagemUrl"`
	UserID           string      `json:"userId"`
	InstanceName     string      `json:"instanceName"`
	SelectedContacts *Recipients `json:"selectedContacts,omitempty"`
}

// Response is a successful gateway reply. Payload is nil for an empty body,
// otherwise a decoded JSON value or a synthesized {"qrCode": ...} /
// {"message": ...} object.
type Response struct {
	StatusCode  int
	ContentType string
	Payload     any
}

type Client struct {
	http           *resty.Client
	limiter        *rate.Limiter
	verifyMethod   string
	connectTimeout time.Duration
	verifyTimeout  time.Duration
	sendTimeout    time.Duration
}

func NewClient(cfg *config.GatewayConfig) *Client {
	client := resty.New().
		SetHeader("Accept", "application/json, image/*, text/plain;q=0.9, */*;q=0.8").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	method := strings.ToUpper(cfg.VerifyMethod)
	if method != http.MethodGet {
		method = http.MethodPost
	}

	return &Client{
		http:           client,
		limiter:        rate.NewLimiter(limit, burst),
		verifyMethod:   method,
		connectTimeout: orDefault(cfg.ConnectTimeout, 10*time.Second),
		verifyTimeout:  orDefault(cfg.VerifyTimeout, 5*time.Second),
		sendTimeout:    orDefault(cfg.SendTimeout, 30*time.Second),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Create asks the gateway to provision the remote instance.
func (c *Client) Create(ctx context.Context, url string, req Request) (*Response, error) {
	return c.call(ctx, OpCreate, http.MethodPost, url, req, nil, c.connectTimeout)
}

// Connect starts pairing. The response normally carries a QR code.
func (c *Client) Connect(ctx context.Context, url string, req Request) (*Response, error) {
	return c.call(ctx, OpConnect, http.MethodPost, url, req, nil, c.connectTimeout)
}

// Disconnect logs the remote session out. Only success or failure matters.
func (c *Client) Disconnect(ctx context.Context, url string, req Request) (*Response, error) {
	return c.call(ctx, OpDisconnect, http.MethodPost, url, req, nil, c.connectTimeout)
}

// Delete releases the remote session of a deleted instance.
func (c *Client) Delete(ctx context.Context, url string, req Request) (*Response, error) {
	return c.call(ctx, OpDelete, http.MethodPost, url, req, nil, c.connectTimeout)
}

// Verify queries the connection status. With the GET variant the instance
// is identified by query parameters and no body is sent.
func (c *Client) Verify(ctx context.Context, url string, req Request) (*Response, error) {
	if c.verifyMethod == http.MethodGet {
		query := map[string]string{"instanceName": req.InstanceName, "userId": req.UserID}
		return c.call(ctx, OpVerify, http.MethodGet, url, nil, query, c.verifyTimeout)
	}
	return c.call(ctx, OpVerify, http.MethodPost, url, req, nil, c.verifyTimeout)
}

// Send hands a message batch to the send flow.
func (c *Client) Send(ctx context.Context, url string, req SendRequest) (*Response, error) {
	return c.call(ctx, OpSend, http.MethodPost, url, req, nil, c.sendTimeout)
}

func (c *Client) call(ctx context.Context, op Operation, method, url string, body any, query map[string]string, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.GatewayDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(op, &Error{Op: op, Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Err: err})
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, c.fail(op, &Error{Op: op, Timeout: isTimeout(ctx, err), Err: err})
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, c.fail(op, &Error{Op: op, StatusCode: resp.StatusCode()})
	}

	contentType := resp.Header().Get("Content-Type")
	metrics.GatewayRequests.WithLabelValues(string(op), "ok").Inc()
	log.Debug().
		Str("operation", string(op)).
		Int("status", resp.StatusCode()).
		Str("content_type", contentType).
		Int("bytes", len(resp.Body())).
		Msg("gateway call succeeded")

	return &Response{
		StatusCode:  resp.StatusCode(),
		ContentType: contentType,
		Payload:     Decode(op, contentType, resp.Body()),
	}, nil
}

func (c *Client) fail(op Operation, gwErr *Error) error {
	outcome := "error"
	switch {
	case gwErr.Timeout:
		outcome = "timeout"
	case gwErr.StatusCode != 0:
		outcome = "http_error"
	}
	metrics.GatewayRequests.WithLabelValues(string(op), outcome).Inc()
	log.Warn().Err(gwErr).Str("operation", string(op)).Msg("gateway call failed")
	return gwErr
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Decode turns a response body into a payload according to its declared
// content type. Images and SVG markup become {"qrCode": <data-uri>}.
func Decode(op Operation, contentType string, body []byte) any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return qrPayload(DataURI(imageMIME(mediaType), body))
	case strings.Contains(mediaType, "json"):
		if v, ok := decodeJSON(op, body); ok {
			return v
		}
		return decodeText(op, string(body))
	case strings.HasPrefix(mediaType, "text/"), strings.Contains(mediaType, "xml"):
		return decodeText(op, string(body))
	}

	// No usable content type: sniff the body, default to a PNG blob.
	trimmed := bytes.TrimSpace(body)
	if trimmed[0] == '{' || trimmed[0] == '[' || trimmed[0] == '"' || isSVG(string(trimmed)) {
		return decodeText(op, string(body))
	}
	sniffed := http.DetectContentType(body)
	if strings.HasPrefix(sniffed, "text/") {
		return decodeText(op, string(body))
	}
	if !strings.HasPrefix(sniffed, "image/") {
		sniffed = "image/png"
	}
	return qrPayload(DataURI(sniffed, body))
}

// decodeJSON parses body; a JSON string gets a second pass as text.
func decodeJSON(op Operation, body []byte) (any, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false
	}
	if s, ok := v.(string); ok {
		return decodeText(op, s), true
	}
	return v, true
}

func decodeText(op Operation, text string) any {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil
	}
	if isSVG(t) {
		return qrPayload(DataURI("image/svg+xml", []byte(t)))
	}
	switch t[0] {
	case '{', '[', '"':
		if v, ok := decodeJSON(op, []byte(t)); ok {
			return v
		}
	}
	if op == OpConnect {
		return qrPayload(t)
	}
	return map[string]any{"message": t}
}

func qrPayload(qr string) map[string]any {
	return map[string]any{"qrCode": qr}
}

func imageMIME(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "jpeg"), strings.Contains(mediaType, "jpg"):
		return "image/jpeg"
	case strings.Contains(mediaType, "svg"):
		return "image/svg+xml"
	case strings.Contains(mediaType, "gif"):
		return "image/gif"
	case strings.Contains(mediaType, "webp"):
		return "image/webp"
	}
	return "image/png"
}
