package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/wa-console/instance-manager/internal/auth"
	"github.com/wa-console/instance-manager/internal/poller"
	"github.com/wa-console/instance-manager/internal/service"
)

// WebhookSecretHeader carries the shared secret on gateway pushes.
const WebhookSecretHeader = "X-Webhook-Secret"

const maxBodyBytes = 1 << 20

// Handler serves the console API.
type Handler struct {
	instances *service.InstanceService
	lifecycle *service.LifecycleService
	ingest    *service.IngestService
	webhooks  *service.WebhookService
	sender    *service.SendService
}

func NewHandler(instances *service.InstanceService, lifecycle *service.LifecycleService, ingest *service.IngestService, webhooks *service.WebhookService, sender *service.SendService) *Handler {
	return &Handler{
		instances: instances,
		lifecycle: lifecycle,
		ingest:    ingest,
		webhooks:  webhooks,
		sender:    sender,
	}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "path": "health"})
}

func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	params, ok := bindListParams(w, r)
	if !ok {
		return
	}
	pageSize, pageToken := 0, ""
	if params.MaxPageSize != nil {
		pageSize = *params.MaxPageSize
	}
	if params.PageToken != nil {
		pageToken = *params.PageToken
	}

	result, err := h.instances.List(r.Context(), ownerOf(r), pageSize, pageToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"instances": instanceViews(result.Instances)}
	if result.NextPageToken != "" {
		resp["nextPageToken"] = result.NextPageToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req service.CreateInstanceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.instances.Create(r.Context(), ownerOf(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	message := "instance created and gateway flow triggered"
	if !result.WebhookCalled {
		message = "instance created, but the gateway flow could not be triggered"
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"instance":      instanceView(result.Instance),
		"webhookCalled": result.WebhookCalled,
		"message":       message,
	})
}

func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	inst, err := h.instances.Get(r.Context(), ownerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instance": instanceView(inst)})
}

func (h *Handler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	if err := h.instances.Delete(r.Context(), ownerOf(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "instance deleted"})
}

type connectRequest struct {
	Action string `json:"action"`
}

// ConnectInstance handles {"action": "connect"|"disconnect"}. A missing body
// means connect.
func (h *Handler) ConnectInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	var req connectRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	var (
		result *service.ActionResult
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "", "connect":
		result, err = h.lifecycle.Connect(r.Context(), ownerOf(r), id)
	case "disconnect":
		result, err = h.lifecycle.Disconnect(r.Context(), ownerOf(r), id)
	default:
		writeError(w, r, service.NewValidationError("action must be 'connect' or 'disconnect'"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAction(w, result)
}

func (h *Handler) VerifyInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	inst, err := h.lifecycle.Verify(r.Context(), ownerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instance": instanceView(inst)})
}

func (h *Handler) RestartInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	result, err := h.lifecycle.Restart(r.Context(), ownerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAction(w, result)
}

func (h *Handler) GetPoll(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	status, err := h.lifecycle.PollStatus(r.Context(), ownerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pollView(status))
}

func (h *Handler) StopPoll(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	stopped, err := h.lifecycle.StopPoll(r.Context(), ownerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// IngestWebhook accepts status pushes from the gateway. It is not behind
// session auth.
func (h *Handler) IngestWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.ingest.Authorize(r.Header.Get(WebhookSecretHeader)); err != nil {
		writeError(w, r, err)
		return
	}

	var payload any
	if !decodeBody(w, r, &payload) {
		return
	}
	result, err := h.ingest.Ingest(r.Context(), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if !result.Applied {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"success":  true,
		"applied":  result.Applied,
		"status":   result.Status,
		"instance": instanceView(result.Instance),
	})
}

func (h *Handler) GetWebhooks(w http.ResponseWriter, r *http.Request) {
	settings, err := h.webhooks.Get(r.Context(), ownerOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": settings})
}

// webhooksRequest uses the field names of the settings form.
type webhooksRequest struct {
	SendMessage        string `json:"webhookSendMessage"`
	CreateInstance     string `json:"webhookCreateInstance"`
	VerifyInstance     string `json:"webhookVerifyInstance"`
	ConnectInstance    string `json:"webhookConnectInstance"`
	DisconnectInstance string `json:"webhookDisconnectInstance"`
	DeleteInstance     string `json:"webhookDeleteInstance"`
}

func (h *Handler) PutWebhooks(w http.ResponseWriter, r *http.Request) {
	var req webhooksRequest
	if !decodeBody(w, r, &req) {
		return
	}

	saved, err := h.webhooks.Save(r.Context(), ownerOf(r), service.WebhookSettings(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "webhooks updated", "webhooks": saved})
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req service.SendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.sender.Send(r.Context(), ownerOf(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func writeAction(w http.ResponseWriter, result *service.ActionResult) {
	resp := map[string]any{
		"instance": instanceView(result.Instance),
		"polling":  result.Polling,
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	writeJSON(w, http.StatusOK, resp)
}

func pollView(s poller.Status) map[string]any {
	resp := map[string]any{"active": s.Active, "checks": s.Checks}
	if s.Active {
		resp["startedAt"] = s.StartedAt
		resp["deadline"] = s.Deadline
	}
	return resp
}

func ownerOf(r *http.Request) uuid.UUID {
	owner, _ := auth.OwnerFrom(r.Context())
	return owner
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, r, service.NewValidationError("invalid JSON body"))
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body and leaves v untouched.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, service.NewValidationError("unreadable body"))
		return false
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeError(w, r, service.NewValidationError("invalid JSON body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
