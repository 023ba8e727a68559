package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/wa-console/instance-manager/internal/auth"
)

// Mount registers the API on r. Everything except the gateway push endpoint
// requires a session.
func (h *Handler) Mount(r chi.Router, verifier auth.Verifier) {
	r.Post("/instances/webhook", h.IngestWebhook)

	r.Group(func(r chi.Router) {
		r.Use(RequireOwner(verifier))

		r.Get("/instances", h.ListInstances)
		r.Post("/instances", h.CreateInstance)
		r.Get("/instances/{id}", h.GetInstance)
		r.Delete("/instances/{id}", h.DeleteInstance)
		r.Post("/instances/{id}/connect", h.ConnectInstance)
		r.Post("/instances/{id}/verify", h.VerifyInstance)
		r.Post("/instances/{id}/restart", h.RestartInstance)
		r.Get("/instances/{id}/poll", h.GetPoll)
		r.Delete("/instances/{id}/poll", h.StopPoll)

		r.Get("/user/webhooks", h.GetWebhooks)
		r.Put("/user/webhooks", h.PutWebhooks)

		r.Post("/send", h.Send)
	})
}
