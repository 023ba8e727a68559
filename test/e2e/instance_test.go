//go:build e2e

package e2e_test

import (
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/wa-console/instance-manager/internal/auth"
)

type instanceView struct {
	ID           string  `json:"id"`
	InstanceName string  `json:"instanceName"`
	Status       string  `json:"status"`
	QRCode       *string `json:"qrCode"`
}

type instanceEnvelope struct {
	Instance instanceView `json:"instance"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Runs against a deployed service. API_URL points at the service root and
// AUTH_JWT_SECRET must match the service configuration.
var _ = Describe("Instance API", func() {
	var (
		client  *resty.Client
		baseURL string
	)

	BeforeEach(func() {
		baseURL = os.Getenv("API_URL")
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
		secret := os.Getenv("AUTH_JWT_SECRET")
		if secret == "" {
			Skip("AUTH_JWT_SECRET is not set")
		}
		token, err := auth.IssueToken(secret, uuid.New(), 10*time.Minute)
		Expect(err).NotTo(HaveOccurred())

		client = resty.New().
			SetBaseURL(baseURL + "/api/v1").
			SetAuthToken(token).
			SetTimeout(30 * time.Second)
	})

	Describe("Health", func() {
		It("returns healthy status", func() {
			resp, err := resty.New().R().Get(baseURL + "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		})
	})

	Describe("Instance lifecycle", func() {
		It("creates, reads, disconnects and deletes an instance", func() {
			name := "e2e-" + uuid.NewString()[:8]

			By("creating a new instance")
			created := &instanceEnvelope{}
			resp, err := client.R().
				SetBody(map[string]string{"instanceName": name}).
				SetResult(created).
				Post("/instances")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusCreated))
			Expect(created.Instance.InstanceName).To(Equal(name))
			Expect(created.Instance.Status).To(Equal("disconnected"))
			id := created.Instance.ID

			By("rejecting a duplicate name")
			resp, err = client.R().
				SetBody(map[string]string{"instanceName": name}).
				SetError(&errorBody{}).
				Post("/instances")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusConflict))

			By("reading it back")
			got := &instanceEnvelope{}
			resp, err = client.R().SetResult(got).Get("/instances/" + id)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(got.Instance.ID).To(Equal(id))

			By("disconnecting it")
			resp, err = client.R().
				SetBody(map[string]string{"action": "disconnect"}).
				SetResult(got).
				Post("/instances/" + id + "/connect")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(got.Instance.Status).To(Equal("disconnected"))
			Expect(got.Instance.QRCode).To(BeNil())

			By("deleting it")
			resp, err = client.R().Delete("/instances/" + id)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))

			resp, err = client.R().Get("/instances/" + id)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusNotFound))
		})
	})
})
