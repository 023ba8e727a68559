package apiserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apiserver "github.com/wa-console/instance-manager/internal/api_server"
	"github.com/wa-console/instance-manager/internal/auth"
	"github.com/wa-console/instance-manager/internal/config"
	"github.com/wa-console/instance-manager/internal/gateway"
	"github.com/wa-console/instance-manager/internal/handlers"
	"github.com/wa-console/instance-manager/internal/poller"
	"github.com/wa-console/instance-manager/internal/service"
	"github.com/wa-console/instance-manager/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ = Describe("Server", func() {
	var (
		db      *gorm.DB
		life    *service.LifecycleService
		baseURL string
		cancel  context.CancelFunc
		done    chan error
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(store.Migrate(db)).To(Succeed())
		dataStore := store.NewStore(db)

		client := gateway.NewClient(&config.GatewayConfig{})
		life = service.NewLifecycleService(dataStore, client, gateway.Endpoints{}, poller.New(time.Second, 2*time.Second), 0)
		h := handlers.NewHandler(
			service.NewInstanceService(dataStore, client, gateway.Endpoints{}, life),
			life,
			service.NewIngestService(dataStore, life, ""),
			service.NewWebhookService(dataStore),
			service.NewSendService(dataStore, client, gateway.Endpoints{}, ""),
		)

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		baseURL = "http://" + listener.Addr().String()

		srv := apiserver.New(&config.Config{}, listener, h, auth.NewJWTVerifier("secret"))
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- srv.Run(ctx) }()
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(Receive(BeNil()))
		life.Shutdown()
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	get := func(path string, header http.Header) (*http.Response, string) {
		req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
		Expect(err).NotTo(HaveOccurred())
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, string(body)
	}

	It("serves health outside the API base path", func() {
		resp, body := get("/health", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"status":"ok"`))
	})

	It("serves the OpenAPI document", func() {
		resp, body := get("/openapi.yaml", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring("url: /api/v1"))
	})

	It("exposes prometheus metrics", func() {
		get("/health", nil)
		Eventually(func() string {
			_, body := get("/metrics", nil)
			return body
		}).Should(ContainSubstring("instance_manager_http_requests_total"))
	})

	It("mounts the API under /api/v1 behind auth", func() {
		resp, _ := get("/api/v1/instances", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		token, err := auth.IssueToken("secret", uuid.New(), time.Minute)
		Expect(err).NotTo(HaveOccurred())
		resp, body := get("/api/v1/instances", http.Header{"Authorization": {"Bearer " + token}})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(strings.TrimSpace(body)).To(Equal(`{"instances":[]}`))
	})

	It("answers unknown routes with 404", func() {
		resp, _ := get("/nope", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})
})
