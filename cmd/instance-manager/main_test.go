package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("run", func() {
	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		GinkgoT().Setenv("DB_TYPE", "sqlite")
		GinkgoT().Setenv("DB_NAME", filepath.Join(dir, "instances"))
		GinkgoT().Setenv("SVC_ADDRESS", "127.0.0.1:0")
		GinkgoT().Setenv("HEALTHCHECK_INTERVAL", "50ms")
	})

	It("returns configuration errors instead of exiting", func() {
		GinkgoT().Setenv("AUTH_JWT_SECRET", "")

		Expect(run(context.Background())).To(MatchError(ContainSubstring("AUTH_JWT_SECRET")))
	})

	It("returns listen errors instead of exiting", func() {
		GinkgoT().Setenv("AUTH_JWT_SECRET", "secret")
		GinkgoT().Setenv("SVC_ADDRESS", "256.0.0.1:1")

		Expect(run(context.Background())).To(MatchError(ContainSubstring("listen on")))
		_, err := os.Stat(os.Getenv("DB_NAME") + ".db")
		Expect(err).NotTo(HaveOccurred())
	})

	It("shuts down cleanly when the context ends", func() {
		GinkgoT().Setenv("AUTH_JWT_SECRET", "secret")
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- run(ctx) }()

		Eventually(done, 6*time.Second).Should(Receive(BeNil()))
	})
})
