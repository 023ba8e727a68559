package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/wa-console/instance-manager/internal/auth"
)

const secret = "test-secret"

var _ = Describe("JWTVerifier", func() {
	var (
		verifier *auth.JWTVerifier
		owner    uuid.UUID
		token    string
	)

	BeforeEach(func() {
		verifier = auth.NewJWTVerifier(secret)
		owner = uuid.New()
		var err error
		token, err = auth.IssueToken(secret, owner, time.Hour)
		Expect(err).NotTo(HaveOccurred())
	})

	It("reads the session cookie", func() {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})

		got, err := verifier.Verify(r)

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(owner))
	})

	It("reads a bearer header", func() {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		got, err := verifier.Verify(r)

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(owner))
	})

	It("rejects a request without a token", func() {
		_, err := verifier.Verify(httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(err).To(MatchError(auth.ErrNoToken))
	})

	It("rejects a token signed with another secret", func() {
		forged, err := auth.IssueToken("other-secret", owner, time.Hour)
		Expect(err).NotTo(HaveOccurred())

		_, err = verifier.Parse(forged)

		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects an expired token", func() {
		expired, err := auth.IssueToken(secret, owner, -time.Minute)
		Expect(err).NotTo(HaveOccurred())

		_, err = verifier.Parse(expired)

		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects a token without a usable userId", func() {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{UserID: "42"}).SignedString([]byte(secret))
		Expect(err).NotTo(HaveOccurred())

		_, err = verifier.Parse(raw)

		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("carries the owner through a context", func() {
		ctx := auth.WithOwner(context.Background(), owner)

		got, ok := auth.OwnerFrom(ctx)

		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(owner))

		_, ok = auth.OwnerFrom(context.Background())
		Expect(ok).To(BeFalse())
	})
})
