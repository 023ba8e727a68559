package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/wa-console/instance-manager/internal/store"
	"github.com/wa-console/instance-manager/internal/store/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	Expect(err).NotTo(HaveOccurred())
	sqlDB, err := db.DB()
	Expect(err).NotTo(HaveOccurred())
	sqlDB.SetMaxOpenConns(1)
	Expect(store.Migrate(db)).To(Succeed())
	return db
}

var _ = Describe("Instance Store", func() {
	var (
		db            *gorm.DB
		instanceStore store.Instance
		ctx           context.Context
		owner         uuid.UUID
	)

	BeforeEach(func() {
		db = openTestDB()
		instanceStore = store.NewInstance(db)
		ctx = context.Background()
		owner = uuid.New()
	})

	AfterEach(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	Describe("Create", func() {
		It("persists the instance as disconnected", func() {
			created, err := instanceStore.Create(ctx, newInstance(owner, "vendas"))

			Expect(err).NotTo(HaveOccurred())
			Expect(created.ID).NotTo(Equal(uuid.Nil))
			Expect(created.Name).To(Equal("vendas"))
			Expect(created.Status).To(Equal(model.StatusDisconnected))
			Expect(created.QRImage).To(BeNil())
			Expect(created.LastUpdate).NotTo(BeZero())
		})

		It("rejects a duplicate name for the same owner", func() {
			_, err := instanceStore.Create(ctx, newInstance(owner, "vendas"))
			Expect(err).NotTo(HaveOccurred())

			_, err = instanceStore.Create(ctx, newInstance(owner, "vendas"))
			Expect(err).To(Equal(store.ErrInstanceNameTaken))
		})

		It("allows the same name for different owners", func() {
			_, err := instanceStore.Create(ctx, newInstance(owner, "vendas"))
			Expect(err).NotTo(HaveOccurred())

			_, err = instanceStore.Create(ctx, newInstance(uuid.New(), "vendas"))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Get", func() {
		It("retrieves by ID", func() {
			created, _ := instanceStore.Create(ctx, newInstance(owner, "get-test"))

			found, err := instanceStore.Get(ctx, created.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(found.Name).To(Equal("get-test"))
			Expect(found.OwnerID).To(Equal(owner))
		})

		It("returns ErrInstanceNotFound for missing ID", func() {
			_, err := instanceStore.Get(ctx, uuid.New())

			Expect(err).To(Equal(store.ErrInstanceNotFound))
		})
	})

	Describe("GetByOwnerAndName", func() {
		It("scopes the lookup to the owner", func() {
			created, _ := instanceStore.Create(ctx, newInstance(owner, "suporte"))

			found, err := instanceStore.GetByOwnerAndName(ctx, owner, "suporte")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(created.ID))

			_, err = instanceStore.GetByOwnerAndName(ctx, uuid.New(), "suporte")
			Expect(err).To(Equal(store.ErrInstanceNotFound))
		})
	})

	Describe("ListByOwner", func() {
		BeforeEach(func() {
			base := time.Now().UTC().Add(-time.Hour)
			for i, name := range []string{"first", "second", "third"} {
				inst := newInstance(owner, name)
				inst.CreateTime = base.Add(time.Duration(i) * time.Minute)
				_, err := instanceStore.Create(ctx, inst)
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := instanceStore.Create(ctx, newInstance(uuid.New(), "foreign"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns only the owner's instances, newest first", func() {
			instances, err := instanceStore.ListByOwner(ctx, owner, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(instances).To(HaveLen(3))
			Expect(instances[0].Name).To(Equal("third"))
			Expect(instances[2].Name).To(Equal("first"))
		})

		It("respects pagination", func() {
			instances, err := instanceStore.ListByOwner(ctx, owner, &store.Pagination{Limit: 2, Offset: 1})

			Expect(err).NotTo(HaveOccurred())
			Expect(instances).To(HaveLen(2))
			Expect(instances[0].Name).To(Equal("second"))
		})

		It("counts the owner's instances", func() {
			count, err := instanceStore.CountByOwner(ctx, owner)

			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(3)))
		})
	})

	Describe("ListByName", func() {
		It("returns instances across owners", func() {
			instanceStore.Create(ctx, newInstance(owner, "shared"))
			instanceStore.Create(ctx, newInstance(uuid.New(), "shared"))
			instanceStore.Create(ctx, newInstance(owner, "other"))

			instances, err := instanceStore.ListByName(ctx, "shared")

			Expect(err).NotTo(HaveOccurred())
			Expect(instances).To(HaveLen(2))
		})
	})

	Describe("UpdateState", func() {
		It("writes status, QR and last update together", func() {
			created, _ := instanceStore.Create(ctx, newInstance(owner, "state"))
			qr := "data:image/png;base64,AAAA"
			at := time.Now().UTC().Add(time.Minute)

			updated, err := instanceStore.UpdateState(ctx, created.ID, store.StateUpdate{
				Status:     model.StatusConnecting,
				QRImage:    &qr,
				LastUpdate: at,
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(model.StatusConnecting))
			Expect(updated.QRImage).To(HaveValue(Equal(qr)))
			Expect(updated.LastUpdate).To(BeTemporally("~", at, time.Millisecond))
		})

		It("clears the QR when nil", func() {
			created, _ := instanceStore.Create(ctx, newInstance(owner, "clear"))
			qr := "data:image/png;base64,AAAA"
			instanceStore.UpdateState(ctx, created.ID, store.StateUpdate{
				Status: model.StatusConnecting, QRImage: &qr, LastUpdate: time.Now().UTC(),
			})

			updated, err := instanceStore.UpdateState(ctx, created.ID, store.StateUpdate{
				Status: model.StatusOnline, LastUpdate: time.Now().UTC(),
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(model.StatusOnline))
			Expect(updated.QRImage).To(BeNil())
		})

		It("returns ErrInstanceNotFound for missing ID", func() {
			_, err := instanceStore.UpdateState(ctx, uuid.New(), store.StateUpdate{
				Status: model.StatusOnline, LastUpdate: time.Now().UTC(),
			})

			Expect(err).To(Equal(store.ErrInstanceNotFound))
		})
	})

	Describe("Delete", func() {
		It("removes the instance", func() {
			created, _ := instanceStore.Create(ctx, newInstance(owner, "to-delete"))

			Expect(instanceStore.Delete(ctx, created.ID)).To(Succeed())

			_, err := instanceStore.Get(ctx, created.ID)
			Expect(err).To(Equal(store.ErrInstanceNotFound))
		})

		It("returns ErrInstanceNotFound for missing ID", func() {
			Expect(instanceStore.Delete(ctx, uuid.New())).To(Equal(store.ErrInstanceNotFound))
		})
	})

	Describe("Check scheduling", func() {
		var now time.Time

		BeforeEach(func() {
			now = time.Now().UTC()
		})

		It("lists only online instances that are due", func() {
			due, _ := instanceStore.Create(ctx, onlineInstance(owner, "due"))
			later, _ := instanceStore.Create(ctx, onlineInstance(owner, "later"))
			instanceStore.Create(ctx, newInstance(owner, "offline"))

			Expect(instanceStore.UpdateCheckSchedule(ctx, due.ID, 0, now.Add(-time.Hour))).To(Succeed())
			Expect(instanceStore.UpdateCheckSchedule(ctx, later.ID, 0, now.Add(time.Hour))).To(Succeed())

			instances, err := instanceStore.ListDueForCheck(ctx, now)

			Expect(err).NotTo(HaveOccurred())
			Expect(instances).To(HaveLen(1))
			Expect(instances[0].ID).To(Equal(due.ID))
		})

		It("treats never-scheduled online instances as due", func() {
			created, _ := instanceStore.Create(ctx, onlineInstance(owner, "fresh"))

			instances, err := instanceStore.ListDueForCheck(ctx, now)

			Expect(err).NotTo(HaveOccurred())
			Expect(instances).To(HaveLen(1))
			Expect(instances[0].ID).To(Equal(created.ID))
		})

		It("records consecutive failures", func() {
			created, _ := instanceStore.Create(ctx, onlineInstance(owner, "flaky"))

			Expect(instanceStore.UpdateCheckSchedule(ctx, created.ID, 2, now.Add(time.Minute))).To(Succeed())

			found, _ := instanceStore.Get(ctx, created.ID)
			Expect(found.ConsecutiveFailures).To(Equal(2))
			Expect(found.NextCheckTime).NotTo(BeNil())
		})

		It("returns ErrInstanceNotFound for missing ID", func() {
			err := instanceStore.UpdateCheckSchedule(ctx, uuid.New(), 0, now)

			Expect(err).To(Equal(store.ErrInstanceNotFound))
		})
	})
})

func newInstance(owner uuid.UUID, name string) model.Instance {
	return model.Instance{
		ID:      uuid.New(),
		OwnerID: owner,
		Name:    name,
	}
}

func onlineInstance(owner uuid.UUID, name string) model.Instance {
	inst := newInstance(owner, name)
	inst.Status = model.StatusOnline
	return inst
}
