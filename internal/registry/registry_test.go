package registry_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dbfailover/config"
	"github.com/angeloszaimis/dbfailover/internal/healthcheck"
	"github.com/angeloszaimis/dbfailover/internal/registry"
	"github.com/angeloszaimis/dbfailover/internal/source/sourcetest"
	"github.com/angeloszaimis/dbfailover/pkg/logger"
)

var _ = Describe("Registry", func() {
	var (
		ctx     context.Context
		primary *sourcetest.Server
		replica *sourcetest.Server
		factory *sourcetest.Factory
		probe   healthcheck.Probe
	)

	newRegistry := func(cfgs ...config.DatasourceConfig) (*registry.Registry, error) {
		reg, err := registry.New(ctx, cfgs, factory, probe, registry.WithLogger(logger.Discard()))
		if reg != nil {
			DeferCleanup(reg.Close)
		}
		return reg, err
	}

	BeforeEach(func() {
		ctx = context.Background()
		primary = sourcetest.NewServer()
		replica = sourcetest.NewServer()
		factory = sourcetest.NewFactory()
		probe = healthcheck.NewStatementProbe()
	})

	Describe("New", func() {
		It("should preserve configuration order", func() {
			reg, err := newRegistry(
				replica.Config("replica"),
				primary.Config("primary"),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(reg.Len()).To(Equal(2))
			Expect(reg.Names()).To(Equal([]string{"replica", "primary"}))
			Expect(reg.Backends()[0].Name()).To(Equal("replica"))
		})

		It("should create exactly one source per backend", func() {
			_, err := newRegistry(primary.Config("primary"), replica.Config("replica"))
			Expect(err).NotTo(HaveOccurred())
			Expect(factory.Creates("primary")).To(Equal(1))
			Expect(factory.Creates("replica")).To(Equal(1))
		})

		It("should probe every backend eagerly", func() {
			replica.SetDown(true)
			reg, err := newRegistry(primary.Config("primary"), replica.Config("replica"))
			Expect(err).NotTo(HaveOccurred())

			Expect(reg.IsMarkedHealthy("primary")).To(BeTrue())
			Expect(reg.IsMarkedHealthy("replica")).To(BeFalse())
		})

		DescribeTable("should reject invalid configuration before creating anything",
			func(mutate func([]config.DatasourceConfig) []config.DatasourceConfig) {
				cfgs := mutate([]config.DatasourceConfig{
					primary.Config("primary"),
					replica.Config("replica"),
				})

				reg, err := newRegistry(cfgs...)
				Expect(reg).To(BeNil())
				Expect(errors.Is(err, registry.ErrInvalidConfig)).To(BeTrue())
				Expect(factory.Creates("primary")).To(BeZero())
				Expect(factory.Creates("replica")).To(BeZero())
			},
			Entry("empty set", func([]config.DatasourceConfig) []config.DatasourceConfig {
				return nil
			}),
			Entry("blank name", func(c []config.DatasourceConfig) []config.DatasourceConfig {
				c[1].Name = " "
				return c
			}),
			Entry("blank url", func(c []config.DatasourceConfig) []config.DatasourceConfig {
				c[1].URL = ""
				return c
			}),
			Entry("blank username", func(c []config.DatasourceConfig) []config.DatasourceConfig {
				c[1].Username = ""
				return c
			}),
			Entry("pool size zero", func(c []config.DatasourceConfig) []config.DatasourceConfig {
				c[1].MaxPoolSize = 0
				return c
			}),
			Entry("duplicate names", func(c []config.DatasourceConfig) []config.DatasourceConfig {
				c[1].Name = "primary"
				return c
			}),
		)

		It("should require a factory and a probe", func() {
			_, err := registry.New(ctx, []config.DatasourceConfig{primary.Config("primary")}, nil, probe)
			Expect(err).To(MatchError(registry.ErrInvalidConfig))
		})

		It("should close already created backends when a factory call fails", func() {
			factory.FailCreates("replica", true)

			reg, err := newRegistry(primary.Config("primary"), replica.Config("replica"))
			Expect(reg).To(BeNil())
			Expect(err).To(MatchError(sourcetest.ErrCreateFailed))

			for _, src := range factory.Sources("primary") {
				Expect(src.IsClosed()).To(BeTrue())
			}
		})
	})

	Describe("lookups", func() {
		var reg *registry.Registry

		BeforeEach(func() {
			var err error
			reg, err = newRegistry(primary.Config("primary"), replica.Config("replica"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return a backend by name", func() {
			b, err := reg.Get("replica")
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Name()).To(Equal("replica"))
		})

		It("should reject unknown names", func() {
			_, err := reg.Get("missing")
			Expect(err).To(MatchError(registry.ErrUnknownBackend))

			_, err = reg.IsMarkedHealthy("missing")
			Expect(err).To(MatchError(registry.ErrUnknownBackend))

			_, err = reg.ProbeHealth(ctx, "missing")
			Expect(err).To(MatchError(registry.ErrUnknownBackend))

			_, err = reg.HealIfNeeded(ctx, "missing")
			Expect(err).To(MatchError(registry.ErrUnknownBackend))
		})

		It("should not expose its internal slice", func() {
			backends := reg.Backends()
			backends[0] = nil
			Expect(reg.Backends()[0]).NotTo(BeNil())
		})

		It("should probe and heal by name", func() {
			primary.SetDown(true)
			Expect(reg.ProbeHealth(ctx, "primary")).To(BeFalse())
			Expect(reg.IsMarkedHealthy("primary")).To(BeFalse())

			primary.SetDown(false)
			Expect(reg.HealIfNeeded(ctx, "primary")).To(BeTrue())
			Expect(reg.IsMarkedHealthy("primary")).To(BeTrue())
		})

		It("should expose heal targets in order", func() {
			targets := reg.HealTargets()
			Expect(targets).To(HaveLen(2))
			Expect(targets[0].Name()).To(Equal("primary"))
			Expect(targets[1].Name()).To(Equal("replica"))
		})
	})

	Describe("Close", func() {
		It("should close every current source", func() {
			reg, err := registry.New(ctx,
				[]config.DatasourceConfig{primary.Config("primary"), replica.Config("replica")},
				factory, probe, registry.WithLogger(logger.Discard()))
			Expect(err).NotTo(HaveOccurred())

			Expect(reg.Close()).To(Succeed())
			Expect(factory.Latest("primary").IsClosed()).To(BeTrue())
			Expect(factory.Latest("replica").IsClosed()).To(BeTrue())
		})

		It("should join close failures", func() {
			factory.FailCloses("replica", errors.New("close exploded"))
			reg, err := registry.New(ctx,
				[]config.DatasourceConfig{primary.Config("primary"), replica.Config("replica")},
				factory, probe, registry.WithLogger(logger.Discard()))
			Expect(err).NotTo(HaveOccurred())

			err = reg.Close()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("replica"))
		})
	})
})
