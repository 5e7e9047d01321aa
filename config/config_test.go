package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dbfailover/config"
)

var _ = Describe("Config", func() {
	var (
		tempDir string
		origDir string
	)

	BeforeEach(func() {
		var err error
		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("with valid config file", func() {
			BeforeEach(func() {
				configContent := `
server:
  environment: "dev"

logging:
  level: "info"

admin:
  address: ":9090"

failover:
  heal_interval: "10s"
  probe: "ping"

datasources:
  - name: "primary"
    url: "postgres://db1:5432/app"
    username: "app"
    password: "secret"
    max_pool_size: 10
  - name: "secondary"
    url: "tcp(db2:3306)/app"
    username: "app"
    driver: "mysql"
    validation_query: "SELECT 42"
    max_pool_size: 5
    conn_max_lifetime: "30m"
`
				configPath := filepath.Join(tempDir, "config.yaml")
				err := os.WriteFile(configPath, []byte(configContent), 0644)
				Expect(err).NotTo(HaveOccurred())

				err = os.Chdir(tempDir)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
			})

			It("should keep datasources in declaration order", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Datasources).To(HaveLen(2))
				Expect(cfg.Datasources[0].Name).To(Equal("primary"))
				Expect(cfg.Datasources[1].Name).To(Equal("secondary"))
			})

			It("should parse datasource fields", func() {
				cfg, _ := config.Load()
				ds := cfg.Datasources[1]
				Expect(ds.DriverName()).To(Equal("mysql"))
				Expect(ds.ValidationQuery).To(Equal("SELECT 42"))
				Expect(ds.MaxPoolSize).To(Equal(5))
				Expect(ds.ConnMaxLifetimeDuration()).To(Equal(30 * time.Minute))
			})

			It("should default the driver to pgx", func() {
				cfg, _ := config.Load()
				Expect(cfg.Datasources[0].DriverName()).To(Equal(config.DefaultDriver))
			})

			It("should parse failover settings", func() {
				cfg, _ := config.Load()
				Expect(cfg.HealIntervalDuration()).To(Equal(10 * time.Second))
				Expect(cfg.Failover.Probe).To(Equal(config.ProbePing))
				Expect(cfg.Admin.Address).To(Equal(":9090"))
			})
		})

		Context("without a config file", func() {
			BeforeEach(func() {
				Expect(os.Chdir(tempDir)).To(Succeed())
			})

			It("should fail because no datasources are configured", func() {
				cfg, err := config.Load()
				Expect(err).To(HaveOccurred())
				Expect(cfg).To(BeNil())
			})
		})
	})

	Describe("LoadFile", func() {
		It("should apply defaults for omitted sections", func() {
			configPath := filepath.Join(tempDir, "failover.yaml")
			content := `
datasources:
  - name: "only"
    url: "file:only.db"
    username: "app"
    driver: "sqlite3"
    max_pool_size: 1
`
			Expect(os.WriteFile(configPath, []byte(content), 0644)).To(Succeed())

			cfg, err := config.LoadFile(configPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.HealIntervalDuration()).To(Equal(5 * time.Second))
			Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
			Expect(cfg.Logging.Level).To(Equal(config.LogLevelInfo))
			Expect(cfg.Failover.Probe).To(Equal(config.ProbeStatement))
			Expect(cfg.ProbeTimeoutDuration()).To(BeZero())
		})

		It("should fail for a missing file", func() {
			_, err := config.LoadFile(filepath.Join(tempDir, "missing.yaml"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Validate", func() {
		var cfg *config.Config

		BeforeEach(func() {
			cfg = &config.Config{
				Server:   config.ServerConfig{Environment: config.EnvDev},
				Logging:  config.LoggingConfig{Level: config.LogLevelInfo},
				Admin:    config.AdminConfig{Address: ":8090"},
				Failover: config.FailoverConfig{HealInterval: "5s", Probe: config.ProbeStatement},
				Datasources: []config.DatasourceConfig{
					{Name: "a", URL: "postgres://a/app", Username: "app", MaxPoolSize: 2},
					{Name: "b", URL: "postgres://b/app", Username: "app", MaxPoolSize: 2},
				},
			}
		})

		It("should accept a valid configuration", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should reject duplicate datasource names", func() {
			cfg.Datasources[1].Name = "a"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an empty datasource list", func() {
			cfg.Datasources = nil
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an invalid datasource inside the list", func() {
			cfg.Datasources[1].MaxPoolSize = 0
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a non-positive heal interval", func() {
			cfg.Failover.HealInterval = "0s"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an unknown probe strategy", func() {
			cfg.Failover.Probe = "telepathy"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a malformed admin address", func() {
			cfg.Admin.Address = "no-port"
			Expect(cfg.Validate()).NotTo(Succeed())
		})
	})

	DescribeTable("DatasourceConfig.Validate",
		func(mutate func(*config.DatasourceConfig), valid bool) {
			ds := config.DatasourceConfig{
				Name:        "primary",
				URL:         "postgres://db/app",
				Username:    "app",
				MaxPoolSize: 1,
			}
			mutate(&ds)

			if valid {
				Expect(ds.Validate()).To(Succeed())
			} else {
				Expect(ds.Validate()).NotTo(Succeed())
			}
		},
		Entry("minimal valid config", func(*config.DatasourceConfig) {}, true),
		Entry("blank name", func(d *config.DatasourceConfig) { d.Name = "  " }, false),
		Entry("empty name", func(d *config.DatasourceConfig) { d.Name = "" }, false),
		Entry("blank url", func(d *config.DatasourceConfig) { d.URL = "" }, false),
		Entry("blank username", func(d *config.DatasourceConfig) { d.Username = "\t" }, false),
		Entry("pool size zero", func(d *config.DatasourceConfig) { d.MaxPoolSize = 0 }, false),
		Entry("negative pool size", func(d *config.DatasourceConfig) { d.MaxPoolSize = -3 }, false),
		Entry("empty password is allowed", func(d *config.DatasourceConfig) { d.Password = "" }, true),
		Entry("bad lifetime", func(d *config.DatasourceConfig) { d.ConnMaxLifetime = "soon" }, false),
		Entry("negative idle conns", func(d *config.DatasourceConfig) { d.MaxIdleConns = -1 }, false),
	)

	Describe("ValidateDatasources", func() {
		valid := func(name string) config.DatasourceConfig {
			return config.DatasourceConfig{Name: name, URL: "postgres://db/app", Username: "app", MaxPoolSize: 2}
		}

		It("should accept distinct valid datasources", func() {
			Expect(config.ValidateDatasources([]config.DatasourceConfig{valid("a"), valid("b")})).To(Succeed())
		})

		It("should reject an empty set", func() {
			Expect(config.ValidateDatasources(nil)).NotTo(Succeed())
		})

		It("should reject duplicate names", func() {
			Expect(config.ValidateDatasources([]config.DatasourceConfig{valid("a"), valid("a")})).NotTo(Succeed())
		})

		It("should reject an invalid entry", func() {
			bad := valid("b")
			bad.URL = " "
			Expect(config.ValidateDatasources([]config.DatasourceConfig{valid("a"), bad})).NotTo(Succeed())
		})
	})
})
