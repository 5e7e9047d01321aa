package httpserver_test

import (
	"context"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dbfailover/internal/httpserver"
	"github.com/angeloszaimis/dbfailover/pkg/logger"
)

var _ = Describe("HTTP Server", func() {
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	DescribeTable("address validation",
		func(addr string, valid bool) {
			srv, err := httpserver.New(addr, noop, logger.Discard())
			if valid {
				Expect(err).NotTo(HaveOccurred())
				Expect(srv).NotTo(BeNil())
			} else {
				Expect(err).To(HaveOccurred())
				Expect(srv).To(BeNil())
			}
		},
		Entry("host and port", "localhost:9999", true),
		Entry("ip and port", "127.0.0.1:9999", true),
		Entry("port only", ":9999", true),
		Entry("ephemeral port", "127.0.0.1:0", true),
		Entry("empty", "", false),
		Entry("too many colons", "invalid:host:port", false),
		Entry("missing port", "localhost:", false),
		Entry("non-numeric port", "localhost:http", false),
	)

	Context("server lifecycle", func() {
		var srv *httpserver.Server

		BeforeEach(func() {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("test"))
			})

			var err error
			srv, err = httpserver.New("127.0.0.1:0", handler, logger.Discard())
			Expect(err).NotTo(HaveOccurred())
		})

		It("serves requests and shuts down cleanly", func() {
			addr, err := srv.Listen()
			Expect(err).NotTo(HaveOccurred())

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			resp, err := http.Get("http://" + addr.String())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(srv.Shutdown(ctx)).To(Succeed())
			Eventually(errCh).Should(Receive(BeNil()))
		})

		It("returns the same address when listening twice", func() {
			first, err := srv.Listen()
			Expect(err).NotTo(HaveOccurred())
			second, err := srv.Listen()
			Expect(err).NotTo(HaveOccurred())
			Expect(second.String()).To(Equal(first.String()))

			Expect(srv.Shutdown(context.Background())).To(Succeed())
		})
	})
})
