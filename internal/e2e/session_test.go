package e2e_test

import (
	"io"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lightstreamer/ls-go-client/internal/testserver"
	"github.com/lightstreamer/ls-go-client/pkg/client"
	"github.com/lightstreamer/ls-go-client/pkg/log"
	"github.com/lightstreamer/ls-go-client/pkg/message"
	"github.com/lightstreamer/ls-go-client/pkg/session"
	"github.com/lightstreamer/ls-go-client/pkg/subscription"
)

var _ = Describe("Client session", func() {
	var (
		srv  *testserver.Server
		c    *client.Client
		seen *events
	)

	start := func(opts testserver.Options, cfg client.Config) {
		srv = testserver.New(opts)
		cfg.ServerAddress = srv.URL()
		cfg.AdapterSet = "DEMO"

		var err error
		c, err = client.NewWithConfig(cfg)
		Expect(err).NotTo(HaveOccurred())
		seen = &events{}
		c.AddListener(seen.Session())
	}

	AfterEach(func() {
		if c != nil {
			c.Close()
		}
		if srv != nil {
			srv.Close()
		}
	})

	DescribeTable("forced transports",
		func(forced, status string) {
			start(testserver.Options{}, client.Config{})
			Expect(c.ConnectionOptions().SetForcedTransport(forced)).To(Succeed())
			Expect(c.Connect()).To(Succeed())
			Eventually(c.Status).Should(Equal(status))

			srv.SetItem("item1", map[string]string{"price": "3"})
			sub, err := subscription.New(subscription.ModeMerge, []string{"item1"}, []string{"price"})
			Expect(err).NotTo(HaveOccurred())
			sub.AddListener(seen.Subscription())
			Expect(c.Subscribe(sub)).To(Succeed())
			Eventually(seen.All).Should(ContainElement("item1=3"))
		},
		Entry("WebSocket streaming", session.TransportWSStreaming, session.StatusWSStreaming),
		Entry("HTTP streaming", session.TransportHTTPStreaming, session.StatusHTTPStreaming),
		Entry("WebSocket polling", session.TransportWSPolling, session.StatusWSPolling),
		Entry("HTTP polling", session.TransportHTTPPolling, session.StatusHTTPPolling),
	)

	It("recovers the session after a broken stream", func() {
		start(testserver.Options{}, client.Config{})
		Expect(c.Connect()).To(Succeed())
		Eventually(c.Status).Should(Equal(session.StatusWSStreaming))
		id := c.ConnectionDetails().SessionID()

		srv.InterruptStreams()

		Eventually(seen.All).Should(ContainElement(session.StatusTryingRecovery))
		Eventually(c.Status).Should(Equal(session.StatusWSStreaming))
		Expect(c.ConnectionDetails().SessionID()).To(Equal(id))
		Expect(srv.SessionCount()).To(Equal(1))
	})

	It("reports a refused session and stops", func() {
		start(testserver.Options{RefuseCreate: 60}, client.Config{})
		Expect(c.Connect()).To(Succeed())

		Eventually(seen.All).Should(ContainElement("error:refused by test server"))
		Consistently(c.Status, "200ms").Should(Equal(session.StatusDisconnected))
	})

	It("delivers messages of a sequence in order", func() {
		start(testserver.Options{}, client.Config{})
		Expect(c.Connect()).To(Succeed())

		for _, text := range []string{"one", "two", "three"} {
			Expect(c.SendMessage(message.Request{
				Text:                     text,
				Sequence:                 "orders",
				DelayTimeout:             -1,
				Listener:                 seen.Message(),
				EnqueueWhileDisconnected: true,
			})).To(Succeed())
		}

		processed := func() []string {
			var out []string
			for _, ev := range seen.All() {
				if len(ev) > 10 && ev[:10] == "processed:" {
					out = append(out, ev)
				}
			}
			return out
		}
		Eventually(processed).Should(Equal([]string{"processed:one", "processed:two", "processed:three"}))
		Expect(srv.ReceivedNamed("msg")).NotTo(BeEmpty())
	})

	It("captures the protocol traffic", func() {
		path := filepath.Join(GinkgoT().TempDir(), "session.lscap.zst")
		rec, err := log.NewFileRecorder(path)
		Expect(err).NotTo(HaveOccurred())

		start(testserver.Options{}, client.Config{Recorder: rec})
		Expect(c.Connect()).To(Succeed())
		Eventually(c.Status).Should(Equal(session.StatusWSStreaming))
		c.Disconnect()
		Expect(rec.Close()).To(Succeed())

		reader, err := log.NewReader(path)
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		var requests, states []string
		for {
			event, err := reader.Next()
			if err == io.EOF {
				break
			}
			Expect(err).NotTo(HaveOccurred())
			switch {
			case event.Line != nil && event.Direction == log.DirectionOut:
				requests = append(requests, event.Line.Request)
			case event.StateChange != nil:
				states = append(states, event.StateChange.NewState)
			}
		}
		Expect(requests).To(ContainElement("create_session"))
		Expect(states).To(ContainElements(session.StatusConnecting, session.StatusWSStreaming, session.StatusDisconnected))
	})
})
