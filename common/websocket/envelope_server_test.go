package websocket_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"nhooyr.io/websocket"

	"github.com/scusemua/notebook-bridge/common/envelope"
	"github.com/scusemua/notebook-bridge/common/kernel"
	ws "github.com/scusemua/notebook-bridge/common/websocket"
	"github.com/scusemua/notebook-bridge/testing/fake_kernel"
)

var _ = Describe("EnvelopeServer", func() {
	var (
		fake     *fake_kernel.FakeKernel
		registry *envelope.Registry
		server   *httptest.Server
		conn     *websocket.Conn
		ctx      context.Context
		cancel   context.CancelFunc
	)

	send := func(data []byte) {
		Expect(conn.Write(ctx, websocket.MessageText, data)).To(Succeed())
	}

	receive := func() kernel.Event {
		_, data, err := conn.Read(ctx)
		Expect(err).To(BeNil())
		e, err := registry.ParseEvent(data)
		Expect(err).To(BeNil())
		return e
	}

	BeforeEach(func() {
		fake = fake_kernel.NewFakeKernel("lua")
		registry = envelope.NewRegistry()
		server = httptest.NewServer(ws.NewEnvelopeServer(fake, registry))

		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)

		var err error
		conn, _, err = websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		server.Close()
		Expect(fake.Close()).To(Succeed())
		cancel()
	})

	It("will stream the events of a submitted command up to its terminal event", func() {
		fake.On(kernel.SubmitCodeType, fake_kernel.Produce(
			&kernel.StandardOutputValueProduced{Text: "hi\n"},
			&kernel.ReturnValueProduced{Value: int64(2)},
		))

		cmd := kernel.NewSubmitCode("1+1", "lua")
		cmd.SetToken("token-1")
		data, err := registry.SerializeCommand(cmd)
		Expect(err).To(BeNil())
		send(data)

		first := receive()
		Expect(first).To(BeAssignableToTypeOf(&kernel.StandardOutputValueProduced{}))
		Expect(kernel.Token(first)).To(Equal("token-1"))
		Expect(first.Command().(*kernel.SubmitCode).Code).To(Equal("1+1"))

		second := receive()
		Expect(second.(*kernel.ReturnValueProduced).Value).To(BeNumerically("==", 2))
		Expect(receive()).To(BeAssignableToTypeOf(&kernel.CommandSucceeded{}))
	})

	It("will not forward events of commands submitted elsewhere", func() {
		other := kernel.NewSubmitCode("x", "lua")
		Expect(fake.Submit(ctx, other)).To(Succeed())

		cmd := &kernel.RequestDiagnostics{Code: "x"}
		cmd.SetToken("token-2")
		data, err := registry.SerializeCommand(cmd)
		Expect(err).To(BeNil())

		// The other command's events were published before this connection submitted anything.
		Eventually(func() int { return len(fake.Submitted()) }).Should(Equal(1))
		send(data)

		e := receive()
		Expect(kernel.Token(e)).To(Equal("token-2"))
	})

	It("will answer unknown command types with a failure", func() {
		data, err := json.Marshal(&envelope.CommandEnvelope{Token: "t", CommandType: "Explode", Command: json.RawMessage(`{}`)})
		Expect(err).To(BeNil())
		send(data)

		_, raw, err := conn.Read(ctx)
		Expect(err).To(BeNil())

		var env envelope.EventEnvelope
		Expect(json.Unmarshal(raw, &env)).To(Succeed())
		Expect(env.EventType).To(Equal(kernel.CommandFailedType))
		Expect(env.Cause.CommandType).To(Equal(kernel.CommandType("Explode")))

		var failure kernel.CommandFailed
		Expect(json.Unmarshal(env.Event, &failure)).To(Succeed())
		Expect(failure.Message).To(ContainSubstring(envelope.ErrUnknownEnvelopeType.Error()))
	})

	It("will answer rejected submissions with a failure", func() {
		fake.RejectWith(errors.New("kernel is busy"))

		cmd := kernel.NewSubmitCode("1", "lua")
		data, err := registry.SerializeCommand(cmd)
		Expect(err).To(BeNil())
		send(data)

		e := receive()
		Expect(e.(*kernel.CommandFailed).Message).To(Equal("kernel is busy"))
		Expect(kernel.Token(e)).To(Equal(cmd.Token()))
	})
})
