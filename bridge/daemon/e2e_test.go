package daemon_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-bridge/bridge/domain"
	"github.com/scusemua/notebook-bridge/common/history"
	"github.com/scusemua/notebook-bridge/common/jupyter"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/kernel/luakernel"
)

var _ = Describe("Lua kernel over the wire", Ordered, func() {
	var (
		lua *luakernel.Kernel
		h   *harness
	)

	BeforeAll(func() {
		info := &jupyter.ConnectionInfo{
			IP:              "127.0.0.1",
			Transport:       jupyter.TransportTCP,
			SignatureScheme: "hmac-sha256",
			Key:             "abc",
			ShellPort:       52000,
			IOPubPort:       52001,
			StdinPort:       52002,
			ControlPort:     52003,
			HBPort:          52004,
		}

		lua = luakernel.New()
		h = startHarness(info, newOptions(domain.IdlePolicyCompleted), lua, history.NewMemoryStore(10), nil)
	})

	AfterAll(func() {
		h.Stop()
		_ = lua.Close()
	})

	It("should evaluate 1+1", func() {
		req := h.execute("1+1", false)

		messages := h.published(req, 1)
		Expect(sequence(messages)).To(Equal([]string{"status:busy", messaging.IOExecuteResult, "status:idle"}))

		result := decode[messaging.ExecuteResult](messages[1])
		Expect(result.Data).To(Equal(messaging.MimeBundle{"text/plain": "2"}))
		Expect(result.ExecutionCount).To(Equal(1))

		reply := decode[messaging.ExecuteReply](h.reply(messaging.ShellMessage, req))
		Expect(reply.Status).To(Equal(messaging.MessageStatusOK))
		Expect(reply.ExecutionCount).To(Equal(1))
	})

	It("should keep state between executions and stream printed output", func() {
		h.reply(messaging.ShellMessage, h.execute("x = 20", false))

		req := h.execute("print(x + 1)", false)
		messages := h.published(req, 1)
		Expect(sequence(messages)).To(Equal([]string{"status:busy", messaging.IOStreamMessage, "status:idle"}))
		Expect(decode[messaging.StreamContent](messages[1]).Text).To(Equal("21\n"))

		reply := decode[messaging.ExecuteReply](h.reply(messaging.ShellMessage, req))
		Expect(reply.ExecutionCount).To(Equal(3))
	})

	It("should report runtime errors", func() {
		req := h.execute("error('boom')", false)

		messages := h.published(req, 1)
		Expect(ofType(messages, messaging.IOErrorMessage)).To(HaveLen(1))
		Expect(ofType(messages, messaging.IOStreamMessage)).To(HaveLen(1))

		reply := decode[messaging.ExecuteReply](h.reply(messaging.ShellMessage, req))
		Expect(reply.Status).To(Equal(messaging.MessageStatusError))
		Expect(reply.EName).To(Equal(luakernel.ErrorNameRuntime))
		Expect(reply.EValue).To(ContainSubstring("boom"))
	})

	It("should tell incomplete code apart", func() {
		req := h.request(messaging.ShellMessage, messaging.ShellIsCompleteRequest, &messaging.IsCompleteRequest{Code: "for i = 1, 3 do"})
		Expect(decode[messaging.IsCompleteReply](h.reply(messaging.ShellMessage, req)).Status).To(Equal(messaging.IsCompleteIncomplete))

		req = h.request(messaging.ShellMessage, messaging.ShellIsCompleteRequest, &messaging.IsCompleteRequest{Code: "x = 1"})
		Expect(decode[messaging.IsCompleteReply](h.reply(messaging.ShellMessage, req)).Status).To(Equal(messaging.IsCompleteComplete))
	})

	It("should complete global names", func() {
		req := h.request(messaging.ShellMessage, messaging.ShellCompleteRequest, &messaging.CompleteRequest{Code: "pri", CursorPos: 3})

		reply := decode[messaging.CompleteReply](h.reply(messaging.ShellMessage, req))
		Expect(reply.Status).To(Equal(messaging.MessageStatusOK))
		Expect(reply.Matches).To(ContainElement("print"))
		Expect(reply.CursorStart).To(Equal(0))
		Expect(reply.CursorEnd).To(Equal(3))
	})

	It("should render non-finite results and keep serving", func() {
		req := h.execute("1/0", false)

		messages := h.published(req, 1)
		Expect(sequence(messages)).To(Equal([]string{"status:busy", messaging.IOExecuteResult, "status:idle"}))
		Expect(decode[messaging.ExecuteResult](messages[1]).Data).To(Equal(messaging.MimeBundle{"text/plain": "+Inf"}))
		Expect(decode[messaging.ExecuteReply](h.reply(messaging.ShellMessage, req)).Status).To(Equal(messaging.MessageStatusOK))

		req = h.execute("{nan = 0/0}", false)
		result := decode[messaging.ExecuteResult](ofType(h.published(req, 1), messaging.IOExecuteResult)[0])
		Expect(result.Data["text/html"]).To(ContainSubstring("NaN"))
		Expect(decode[messaging.ExecuteReply](h.reply(messaging.ShellMessage, req)).Status).To(Equal(messaging.MessageStatusOK))

		req = h.execute("1+1", false)
		Expect(decode[messaging.ExecuteResult](ofType(h.published(req, 1), messaging.IOExecuteResult)[0]).Data).
			To(Equal(messaging.MimeBundle{"text/plain": "2"}))
		h.reply(messaging.ShellMessage, req)
	})

	It("should echo heartbeats", func() {
		echoed, err := h.client.Ping([]byte("beat"), timeout)
		Expect(err).To(BeNil())
		Expect(echoed).To(Equal([]byte("beat")))
	})
})
