package daemon_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/scusemua/notebook-bridge/bridge/domain"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/kernel/mock_kernel"
)

var _ = Describe("KernelServer with a mocked kernel", func() {
	var (
		ctrl *gomock.Controller
		mock *mock_kernel.MockKernel
		bus  *kernel.Bus
		h    *harness
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		mock = mock_kernel.NewMockKernel(ctrl)
		bus = kernel.NewBus()

		mock.EXPECT().Name().Return("mock").AnyTimes()
		mock.EXPECT().LanguageInfo().Return(kernel.LanguageInfo{Name: "mock", Version: "1.0"}).AnyTimes()
		mock.EXPECT().Subscribe().DoAndReturn(bus.Subscribe).AnyTimes()

		h = startHarness(newConnectionInfo(), newOptions(domain.IdlePolicyCompleted), mock, nil, nil)
	})

	AfterEach(func() {
		h.Stop()
		bus.Close()
	})

	It("should submit the code in the kernel's language", func() {
		mock.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd kernel.Command) error {
			submit, ok := cmd.(*kernel.SubmitCode)
			Expect(ok).To(BeTrue())
			Expect(submit.Code).To(Equal("return 1"))
			Expect(submit.TargetKernelName).To(Equal("mock"))
			Expect(submit.Token()).NotTo(BeEmpty())

			go func() {
				produced := &kernel.ReturnValueProduced{Value: map[string]interface{}{"a": 1}}
				produced.SetCommand(cmd)
				bus.Publish(produced)
				bus.Publish(kernel.NewCommandSucceeded(cmd))
			}()
			return nil
		})

		req := h.execute("return 1", false)

		messages := h.published(req, 1)
		result := decode[messaging.ExecuteResult](ofType(messages, messaging.IOExecuteResult)[0])
		Expect(result.Data).To(HaveKey("text/html"))
		Expect(result.Data).To(HaveKeyWithValue("text/plain", `{"a":1}`))

		reply := decode[messaging.ExecuteReply](h.reply(messaging.ShellMessage, req))
		Expect(reply.Status).To(Equal(messaging.MessageStatusOK))
	})

	It("should reply with an error if the kernel refuses the command", func() {
		mock.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(kernel.ErrKernelClosed)

		req := h.execute("return 1", false)

		reply := decode[messaging.ExecuteReply](h.reply(messaging.ShellMessage, req))
		Expect(reply.Status).To(Equal(messaging.MessageStatusError))
		Expect(reply.EName).To(Equal("SubmissionError"))
		Expect(reply.EValue).To(Equal(kernel.ErrKernelClosed.Error()))
	})

	It("should answer history_request with no entries without a store", func() {
		req := h.request(messaging.ShellMessage, messaging.ShellHistoryRequest, &messaging.HistoryRequest{HistAccessType: "tail", N: 5})

		reply := decode[messaging.HistoryReply](h.reply(messaging.ShellMessage, req))
		Expect(reply.Status).To(Equal(messaging.MessageStatusOK))
		Expect(reply.History).To(BeEmpty())
	})
})
