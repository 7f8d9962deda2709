package luakernel_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/kernel/luakernel"
)

// collect returns the events caused by cmd, up to and including its terminal event.
func collect(sub *kernel.Subscription, cmd kernel.Command) []kernel.Event {
	var events []kernel.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				Fail("subscription closed before the terminal event")
			}
			if kernel.Token(e) != cmd.Token() {
				continue
			}
			events = append(events, e)
			if kernel.IsTerminal(e) {
				return events
			}
		case <-timeout:
			Fail("timed out waiting for the terminal event")
		}
	}
}

func run(k *luakernel.Kernel, sub *kernel.Subscription, code string) []kernel.Event {
	cmd := kernel.NewSubmitCode(code, luakernel.KernelName)
	Expect(k.Submit(context.Background(), cmd)).To(Succeed())
	return collect(sub, cmd)
}

func last(events []kernel.Event) kernel.Event {
	return events[len(events)-1]
}

func find[E kernel.Event](events []kernel.Event) []E {
	var found []E
	for _, e := range events {
		if typed, ok := e.(E); ok {
			found = append(found, typed)
		}
	}
	return found
}

var _ = Describe("Kernel", func() {
	var (
		k   *luakernel.Kernel
		sub *kernel.Subscription
	)

	BeforeEach(func() {
		k = luakernel.New()
		sub = k.Subscribe()
	})

	AfterEach(func() {
		Expect(k.Close()).To(Succeed())
	})

	It("will evaluate an expression to a return value", func() {
		events := run(k, sub, "1+1")

		Expect(events[0]).To(BeAssignableToTypeOf(&kernel.CodeSubmissionReceived{}))
		Expect(events[1]).To(BeAssignableToTypeOf(&kernel.CompleteCodeSubmissionReceived{}))
		values := find[*kernel.ReturnValueProduced](events)
		Expect(values).To(HaveLen(1))
		Expect(values[0].Value).To(Equal(int64(2)))
		Expect(last(events)).To(BeAssignableToTypeOf(&kernel.CommandSucceeded{}))
	})

	It("will keep state between submissions", func() {
		events := run(k, sub, "x = 21")
		Expect(find[*kernel.ReturnValueProduced](events)).To(BeEmpty())
		Expect(last(events)).To(BeAssignableToTypeOf(&kernel.CommandSucceeded{}))

		events = run(k, sub, "x * 2.5")
		values := find[*kernel.ReturnValueProduced](events)
		Expect(values).To(HaveLen(1))
		Expect(values[0].Value).To(Equal(52.5))
	})

	It("will convert tables", func() {
		values := find[*kernel.ReturnValueProduced](run(k, sub, "{1, 'two', true}"))
		Expect(values[0].Value).To(Equal([]interface{}{int64(1), "two", true}))

		values = find[*kernel.ReturnValueProduced](run(k, sub, "{a = 1, b = {2}}"))
		Expect(values[0].Value).To(Equal(map[string]interface{}{"a": int64(1), "b": []interface{}{int64(2)}}))

		values = find[*kernel.ReturnValueProduced](run(k, sub, "1, nil"))
		Expect(values[0].Value).To(Equal([]interface{}{int64(1), nil}))
	})

	It("will stop converting cyclic tables", func() {
		events := run(k, sub, "(function() local t = {} t.self = t return t end)()")
		Expect(last(events)).To(BeAssignableToTypeOf(&kernel.CommandSucceeded{}))
		Expect(find[*kernel.ReturnValueProduced](events)).To(HaveLen(1))
	})

	It("will report printed output", func() {
		events := run(k, sub, "print('hello', 42) io.write('a', 'b')")
		output := find[*kernel.StandardOutputValueProduced](events)
		Expect(output).To(HaveLen(2))
		Expect(output[0].Text).To(Equal("hello\t42\n"))
		Expect(output[1].Text).To(Equal("ab"))
	})

	It("will report displayed and updated values", func() {
		events := run(k, sub, "local id = display('first') update_display(id, 'second')")
		displayed := find[*kernel.DisplayedValueProduced](events)
		updated := find[*kernel.DisplayedValueUpdated](events)
		Expect(displayed).To(HaveLen(1))
		Expect(updated).To(HaveLen(1))
		Expect(displayed[0].Value).To(Equal("first"))
		Expect(updated[0].Value).To(Equal("second"))
		Expect(updated[0].ValueId).To(Equal(displayed[0].ValueId))
	})

	It("will fail on runtime errors", func() {
		events := run(k, sub, "error('boom')")
		failure, ok := last(events).(*kernel.CommandFailed)
		Expect(ok).To(BeTrue())
		Expect(failure.ErrorName).To(Equal(luakernel.ErrorNameRuntime))
		Expect(failure.Message).To(ContainSubstring("boom"))
	})

	It("will fail on syntax errors and incomplete code", func() {
		events := run(k, sub, "x = = 1")
		failure := last(events).(*kernel.CommandFailed)
		Expect(failure.ErrorName).To(Equal(luakernel.ErrorNameSyntax))

		events = run(k, sub, "for i = 1, 3 do")
		Expect(find[*kernel.IncompleteCodeSubmissionReceived](events)).To(HaveLen(1))
		Expect(last(events).(*kernel.CommandFailed).ErrorName).To(Equal(luakernel.ErrorNameSyntax))
	})

	It("will diagnose code without running it", func() {
		cmd := kernel.NewSubmitCode("y = 1", luakernel.KernelName)
		cmd.SubmissionType = kernel.SubmissionDiagnose
		Expect(k.Submit(context.Background(), cmd)).To(Succeed())
		events := collect(sub, cmd)
		Expect(find[*kernel.CompleteCodeSubmissionReceived](events)).To(HaveLen(1))
		Expect(last(events)).To(BeAssignableToTypeOf(&kernel.CommandSucceeded{}))

		values := find[*kernel.ReturnValueProduced](run(k, sub, "y"))
		Expect(values[0].Value).To(BeNil())

		cmd = kernel.NewSubmitCode("if true then", luakernel.KernelName)
		cmd.SubmissionType = kernel.SubmissionDiagnose
		Expect(k.Submit(context.Background(), cmd)).To(Succeed())
		events = collect(sub, cmd)
		Expect(find[*kernel.IncompleteCodeSubmissionReceived](events)).To(HaveLen(1))

		diagnostics := &kernel.RequestDiagnostics{Code: "local = 3"}
		Expect(k.Submit(context.Background(), diagnostics)).To(Succeed())
		produced := find[*kernel.DiagnosticsProduced](collect(sub, diagnostics))
		Expect(produced).To(HaveLen(1))
		Expect(produced[0].HasErrors()).To(BeTrue())
		Expect(produced[0].Diagnostics[0].Line).To(Equal(1))
	})

	It("will complete globals, fields and keywords", func() {
		run(k, sub, "my_value = 1")

		cmd := &kernel.RequestCompletion{Code: "x = my_v", CursorPosition: 8}
		Expect(k.Submit(context.Background(), cmd)).To(Succeed())
		completions := find[*kernel.CompletionsProduced](collect(sub, cmd))[0]
		Expect(completions.ReplacementStart).To(Equal(4))
		Expect(completions.ReplacementEnd).To(Equal(8))
		Expect(completions.Completions).To(ContainElement(kernel.CompletionItem{DisplayText: "my_value", InsertText: "my_value", Kind: luakernel.CompletionVariable}))

		cmd = &kernel.RequestCompletion{Code: "string.fo", CursorPosition: 9}
		Expect(k.Submit(context.Background(), cmd)).To(Succeed())
		completions = find[*kernel.CompletionsProduced](collect(sub, cmd))[0]
		Expect(completions.ReplacementStart).To(Equal(7))
		Expect(completions.Completions).To(ContainElement(kernel.CompletionItem{DisplayText: "format", InsertText: "format", Kind: luakernel.CompletionFunction}))

		cmd = &kernel.RequestCompletion{Code: "whi", CursorPosition: 3}
		Expect(k.Submit(context.Background(), cmd)).To(Succeed())
		completions = find[*kernel.CompletionsProduced](collect(sub, cmd))[0]
		Expect(completions.Completions).To(ContainElement(kernel.CompletionItem{DisplayText: "while", InsertText: "while", Kind: luakernel.CompletionKeyword}))
	})

	It("will interrupt a running chunk", func() {
		cmd := kernel.NewSubmitCode("while true do end", luakernel.KernelName)
		Expect(k.Submit(context.Background(), cmd)).To(Succeed())
		Eventually(sub.Events()).Should(Receive(BeAssignableToTypeOf(&kernel.CompleteCodeSubmissionReceived{})))

		cancel := &kernel.CancelCurrentCommand{}
		Expect(k.Submit(context.Background(), cancel)).To(Succeed())

		failure := last(collect(sub, cmd)).(*kernel.CommandFailed)
		Expect(failure.ErrorName).To(Equal(luakernel.ErrorNameInterrupted))

		Expect(last(run(k, sub, "1"))).To(BeAssignableToTypeOf(&kernel.CommandSucceeded{}))
	})

	It("will reject commands it cannot run", func() {
		err := k.Submit(context.Background(), kernel.NewSubmitCode("1", "python"))
		Expect(errors.Is(err, kernel.ErrUnsupportedLanguage)).To(BeTrue())

		err = k.Submit(context.Background(), &kernel.RequestSignatureHelp{Code: "f("})
		Expect(errors.Is(err, kernel.ErrNotSupported)).To(BeTrue())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(k.Submit(ctx, kernel.NewSubmitCode("1", ""))).To(MatchError(context.Canceled))
	})

	It("will stop after quitting", func() {
		quit := &kernel.Quit{}
		Expect(k.Submit(context.Background(), quit)).To(Succeed())
		Expect(last(collect(sub, quit))).To(BeAssignableToTypeOf(&kernel.CommandSucceeded{}))
		Eventually(sub.Events()).Should(BeClosed())

		err := k.Submit(context.Background(), kernel.NewSubmitCode("1", ""))
		Expect(errors.Is(err, kernel.ErrKernelClosed)).To(BeTrue())
	})
})
