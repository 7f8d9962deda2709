package tracker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/tracker"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []kernel.Event
	fail   func(kernel.Event) error
}

func (h *recordingHandler) handle(_ *tracker.OpenRequest, e kernel.Event) error {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()

	if h.fail != nil {
		return h.fail(e)
	}
	return nil
}

func (h *recordingHandler) Events() []kernel.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]kernel.Event(nil), h.events...)
}

type openGauge struct {
	last atomic.Int64
}

func (g *openGauge) OpenRequestsChanged(open int) {
	g.last.Store(int64(open))
}

func submitCode(code string) *kernel.SubmitCode {
	cmd := kernel.NewSubmitCode(code, "lua")
	kernel.EnsureToken(cmd)
	return cmd
}

func withCommand[E kernel.Event](e E, cmd kernel.Command) E {
	e.SetCommand(cmd)
	return e
}

var _ = Describe("Tracker", func() {
	var (
		bus     *kernel.Bus
		tracked *tracker.Tracker
		gauge   *openGauge
	)

	BeforeEach(func() {
		bus = kernel.NewBus()
		gauge = &openGauge{}
		tracked = tracker.New(bus, gauge)
		tracked.Start(context.Background())
	})

	AfterEach(func() {
		Expect(tracked.Close()).To(Succeed())
		bus.Close()
	})

	It("will dispose of a request exactly once on its terminal event", func() {
		cmd := submitCode("1+1")
		handler := &recordingHandler{}

		req, err := tracked.Track(cmd, nil, 1, handler.handle)
		Expect(err).To(BeNil())
		Expect(req.ExecutionCount).To(Equal(1))
		Expect(tracked.IsTracked(cmd.Token())).To(BeTrue())
		Expect(gauge.last.Load()).To(Equal(int64(1)))

		bus.Publish(withCommand(&kernel.CodeSubmissionReceived{Code: "1+1"}, cmd))
		bus.Publish(withCommand(&kernel.ReturnValueProduced{Value: int64(2)}, cmd))
		bus.Publish(kernel.NewCommandSucceeded(cmd))
		bus.Publish(kernel.NewCommandSucceeded(cmd))

		Eventually(req.Done()).Should(BeClosed())
		Expect(tracked.IsTracked(cmd.Token())).To(BeFalse())
		Expect(tracked.Len()).To(Equal(0))
		Eventually(gauge.last.Load).Should(Equal(int64(0)))

		Consistently(func() int { return len(handler.Events()) }).Should(Equal(3))
		events := handler.Events()
		Expect(events[0]).To(BeAssignableToTypeOf(&kernel.CodeSubmissionReceived{}))
		Expect(events[1]).To(BeAssignableToTypeOf(&kernel.ReturnValueProduced{}))
		Expect(events[2]).To(BeAssignableToTypeOf(&kernel.CommandSucceeded{}))
	})

	It("will discard events of untracked commands", func() {
		cmd := submitCode("x")
		handler := &recordingHandler{}
		_, err := tracked.Track(cmd, nil, 1, handler.handle)
		Expect(err).To(BeNil())

		other := submitCode("y")
		bus.Publish(withCommand(&kernel.StandardOutputValueProduced{Text: "not mine"}, other))
		bus.Publish(kernel.NewCommandFailed(other, "not mine either"))
		bus.Publish(&kernel.StandardOutputValueProduced{Text: "no command at all"})
		bus.Publish(kernel.NewCommandSucceeded(cmd))

		Eventually(func() int { return len(handler.Events()) }).Should(Equal(1))
		Consistently(func() int { return len(handler.Events()) }).Should(Equal(1))
		Expect(handler.Events()[0]).To(BeAssignableToTypeOf(&kernel.CommandSucceeded{}))
	})

	It("will abandon a request whose handler rejects an event", func() {
		cmd := submitCode("x")
		handler := &recordingHandler{fail: func(e kernel.Event) error {
			if _, ok := e.(*kernel.CompletionsProduced); ok {
				return errors.New("execute requests do not expect completions")
			}
			return nil
		}}
		req, err := tracked.Track(cmd, nil, 1, handler.handle)
		Expect(err).To(BeNil())

		bus.Publish(withCommand(&kernel.CompletionsProduced{}, cmd))
		Eventually(req.Done()).Should(BeClosed())
		Expect(tracked.IsTracked(cmd.Token())).To(BeFalse())

		events := handler.Events()
		Expect(events).To(HaveLen(2))
		failure, ok := events[1].(*kernel.CommandFailed)
		Expect(ok).To(BeTrue())
		Expect(failure.ErrorName).To(Equal(tracker.ContractViolation))
		Expect(failure.Command()).To(BeIdenticalTo(kernel.Command(cmd)))

		// The real terminal event arrives later and finds nothing.
		bus.Publish(kernel.NewCommandSucceeded(cmd))
		Consistently(func() int { return len(handler.Events()) }).Should(Equal(2))
	})

	It("will fail a request whose handler panics", func() {
		cmd := submitCode("x")
		handler := &recordingHandler{fail: func(e kernel.Event) error {
			if _, ok := e.(*kernel.ReturnValueProduced); ok {
				panic("cannot render value")
			}
			return nil
		}}
		req, err := tracked.Track(cmd, nil, 1, handler.handle)
		Expect(err).To(BeNil())

		bus.Publish(withCommand(&kernel.ReturnValueProduced{Value: 1}, cmd))
		Eventually(req.Done()).Should(BeClosed())
		Expect(tracked.IsTracked(cmd.Token())).To(BeFalse())

		events := handler.Events()
		Expect(events).To(HaveLen(2))
		failure, ok := events[1].(*kernel.CommandFailed)
		Expect(ok).To(BeTrue())
		Expect(failure.ErrorName).To(Equal(tracker.ContractViolation))
		Expect(failure.Message).To(ContainSubstring("cannot render value"))

		// Later events for the same command do not reach the handler.
		bus.Publish(kernel.NewCommandSucceeded(cmd))
		Consistently(func() int { return len(handler.Events()) }).Should(Equal(2))
	})

	It("will survive a handler that panics on a terminal event", func() {
		cmd := submitCode("x")
		handler := &recordingHandler{fail: func(kernel.Event) error { panic("terminal") }}
		req, err := tracked.Track(cmd, nil, 1, handler.handle)
		Expect(err).To(BeNil())

		bus.Publish(kernel.NewCommandSucceeded(cmd))
		Eventually(req.Done()).Should(BeClosed())
		Expect(tracked.IsTracked(cmd.Token())).To(BeFalse())

		next := submitCode("y")
		other := &recordingHandler{}
		_, err = tracked.Track(next, nil, 2, other.handle)
		Expect(err).To(BeNil())
		bus.Publish(kernel.NewCommandSucceeded(next))
		Eventually(func() int { return len(other.Events()) }).Should(Equal(1))
	})

	It("will forget a request without calling its handler", func() {
		cmd := submitCode("x")
		handler := &recordingHandler{}
		req, err := tracked.Track(cmd, nil, 0, handler.handle)
		Expect(err).To(BeNil())

		Expect(tracked.Forget(cmd.Token())).To(BeTrue())
		Expect(tracked.Forget(cmd.Token())).To(BeFalse())
		Eventually(req.Done()).Should(BeClosed())

		bus.Publish(kernel.NewCommandSucceeded(cmd))
		Consistently(func() int { return len(handler.Events()) }).Should(Equal(0))
	})

	It("will reject duplicate and token-less commands", func() {
		cmd := submitCode("x")
		_, err := tracked.Track(cmd, nil, 0, (&recordingHandler{}).handle)
		Expect(err).To(BeNil())

		_, err = tracked.Track(cmd, nil, 0, (&recordingHandler{}).handle)
		Expect(errors.Is(err, tracker.ErrDuplicateRequest)).To(BeTrue())

		_, err = tracked.Track(kernel.NewSubmitCode("y", "lua"), nil, 0, (&recordingHandler{}).handle)
		Expect(errors.Is(err, tracker.ErrMissingToken)).To(BeTrue())
	})

	It("will keep concurrent requests apart", func() {
		const n = 25
		handlers := make([]*recordingHandler, n)
		cmds := make([]*kernel.SubmitCode, n)
		requests := make([]*tracker.OpenRequest, n)
		for i := 0; i < n; i++ {
			handlers[i] = &recordingHandler{}
			cmds[i] = submitCode(fmt.Sprintf("x%d", i))
			req, err := tracked.Track(cmds[i], nil, i+1, handlers[i].handle)
			Expect(err).To(BeNil())
			requests[i] = req
		}
		Expect(tracked.Len()).To(Equal(n))

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					bus.Publish(withCommand(&kernel.StandardOutputValueProduced{Text: fmt.Sprintf("%d", j)}, cmds[i]))
				}
				bus.Publish(kernel.NewCommandSucceeded(cmds[i]))
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			Eventually(requests[i].Done()).Should(BeClosed())
			events := handlers[i].Events()
			Expect(events).To(HaveLen(11))
			for j := 0; j < 10; j++ {
				Expect(events[j].(*kernel.StandardOutputValueProduced).Text).To(Equal(fmt.Sprintf("%d", j)))
			}
		}
		Expect(tracked.Len()).To(Equal(0))
	})

	It("will map kernel value ids to stable display ids", func() {
		cmd := submitCode("x")
		req, err := tracked.Track(cmd, nil, 0, (&recordingHandler{}).handle)
		Expect(err).To(BeNil())

		id := req.DisplayId("value-1")
		Expect(id).ToNot(BeEmpty())
		Expect(req.DisplayId("value-1")).To(Equal(id))
		Expect(req.DisplayId("value-2")).ToNot(Equal(id))
		Expect(req.DisplayId("")).ToNot(Equal(req.DisplayId("")))

		found, ok := req.LookupDisplayId("value-1")
		Expect(ok).To(BeTrue())
		Expect(found).To(Equal(id))
	})

	It("will refuse to track after being closed", func() {
		Expect(tracked.Close()).To(Succeed())
		_, err := tracked.Track(submitCode("x"), nil, 0, (&recordingHandler{}).handle)
		Expect(errors.Is(err, tracker.ErrTrackerNotRunning)).To(BeTrue())
	})
})
