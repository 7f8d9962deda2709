package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"golang.org/x/sync/errgroup"

	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/utils"
	"github.com/scusemua/notebook-bridge/common/utils/hashmap"
)

const (
	// ContractViolation is the ErrorName of failures synthesized for abandoned requests.
	ContractViolation = "ContractViolation"

	defaultShards = 16
)

// EventSource is the part of a kernel the Tracker depends on.
type EventSource interface {
	Subscribe() *kernel.Subscription
}

// MetricsProvider receives the number of open requests whenever it changes.
type MetricsProvider interface {
	OpenRequestsChanged(open int)
}

// Tracker correlates kernel events with open requests.
//
// The Tracker holds a single subscription to the kernel's event stream. Events are matched to open
// requests by the token of their command and handed to a per-request goroutine; events for commands
// that are not tracked are discarded. The terminal event of a command removes its request, so a second
// terminal event for the same command is a no-op.
type Tracker struct {
	log logger.Logger

	source  EventSource
	metrics MetricsProvider

	// requests maps command tokens to open requests.
	requests hashmap.HashMap[string, *OpenRequest]

	mu     sync.Mutex
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	sub    *kernel.Subscription
}

func New(source EventSource, metrics MetricsProvider) *Tracker {
	t := &Tracker{
		source:   source,
		metrics:  metrics,
		requests: hashmap.NewConcurrentMap[*OpenRequest](defaultShards),
	}
	config.InitLogger(&t.log, t)
	return t
}

// Start subscribes to the event source and begins routing events. Start is a no-op if the Tracker is
// already running.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.group != nil {
		return
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.group, t.ctx = errgroup.WithContext(ctx)
	t.sub = t.source.Subscribe()

	sub := t.sub
	t.group.Go(func() error {
		return t.route(t.ctx, sub)
	})
}

// Track registers an open request for the command. The command must already carry a token.
func (t *Tracker) Track(cmd kernel.Command, request *messaging.JupyterMessage, executionCount int, handler Handler) (*OpenRequest, error) {
	token := cmd.Token()
	if token == "" {
		return nil, ErrMissingToken
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.group == nil || t.ctx.Err() != nil {
		return nil, ErrTrackerNotRunning
	}

	req := newOpenRequest(cmd, request, executionCount, handler)
	if _, loaded := t.requests.LoadOrStore(token, req); loaded {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, token)
	}
	t.reportOpen()

	ctx := t.ctx
	t.group.Go(func() error {
		return t.serve(ctx, req)
	})

	t.log.Debug("Tracking %s command %s (execution count %d).", cmd.CommandType(), token, executionCount)
	return req, nil
}

// Forget removes an open request without invoking its handler, e.g. because the command was rejected
// on submission. Forget returns false if the request was not open.
func (t *Tracker) Forget(token string) bool {
	req, ok := t.requests.LoadAndDelete(token)
	if !ok {
		return false
	}
	req.mailbox.Close(false)
	t.reportOpen()
	return true
}

// IsTracked returns true if there is an open request for the token.
func (t *Tracker) IsTracked(token string) bool {
	_, ok := t.requests.Load(token)
	return ok
}

// Len returns the number of open requests.
func (t *Tracker) Len() int {
	return t.requests.Len()
}

// Close stops routing events and waits for every request goroutine to exit. Requests that are still
// open are abandoned without a terminal callback.
func (t *Tracker) Close() error {
	t.mu.Lock()
	group, cancel, sub := t.group, t.cancel, t.sub
	t.mu.Unlock()

	if group == nil {
		return nil
	}

	sub.Unsubscribe()
	cancel()
	return group.Wait()
}

func (t *Tracker) reportOpen() {
	if t.metrics != nil {
		t.metrics.OpenRequestsChanged(t.requests.Len())
	}
}

// route matches events from the subscription to open requests. It never blocks on a request.
func (t *Tracker) route(ctx context.Context, sub *kernel.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}

			token := kernel.Token(e)
			if token == "" {
				t.log.Debug("Discarding %s event without a command.", e.EventType())
				continue
			}

			var (
				req   *OpenRequest
				found bool
			)
			terminal := kernel.IsTerminal(e)
			if terminal {
				// Removing on the routing goroutine makes a duplicate terminal event find nothing.
				req, found = t.requests.LoadAndDelete(token)
			} else {
				req, found = t.requests.Load(token)
			}

			if !found {
				t.log.Debug("Discarding %s event for untracked command %s.", e.EventType(), token)
				continue
			}

			req.mailbox.Put(e)
			if terminal {
				req.mailbox.Close(true)
				t.reportOpen()
			}
		}
	}
}

// serve delivers events to the request's handler until the terminal event has been handled.
func (t *Tracker) serve(ctx context.Context, req *OpenRequest) error {
	defer close(req.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-req.mailbox.Out():
			if !ok {
				return nil
			}

			err := t.invoke(req, e)
			if kernel.IsTerminal(e) {
				if err != nil {
					t.log.Error(utils.RedStyle.Render("Handler failed on terminal %s event for command %s: %v"), e.EventType(), req.Token(), err)
				}
				t.log.Debug("Disposed of open request for command %s.", req.Token())
				return nil
			}

			if err == nil {
				continue
			}

			t.log.Error(utils.RedStyle.Render("Abandoning open request for command %s after %s event: %v"), req.Token(), e.EventType(), err)
			if _, removed := t.requests.LoadAndDelete(req.Token()); !removed {
				// The terminal event has already been routed; let it be handled normally.
				continue
			}
			req.mailbox.Close(false)
			t.reportOpen()

			failure := kernel.NewCommandFailed(req.Command, fmt.Sprintf("%v: %s: %v", ErrUnexpectedEvent, e.EventType(), err))
			failure.ErrorName = ContractViolation
			if err := t.invoke(req, failure); err != nil {
				t.log.Error(utils.RedStyle.Render("Handler failed on synthesized failure for command %s: %v"), req.Token(), err)
			}
			return nil
		}
	}
}

// invoke calls the request's handler, converting a panic into ErrHandlerPanic.
func (t *Tracker) invoke(req *OpenRequest, e kernel.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error(utils.RedStyle.Render("Recovered from panic while handling %s event for command %s: %v"), e.EventType(), req.Token(), r)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return req.handler(req, e)
}
