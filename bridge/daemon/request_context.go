package daemon

import (
	"sync"

	"github.com/Scusemua/go-utils/logger"

	"github.com/scusemua/notebook-bridge/bridge/domain"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/utils"
)

// RequestContext carries a request through its handler. It sends replies on the channel the request
// arrived on, publishes on iopub, and owns the request's busy/idle pair.
//
// The dispatch loop publishes busy before invoking the handler. A handler that answers before returning
// leaves the idle to the dispatch loop. A handler whose reply depends on kernel events calls Defer, and
// later brackets the reply with BeginTerminal and EndTerminal.
type RequestContext struct {
	server *KernelServer

	Channel messaging.MessageType
	Request *messaging.JupyterMessage

	// deferred is only written by the dispatching goroutine before dispatched is closed.
	deferred   bool
	dispatched chan struct{}
	after      []func()
	endOnce    sync.Once
}

func newRequestContext(server *KernelServer, channel messaging.MessageType, request *messaging.JupyterMessage) *RequestContext {
	return &RequestContext{
		server:     server,
		Channel:    channel,
		Request:    request,
		dispatched: make(chan struct{}),
	}
}

// Reply sends a reply to the request on its channel.
func (rc *RequestContext) Reply(msgType string, content interface{}) error {
	msg, err := messaging.NewMessage(msgType, rc.Request, content)
	if err != nil {
		return err
	}
	return rc.server.router.Send(rc.Channel, msg)
}

// Publish broadcasts a message on iopub whose parent is the request.
func (rc *RequestContext) Publish(msgType string, content interface{}) error {
	msg, err := messaging.NewMessage(msgType, rc.Request, content)
	if err != nil {
		return err
	}
	msg.Identities = nil
	return rc.server.router.Publish(msg)
}

func (rc *RequestContext) PublishStatus(state string) {
	if err := rc.Publish(messaging.IOStatusMessage, &messaging.KernelStatus{ExecutionState: state}); err != nil {
		rc.server.log.Error(utils.RedStyle.Render("Failed to publish \"%s\" status for %v \"%s\" message %s: %v"),
			state, rc.Channel, rc.Request.JupyterMessageType(), rc.Request.JupyterMessageId(), err)
		return
	}

	if rc.server.log.GetLevel() == logger.LOG_LEVEL_ALL {
		rc.server.log.Debug("Published %s status for %v \"%s\" message %s.",
			utils.StatusStyle(state).Render(state), rc.Channel, rc.Request.JupyterMessageType(), rc.Request.JupyterMessageId())
	}
}

func (rc *RequestContext) PublishStream(name string, text string) error {
	return rc.Publish(messaging.IOStreamMessage, &messaging.StreamContent{Name: name, Text: text})
}

func (rc *RequestContext) PublishError(content *messaging.ErrorContent) error {
	return rc.Publish(messaging.IOErrorMessage, content)
}

// Defer marks the request as answered asynchronously.
func (rc *RequestContext) Defer() {
	rc.deferred = true
}

// After registers a function to run once the dispatch loop is done with the request, after its idle
// status has been published.
func (rc *RequestContext) After(fn func()) {
	rc.after = append(rc.after, fn)
}

// BeginTerminal waits until the dispatch loop has returned from the handler, then opens the busy period
// of the reply if the idle policy requires one.
func (rc *RequestContext) BeginTerminal() {
	<-rc.dispatched
	if rc.deferred && rc.server.opts.IdlePolicy == domain.IdlePolicyAccepted {
		rc.PublishStatus(messaging.MessageKernelStatusBusy)
	}
}

// EndTerminal publishes the idle status that closes a deferred request. It is a no-op for requests that
// were answered synchronously, and for every call after the first.
func (rc *RequestContext) EndTerminal() {
	if !rc.deferred {
		return
	}
	rc.endOnce.Do(func() {
		rc.PublishStatus(messaging.MessageKernelStatusIdle)
	})
}

// finishDispatch is called by the dispatch loop once the handler has returned.
func (rc *RequestContext) finishDispatch() {
	if !rc.deferred || rc.server.opts.IdlePolicy == domain.IdlePolicyAccepted {
		rc.PublishStatus(messaging.MessageKernelStatusIdle)
	}
	close(rc.dispatched)

	for _, fn := range rc.after {
		fn()
	}
}
