package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/queue"
)

// Handler is called for every event correlated with an OpenRequest, in the order the kernel published
// them. Calls for one request are sequential and happen on a goroutine owned by that request, never on
// the kernel's publishing goroutine.
//
// Returning an error for a non-terminal event abandons the request: it is removed from the Tracker and
// the Handler is called one last time with a synthesized CommandFailed event.
type Handler func(req *OpenRequest, event kernel.Event) error

// OpenRequest is the in-flight correlation state between a submitted command and its terminal event.
type OpenRequest struct {
	// Command is the submitted command. Its token is the key of the request.
	Command kernel.Command

	// Request is the Jupyter message that caused the command to be submitted.
	Request *messaging.JupyterMessage

	// ExecutionCount is the execution counter snapshot taken when the request was accepted.
	ExecutionCount int

	CreatedAt time.Time

	handler Handler
	mailbox *queue.Mailbox[kernel.Event]
	done    chan struct{}

	mu sync.Mutex
	// displayIds maps kernel value ids to the transient display ids published on the wire.
	displayIds map[string]string
}

func newOpenRequest(cmd kernel.Command, request *messaging.JupyterMessage, executionCount int, handler Handler) *OpenRequest {
	return &OpenRequest{
		Command:        cmd,
		Request:        request,
		ExecutionCount: executionCount,
		CreatedAt:      time.Now(),
		handler:        handler,
		mailbox:        queue.NewMailbox[kernel.Event](),
		done:           make(chan struct{}),
		displayIds:     make(map[string]string),
	}
}

// Token returns the command token keying this request.
func (r *OpenRequest) Token() string {
	return r.Command.Token()
}

// DisplayId returns the transient display id for a kernel value id, creating one on first use.
// An empty value id always yields a fresh display id.
func (r *OpenRequest) DisplayId(valueId string) string {
	if valueId == "" {
		return uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.displayIds[valueId]; ok {
		return id
	}
	id := uuid.NewString()
	r.displayIds[valueId] = id
	return id
}

// LookupDisplayId returns the transient display id previously assigned to a kernel value id.
func (r *OpenRequest) LookupDisplayId(valueId string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.displayIds[valueId]
	return id, ok
}

// Done is closed once the request has been disposed.
func (r *OpenRequest) Done() <-chan struct{} {
	return r.done
}
