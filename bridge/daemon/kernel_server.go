package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	"github.com/petermattis/goid"

	"github.com/scusemua/notebook-bridge/bridge/domain"
	"github.com/scusemua/notebook-bridge/common/history"
	"github.com/scusemua/notebook-bridge/common/jupyter"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/jupyter/router"
	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/metrics"
	"github.com/scusemua/notebook-bridge/common/render"
	"github.com/scusemua/notebook-bridge/common/tracker"
	"github.com/scusemua/notebook-bridge/common/utils"
	"github.com/scusemua/notebook-bridge/common/utils/hashmap"
)

const (
	Implementation        = "notebook-bridge"
	ImplementationVersion = "0.1.0"

	quitTimeout = time.Second * 5
)

var (
	ErrUnexpectedEvent = errors.New("unexpected kernel event")
)

// MetricsProvider is the metrics sink of a KernelServer.
type MetricsProvider interface {
	metrics.MessagingMetricsProvider

	ExecuteRequestCompleted(status string)
	OpenRequestsChanged(open int)
}

// requestHandler handles one msg_type.
type requestHandler func(rc *RequestContext) error

// KernelServer serves a kernel over the Jupyter messaging protocol.
//
// Shell and control requests are dispatched through their own receive loops, one message at a time per
// channel. Commands submitted to the kernel are correlated with the events they cause by a Tracker;
// replies to those requests are sent from the Tracker's per-request goroutines.
type KernelServer struct {
	log logger.Logger

	opts     *domain.BridgeOptions
	ctx      context.Context
	cancel   context.CancelFunc
	kernel   kernel.Kernel
	router   *router.Router
	tracker  *tracker.Tracker
	renderer *render.Registry
	history  history.Store
	metrics  MetricsProvider
	counter  ExecutionCounter

	// session is the session id of the messages the server originates.
	session string

	// displayIds maps kernel value ids to the display ids published for them, across requests.
	displayIds *hashmap.SyncMap[string, string]

	shellHandlers   map[string]requestHandler
	controlHandlers map[string]requestHandler
}

// New creates a KernelServer for the kernel. The history store and the metrics provider are optional.
func New(ctx context.Context, connInfo *jupyter.ConnectionInfo, opts *domain.BridgeOptions, k kernel.Kernel,
	renderer *render.Registry, store history.Store, metricsProvider MetricsProvider) (*KernelServer, error) {

	if renderer == nil {
		renderer = render.Default()
	}

	s := &KernelServer{
		opts:       opts,
		kernel:     k,
		renderer:   renderer,
		history:    store,
		metrics:    metricsProvider,
		session:    opts.Session,
		displayIds: hashmap.NewSyncMap[string, string](),
	}
	if s.session == "" {
		s.session = uuid.NewString()
	}
	config.InitLogger(&s.log, s)

	s.ctx, s.cancel = context.WithCancel(ctx)

	var messagingMetrics metrics.MessagingMetricsProvider
	var trackerMetrics tracker.MetricsProvider
	if metricsProvider != nil {
		messagingMetrics = metricsProvider
		trackerMetrics = metricsProvider
	}

	var err error
	s.router, err = router.New(s.ctx, connInfo, s, opts.SignaturePolicy, messagingMetrics)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.tracker = tracker.New(k, trackerMetrics)

	s.shellHandlers = map[string]requestHandler{
		messaging.ShellKernelInfoRequest: s.handleKernelInfoRequest,
		messaging.ShellExecuteRequest:    s.handleExecuteRequest,
		messaging.ShellCompleteRequest:   s.handleCompleteRequest,
		messaging.ShellIsCompleteRequest: s.handleIsCompleteRequest,
		messaging.ShellHistoryRequest:    s.handleHistoryRequest,
		messaging.ShellCommInfoRequest:   s.handleCommInfoRequest,
		messaging.ShellShutdownRequest:   s.handleShutdownRequest,
		messaging.CommOpen:               s.handleCommMessage,
		messaging.CommMsg:                s.handleCommMessage,
		messaging.CommClose:              s.handleCommMessage,
	}
	s.controlHandlers = map[string]requestHandler{
		messaging.ShellKernelInfoRequest:  s.handleKernelInfoRequest,
		messaging.ShellShutdownRequest:    s.handleShutdownRequest,
		messaging.ControlInterruptRequest: s.handleInterruptRequest,
	}

	return s, nil
}

func (s *KernelServer) String() string {
	return "KernelServer[" + s.kernel.Name() + "]"
}

// Start serves the kernel until the server is closed, its context is cancelled, or a client requests a
// shutdown.
func (s *KernelServer) Start() error {
	s.tracker.Start(s.ctx)
	defer func() {
		_ = s.tracker.Close()
	}()

	s.log.Info("Starting %s kernel server with session %s and idle policy \"%s\".", s.kernel.Name(), s.session, s.opts.IdlePolicy)
	return s.router.Start()
}

// Ready is closed once every socket is listening.
func (s *KernelServer) Ready() <-chan struct{} {
	return s.router.Ready()
}

// Done is closed once the server has been asked to stop.
func (s *KernelServer) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Ports returns the bound port of every channel.
func (s *KernelServer) Ports() map[messaging.MessageType]int {
	return s.router.Ports()
}

// ExecutionCount returns the count of the last non-silent execution.
func (s *KernelServer) ExecutionCount() int {
	return s.counter.Current()
}

func (s *KernelServer) Close() error {
	s.cancel()
	return nil
}

// Provider implementations.

func (s *KernelServer) ShellHandler(_ router.Info, msg *messaging.JupyterMessage) error {
	return s.dispatch(messaging.ShellMessage, msg, s.shellHandlers)
}

func (s *KernelServer) ControlHandler(_ router.Info, msg *messaging.JupyterMessage) error {
	return s.dispatch(messaging.ControlMessage, msg, s.controlHandlers)
}

func (s *KernelServer) StdinHandler(_ router.Info, msg *messaging.JupyterMessage) error {
	// The kernel never asks for input, so nothing on stdin is expected.
	s.log.Warn("Ignoring unexpected stdin \"%s\" message %s.", msg.JupyterMessageType(), msg.JupyterMessageId())
	return nil
}

// dispatch wraps the handler of the message's type in a busy/idle pair.
func (s *KernelServer) dispatch(typ messaging.MessageType, msg *messaging.JupyterMessage, handlers map[string]requestHandler) error {
	start := time.Now()
	msgType := msg.JupyterMessageType()
	s.log.Debug("[gid=%d] Handling %v \"%s\" message %s.", goid.Get(), typ, msgType, msg.JupyterMessageId())

	rc := newRequestContext(s, typ, msg)
	rc.PublishStatus(messaging.MessageKernelStatusBusy)

	if handler, ok := handlers[msgType]; ok {
		if err := handler(rc); err != nil {
			s.log.Error(utils.RedStyle.Render("Failed to handle %v \"%s\" message %s: %v"), typ, msgType, msg.JupyterMessageId(), err)
		}
	} else {
		s.log.Warn("No handler for %v \"%s\" message %s.", typ, msgType, msg.JupyterMessageId())
	}

	rc.finishDispatch()

	if s.metrics != nil {
		_ = s.metrics.HandledMessage(typ, msgType, time.Since(start))
	}
	return nil
}

// track registers the command with the tracker and submits it to the kernel. If either step fails the
// command is not left open.
func (s *KernelServer) track(rc *RequestContext, cmd kernel.Command, executionCount int, handler tracker.Handler) error {
	kernel.EnsureToken(cmd)
	if _, err := s.tracker.Track(cmd, rc.Request, executionCount, handler); err != nil {
		return err
	}

	if err := s.kernel.Submit(s.ctx, cmd); err != nil {
		s.tracker.Forget(cmd.Token())
		return err
	}

	rc.Defer()
	return nil
}

// shutdown asks the kernel to quit and stops the server.
func (s *KernelServer) shutdown() {
	s.log.Info("Shutting down %s kernel server.", s.kernel.Name())

	ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()

	quit := &kernel.Quit{}
	kernel.EnsureToken(quit)
	if err := s.kernel.Submit(ctx, quit); err != nil && !errors.Is(err, kernel.ErrKernelClosed) {
		s.log.Warn("Failed to ask the kernel to quit: %v", err)
	}

	s.cancel()
}
