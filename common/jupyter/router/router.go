package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"

	"github.com/scusemua/notebook-bridge/common/jupyter"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/jupyter/server"
	"github.com/scusemua/notebook-bridge/common/metrics"
	"github.com/scusemua/notebook-bridge/common/utils"
)

const (
	// SignaturePolicyStrict drops messages whose signature does not verify.
	SignaturePolicyStrict = "strict"
	// SignaturePolicyWarn logs messages whose signature does not verify and handles them anyway.
	SignaturePolicyWarn = "warn"

	socketTimeout = time.Millisecond * 3500
)

var (
	// ErrStopPropagation may be returned by a handler added with AddHandler to skip the handlers added before it.
	ErrStopPropagation = errors.New("stop propagation")

	ErrUnknownSignaturePolicy = errors.New("unknown signature policy")
)

// MessageHandler defines the interface of messages that a JupyterRouter can intercept and handle.
type MessageHandler func(Info, *messaging.JupyterMessage) error

type Info interface {
	messaging.JupyterServerInfo
}

// Provider defines the interface to provide handlers for a JupyterRouter.
type Provider interface {
	ControlHandler(Info, *messaging.JupyterMessage) error

	ShellHandler(Info, *messaging.JupyterMessage) error

	StdinHandler(Info, *messaging.JupyterMessage) error
}

// Router binds the five endpoints of a kernel connection. Incoming messages on shell, control and stdin are
// parsed, checked against the signing key and passed to the handler registered for the channel; heartbeat
// messages are echoed. Outgoing messages are signed with the same key.
type Router struct {
	*server.BaseServer
	server *server.AbstractServer

	name string // Identifies the router server.

	log logger.Logger

	signer          *messaging.Signer
	signaturePolicy string

	// handlers
	handlers []MessageHandler

	ready     chan struct{}
	readyOnce sync.Once
}

func New(ctx context.Context, opts *jupyter.ConnectionInfo, provider Provider, signaturePolicy string,
	metricsProvider metrics.MessagingMetricsProvider) (*Router, error) {

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	switch signaturePolicy {
	case SignaturePolicyStrict, SignaturePolicyWarn:
	case "":
		signaturePolicy = SignaturePolicyStrict
	default:
		return nil, fmt.Errorf("%w: \"%s\"", ErrUnknownSignaturePolicy, signaturePolicy)
	}

	signer, err := messaging.NewSignerFromConnectionInfo(opts)
	if err != nil {
		return nil, err
	}

	name := opts.KernelName
	if name == "" {
		name = "kernel"
	}

	router := &Router{
		name:            name,
		signer:          signer,
		signaturePolicy: signaturePolicy,
		ready:           make(chan struct{}),
		server: server.New(ctx, opts, func(s *server.AbstractServer) {
			// We do not set handlers of the sockets here. Server routine will be started using a shared handler.
			s.Sockets.HB = messaging.NewSocket(zmq4.NewRep(s.Ctx, zmq4.WithTimeout(socketTimeout)), opts.HBPort, messaging.HBMessage, fmt.Sprintf("Router-Rep-HB[%s]", name))
			s.Sockets.Control = messaging.NewSocket(zmq4.NewRouter(s.Ctx, zmq4.WithTimeout(socketTimeout)), opts.ControlPort, messaging.ControlMessage, fmt.Sprintf("Router-Router-Ctrl[%s]", name))
			s.Sockets.Shell = messaging.NewSocket(zmq4.NewRouter(s.Ctx, zmq4.WithTimeout(socketTimeout)), opts.ShellPort, messaging.ShellMessage, fmt.Sprintf("Router-Router-Shell[%s]", name))
			s.Sockets.Stdin = messaging.NewSocket(zmq4.NewRouter(s.Ctx, zmq4.WithTimeout(socketTimeout)), opts.StdinPort, messaging.StdinMessage, fmt.Sprintf("Router-Router-Stdin[%s]", name))
			s.Sockets.IO = messaging.NewSocket(zmq4.NewPub(s.Ctx, zmq4.WithTimeout(socketTimeout)), opts.IOPubPort, messaging.IOMessage, fmt.Sprintf("Router-Pub-IO[%s]", name))
			s.MessagingMetricsProvider = metricsProvider
			s.Name = fmt.Sprintf("Router[%s] ", name)
			config.InitLogger(&s.Log, s.Name)
		}),
	}
	router.BaseServer = router.server.Server()
	router.handlers = make([]MessageHandler, len(router.server.Sockets.All))
	if provider != nil {
		router.AddHandler(messaging.ControlMessage, provider.ControlHandler)
		router.AddHandler(messaging.ShellMessage, provider.ShellHandler)
		router.AddHandler(messaging.StdinMessage, provider.StdinHandler)
	}

	config.InitLogger(&router.log, router)
	return router, nil
}

func (g *Router) ConnectionInfo() *jupyter.ConnectionInfo {
	return g.server.Meta
}

// Signer returns the signer used for incoming and outgoing messages.
func (g *Router) Signer() *messaging.Signer {
	return g.signer
}

// String returns the information for logging.
func (g *Router) String() string {
	return "router"
}

func (g *Router) Name() string {
	return g.name
}

// Ready is closed once every socket is listening.
func (g *Router) Ready() <-chan struct{} {
	return g.ready
}

// Start listens on all sockets and serves them until the router is closed or its context is cancelled.
func (g *Router) Start() error {
	// Start listening on all sockets.
	for _, socket := range g.server.Sockets.All {
		if socket == nil {
			continue
		}

		err := g.server.Listen(socket)
		if err != nil {
			g.server.Log.Error("Error while trying to listen on %v socket %s (port=%d): %v", socket.Type, socket.Name, socket.Port, err)
			_ = g.server.Close()
			return fmt.Errorf("could not listen on router socket (port:%d): %w", socket.Port, err)
		}
	}

	// Now listeners are ready, start serving.
	for _, socket := range g.server.Sockets.All {
		if socket == nil {
			continue
		}

		switch socket.Type {
		case messaging.IOMessage:
			// PUB sockets are send-only.
			continue
		case messaging.HBMessage:
			go g.server.Serve(g, socket, g.server.EchoHandler)
		default:
			go g.server.Serve(g, socket, g.handleMsg)
		}
	}
	g.readyOnce.Do(func() { close(g.ready) })
	g.log.Info("Serving kernel connection %v", g.server.Meta)

	<-g.server.Ctx.Done()

	// Close all the sockets.
	return g.server.Close()
}

// AddHandler registers a handler for a channel. A handler added to a channel that already has one runs first;
// the earlier handler runs only if the new one returns nil.
func (g *Router) AddHandler(typ messaging.MessageType, handler MessageHandler) {
	if g.handlers[typ] != nil {
		handler = func(oldHandler MessageHandler, newHandler MessageHandler) MessageHandler {
			return func(sockets Info, msg *messaging.JupyterMessage) error {
				err := newHandler(sockets, msg)
				if err == nil {
					return oldHandler(sockets, msg)
				} else if errors.Is(err, ErrStopPropagation) {
					return nil
				} else {
					return err
				}
			}
		}(g.handlers[typ], handler)
	}
	g.handlers[typ] = handler
}

// Send signs and sends a message on the given channel. Messages published on iopub without a routing
// identity get their msg_type as topic.
func (g *Router) Send(typ messaging.MessageType, msg *messaging.JupyterMessage) error {
	socket := g.Socket(typ)
	if socket == nil {
		return fmt.Errorf("router has no %v socket", typ)
	}

	if typ == messaging.IOMessage && len(msg.Identities) == 0 {
		msg.Identities = [][]byte{[]byte(msg.JupyterMessageType())}
	}

	frames, err := msg.Frames(g.signer)
	if err != nil {
		g.log.Error(utils.RedStyle.Render("Failed to serialize %s message: %v"), msg.JupyterMessageType(), err)
		return err
	}
	return g.server.Send(socket, frames, msg.JupyterMessageType())
}

// Publish sends a message on iopub.
func (g *Router) Publish(msg *messaging.JupyterMessage) error {
	return g.Send(messaging.IOMessage, msg)
}

func (g *Router) Close() error {
	return g.server.Close()
}

func (g *Router) dropped(typ messaging.MessageType, reason string) {
	if g.server.MessagingMetricsProvider != nil {
		_ = g.server.MessagingMetricsProvider.DroppedMessage(typ, reason)
	}
}

func (g *Router) handleMsg(_ messaging.JupyterServerInfo, typ messaging.MessageType, zmsg *zmq4.Msg) error {
	msg, err := messaging.ParseMessage(zmsg.Frames, g.signer)

	var framingErr *messaging.FramingError
	switch {
	case err == nil:
	case errors.As(err, &framingErr):
		g.log.Warn("Dropping malformed %v message: %v", typ, err)
		g.dropped(typ, metrics.DropReasonFraming)
		return nil
	case errors.Is(err, messaging.ErrInvalidJupyterSignature) && g.signaturePolicy == SignaturePolicyWarn:
		g.log.Warn(utils.OrangeStyle.Render("Handling %v \"%s\" message %s despite its invalid signature."), typ, msg.JupyterMessageType(), msg.JupyterMessageId())
	case errors.Is(err, messaging.ErrInvalidJupyterSignature):
		g.log.Warn(utils.OrangeStyle.Render("Dropping %v \"%s\" message %s with an invalid signature."), typ, msg.JupyterMessageType(), msg.JupyterMessageId())
		g.dropped(typ, metrics.DropReasonSignature)
		return nil
	default:
		g.log.Warn("Dropping undecodable %v message: %v", typ, err)
		g.dropped(typ, metrics.DropReasonFraming)
		return nil
	}

	if g.server.MessagingMetricsProvider != nil {
		_ = g.server.MessagingMetricsProvider.ReceivedMessage(typ, msg.JupyterMessageType())
	}

	handler := g.handlers[typ]
	if handler == nil {
		g.log.Warn("No handler for %v \"%s\" message %s.", typ, msg.JupyterMessageType(), msg.JupyterMessageId())
		g.dropped(typ, metrics.DropReasonUnhandled)
		return nil
	}
	return handler(g, msg)
}
