package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/petermattis/goid"

	"github.com/scusemua/notebook-bridge/common/jupyter"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/metrics"
	"github.com/scusemua/notebook-bridge/common/utils"
)

var (
	// ErrStopServing may be returned by a handler to end the Serve loop of its socket.
	ErrStopServing = errors.New("stop serving")
)

// AbstractServer implements the basic socket serving useful for a Jupyter server. Embed this struct in your server implementation.
type AbstractServer struct {
	Meta *jupyter.ConnectionInfo

	// ctx of this server and a func to cancel it.
	Ctx       context.Context
	CancelCtx func()

	// ZMQ sockets
	Sockets *messaging.JupyterSocket

	// logger
	Log logger.Logger

	// Unique name of the server, mostly for debugging.
	Name string

	// MessagingMetricsProvider records received, sent and dropped messages. It may be nil.
	MessagingMetricsProvider metrics.MessagingMetricsProvider

	closeOnce sync.Once
}

func New(ctx context.Context, info *jupyter.ConnectionInfo, init func(server *AbstractServer)) *AbstractServer {
	var cancelCtx func()
	ctx, cancelCtx = context.WithCancel(ctx)

	server := &AbstractServer{
		Meta:      info,
		Ctx:       ctx,
		CancelCtx: cancelCtx,
		Sockets:   &messaging.JupyterSocket{},
		Log:       logger.NilLogger, // To be overwritten by init.
	}
	init(server)

	// Populate "All" for iteration. Unset sockets stay nil.
	server.Sockets.All = [5]*messaging.Socket{server.Sockets.HB, server.Sockets.Control, server.Sockets.Shell, server.Sockets.Stdin, server.Sockets.IO}
	return server
}

// Socket returns the socket of the given type, or nil.
func (s *AbstractServer) Socket(typ messaging.MessageType) *messaging.Socket {
	return s.Sockets.All[typ]
}

func (s *AbstractServer) String() string {
	return s.Name
}

func (s *AbstractServer) Server() *BaseServer {
	return &BaseServer{s}
}

// Listen binds the socket to its endpoint. For tcp, a port of 0 is replaced by the port chosen by the system.
func (s *AbstractServer) Listen(socket *messaging.Socket) error {
	switch s.Meta.Transport {
	case jupyter.TransportTCP, jupyter.TransportIPC:
	default:
		s.Log.Error("Unsupported transport specified: \"%s\". Only \"tcp\" and \"ipc\" are supported.", s.Meta.Transport)
		return fmt.Errorf("%w: %s", jupyter.ErrUnsupportedTransport, s.Meta.Transport)
	}

	endpoint := s.Meta.Endpoint(socket.Port)
	if err := socket.Listen(endpoint); err != nil {
		return err
	}

	// Update the port number if it is 0.
	if addr, ok := socket.Addr().(*net.TCPAddr); ok {
		socket.Port = addr.Port
	}
	s.Log.Debug("%v socket %s is listening at %s.", socket.Type, socket.Name, endpoint)
	return nil
}

// Serve receives messages from the socket and passes them to the handler, one at a time, until the
// socket is closed or the server's context is cancelled. Handler errors other than ErrStopServing and
// context.Canceled are logged and serving continues.
func (s *AbstractServer) Serve(server messaging.JupyterServerInfo, socket *messaging.Socket, handler messaging.MessageHandler) {
	goroutineId := goid.Get()

	if !atomic.CompareAndSwapInt32(&socket.Serving, 0, 1) {
		// Already serving.
		return
	}
	defer atomic.StoreInt32(&socket.Serving, 0)

	chMsg := make(chan interface{})
	go s.poll(socket, chMsg)
	s.Log.Debug("[gid=%d] Start serving %v messages via %s", goroutineId, socket.Type, socket.Name)

	for {
		select {
		case <-s.Ctx.Done():
			return
		case msg, ok := <-chMsg:
			if !ok || msg == nil {
				return
			}

			var err error
			switch v := msg.(type) {
			case error:
				err = v
			case *zmq4.Msg:
				err = handler(server, socket.Type, v)
			}

			if err == nil {
				continue
			}

			// Stop serving on error.
			if errors.Is(err, io.EOF) || errors.Is(err, ErrStopServing) || errors.Is(err, context.Canceled) || s.Ctx.Err() != nil {
				s.Log.Debug("[gid=%d] Done handling %s messages: %v.", goroutineId, socket.Type, err)
				return
			}

			s.Log.Error(utils.RedStyle.Render("[gid=%d] Error on handle %s message: %v."), goroutineId, socket.Type, err)
		}
	}
}

func (s *AbstractServer) poll(socket *messaging.Socket, chMsg chan<- interface{}) {
	defer close(chMsg)

	var msg interface{}
	for {
		got, err := socket.Recv()
		if err == nil {
			msg = &got
		} else {
			msg = err
		}

		select {
		case chMsg <- msg:
		// Quit on server closed.
		case <-s.Ctx.Done():
			return
		}

		// Quit on error.
		if err != nil {
			return
		}
	}
}

// EchoHandler sends every received message back unchanged. It serves the heartbeat channel.
func (s *AbstractServer) EchoHandler(_ messaging.JupyterServerInfo, typ messaging.MessageType, msg *zmq4.Msg) error {
	socket := s.Socket(typ)
	if socket == nil {
		return fmt.Errorf("no %v socket to echo on", typ)
	}
	return socket.Send(*msg)
}

// Send sends the frames on the socket and records the send with the metrics provider.
func (s *AbstractServer) Send(socket *messaging.Socket, frames [][]byte, jupyterMessageType string) error {
	start := time.Now()
	if err := socket.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		s.Log.Error(utils.RedStyle.Render("Failed to send %s message via %s: %v"), jupyterMessageType, socket.Name, err)
		return err
	}

	if s.MessagingMetricsProvider != nil {
		_ = s.MessagingMetricsProvider.SentMessage(socket.Type, jupyterMessageType, time.Since(start))
	}
	return nil
}

// Close cancels the server's context and closes every socket.
func (s *AbstractServer) Close() error {
	s.closeOnce.Do(func() {
		s.CancelCtx()
		for _, socket := range s.Sockets.All {
			if socket == nil || socket.Socket == nil {
				continue
			}
			if err := socket.Socket.Close(); err != nil {
				s.Log.Warn("Error while closing %v socket %s: %v", socket.Type, socket.Name, err)
			}
		}
	})
	return nil
}
