package jupyter_client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"

	"github.com/scusemua/notebook-bridge/common/jupyter"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
)

var ErrTimeout = errors.New("timed out waiting for message")

// subscriptionGrace is how long a new SUB connection is given to propagate its subscription.
const subscriptionGrace = time.Millisecond * 250

type received struct {
	msg *messaging.JupyterMessage
	err error
}

// Client is a minimal Jupyter frontend: DEALER sockets on shell, control and stdin, a SUB socket on iopub and
// a REQ socket on the heartbeat.
type Client struct {
	log logger.Logger

	Session string
	Signer  *messaging.Signer

	ctx    context.Context
	cancel context.CancelFunc

	sockets  map[messaging.MessageType]zmq4.Socket
	incoming map[messaging.MessageType]chan received
}

// Dial connects to every endpoint of the connection descriptor. ports overrides the descriptor's port of a
// channel, e.g. when the server was bound to ephemeral ports.
func Dial(ctx context.Context, info *jupyter.ConnectionInfo, session string, ports map[messaging.MessageType]int) (*Client, error) {
	signer, err := messaging.NewSignerFromConnectionInfo(info)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		Session: session,
		Signer:  signer,
		ctx:     ctx,
		cancel:  cancel,
		sockets: map[messaging.MessageType]zmq4.Socket{
			messaging.ShellMessage:   zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(session+"-shell"))),
			messaging.ControlMessage: zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(session+"-control"))),
			messaging.StdinMessage:   zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(session+"-stdin"))),
			messaging.IOMessage:      zmq4.NewSub(ctx),
			messaging.HBMessage:      zmq4.NewReq(ctx),
		},
		incoming: make(map[messaging.MessageType]chan received),
	}
	config.InitLogger(&c.log, c)

	defaults := map[messaging.MessageType]int{
		messaging.ShellMessage:   info.ShellPort,
		messaging.ControlMessage: info.ControlPort,
		messaging.StdinMessage:   info.StdinPort,
		messaging.IOMessage:      info.IOPubPort,
		messaging.HBMessage:      info.HBPort,
	}

	if err := c.sockets[messaging.IOMessage].SetOption(zmq4.OptionSubscribe, ""); err != nil {
		c.Close()
		return nil, err
	}

	for typ, socket := range c.sockets {
		port := defaults[typ]
		if p, ok := ports[typ]; ok {
			port = p
		}

		if err := socket.Dial(info.Endpoint(port)); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to dial %v endpoint %s: %w", typ, info.Endpoint(port), err)
		}

		if typ == messaging.HBMessage {
			continue
		}
		ch := make(chan received, 64)
		c.incoming[typ] = ch
		go c.poll(socket, ch)
	}

	time.Sleep(subscriptionGrace)
	return c, nil
}

func (c *Client) poll(socket zmq4.Socket, ch chan<- received) {
	defer close(ch)

	for {
		raw, err := socket.Recv()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Debug("Stopped receiving: %v", err)
			}
			return
		}

		msg, err := messaging.ParseMessage(raw.Frames, c.Signer)
		select {
		case ch <- received{msg: msg, err: err}:
		case <-c.ctx.Done():
			return
		}
	}
}

// NewRequest builds a request of this client's session.
func (c *Client) NewRequest(msgType string, content interface{}) (*messaging.JupyterMessage, error) {
	msg, err := messaging.NewMessage(msgType, nil, content)
	if err != nil {
		return nil, err
	}
	msg.Header.Session = c.Session
	msg.Header.Username = "test"
	return msg, nil
}

// Send signs and sends a request on shell, control or stdin.
func (c *Client) Send(typ messaging.MessageType, msg *messaging.JupyterMessage) error {
	zmsg, err := msg.ToZmqMsg(c.Signer)
	if err != nil {
		return err
	}
	return c.SendFrames(typ, zmsg.Frames)
}

// SendFrames sends raw frames, e.g. a deliberately malformed message.
func (c *Client) SendFrames(typ messaging.MessageType, frames [][]byte) error {
	return c.sockets[typ].Send(zmq4.NewMsgFrom(frames...))
}

// Request builds and sends a request, returning it for correlation.
func (c *Client) Request(typ messaging.MessageType, msgType string, content interface{}) (*messaging.JupyterMessage, error) {
	msg, err := c.NewRequest(msgType, content)
	if err != nil {
		return nil, err
	}
	return msg, c.Send(typ, msg)
}

// Receive returns the next message received on the channel.
func (c *Client) Receive(typ messaging.MessageType, timeout time.Duration) (*messaging.JupyterMessage, error) {
	select {
	case r, ok := <-c.incoming[typ]:
		if !ok {
			return nil, fmt.Errorf("%v socket closed", typ)
		}
		return r.msg, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w on %v", ErrTimeout, typ)
	}
}

// ReceiveIOPub returns the next iopub message whose parent is the given request.
func (c *Client) ReceiveIOPub(parent *messaging.JupyterMessage, timeout time.Duration) (*messaging.JupyterMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := c.Receive(messaging.IOMessage, time.Until(deadline))
		if err != nil {
			return nil, err
		}
		if msg.JupyterParentMessageId() == parent.JupyterMessageId() {
			return msg, nil
		}
	}
}

// Ping sends a heartbeat and waits for its echo.
func (c *Client) Ping(payload []byte, timeout time.Duration) ([]byte, error) {
	socket := c.sockets[messaging.HBMessage]
	if err := socket.Send(zmq4.NewMsg(payload)); err != nil {
		return nil, err
	}

	ch := make(chan received, 1)
	var echoed []byte
	go func() {
		reply, err := socket.Recv()
		if err == nil && len(reply.Frames) > 0 {
			echoed = reply.Frames[0]
		}
		ch <- received{err: err}
	}()

	select {
	case r := <-ch:
		return echoed, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w on heartbeat", ErrTimeout)
	}
}

func (c *Client) Close() {
	c.cancel()
	for _, socket := range c.sockets {
		_ = socket.Close()
	}
}
