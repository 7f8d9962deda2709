package messaging

import (
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

const (
	HBMessage MessageType = iota
	ControlMessage
	ShellMessage
	StdinMessage
	IOMessage
)

// MessageType identifies the channel a socket serves.
type MessageType int

func (t MessageType) String() string {
	return [...]string{"heartbeat", "control", "shell", "stdin", "io"}[t]
}

// MessageHandler handles a raw message received on a socket.
type MessageHandler func(JupyterServerInfo, MessageType, *zmq4.Msg) error

// Socket wraps a zmq4.Socket with the metadata of the channel it serves.
//
// Sends are serialized; interleaving two multipart writes on one socket corrupts both.
type Socket struct {
	zmq4.Socket
	Port    int
	Type    MessageType
	Serving int32
	Name    string // Mostly used for debugging.

	sendMu sync.Mutex
}

func NewSocket(socket zmq4.Socket, port int, typ MessageType, name string) *Socket {
	return &Socket{
		Socket: socket,
		Port:   port,
		Type:   typ,
		Name:   name,
	}
}

// Send sends a multipart message while holding the socket's send lock.
func (s *Socket) Send(msg zmq4.Msg) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.Socket.Send(msg)
}

func (s *Socket) String() string {
	return fmt.Sprintf("%s(%d)", s.Type, s.Port)
}

// JupyterSocket groups the five sockets of a kernel.
type JupyterSocket struct {
	HB      *Socket
	Control *Socket
	Shell   *Socket
	Stdin   *Socket
	IO      *Socket
	All     [5]*Socket
}

// JupyterServerInfo defines the interface to provide infos of a JupyterServer.
type JupyterServerInfo interface {
	fmt.Stringer

	Socket(MessageType) *Socket
}
