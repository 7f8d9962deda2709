package server

import (
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/metrics"
)

// BaseServer exposes the basic operations of a Jupyter server. Get BaseServer from AbstractServer.Server().
type BaseServer struct {
	server *AbstractServer
}

// AssignMessagingMetricsProvider sets the MessagingMetricsProvider on the AbstractServer encapsulated by the BaseServer.
func (s *BaseServer) AssignMessagingMetricsProvider(messagingMetricsProvider metrics.MessagingMetricsProvider) {
	s.server.MessagingMetricsProvider = messagingMetricsProvider
}

// Socket returns the zmq socket of the given type.
func (s *BaseServer) Socket(typ messaging.MessageType) *messaging.Socket {
	return s.server.Sockets.All[typ]
}

// Ports returns the bound port of every socket, keyed by socket type.
func (s *BaseServer) Ports() map[messaging.MessageType]int {
	ports := make(map[messaging.MessageType]int)
	for _, socket := range s.server.Sockets.All {
		if socket != nil {
			ports[socket.Type] = socket.Port
		}
	}
	return ports
}

func (s *BaseServer) Close() error {
	return s.server.Close()
}
