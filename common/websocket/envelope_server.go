package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/scusemua/notebook-bridge/common/envelope"
	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/utils"
	"github.com/scusemua/notebook-bridge/common/utils/hashmap"
)

const (
	DefaultReadInterval = time.Millisecond * 100
	DefaultReadBurst    = 10

	writeTimeout = time.Second * 10
)

// EnvelopeServer lets a client drive the kernel with command envelopes over a websocket.
//
// Each connection receives the event envelopes of the commands it submitted, up to and including each
// command's terminal event. Events caused by other connections or by the Jupyter channels are not
// forwarded.
type EnvelopeServer struct {
	log logger.Logger

	kernel   kernel.Kernel
	registry *envelope.Registry

	// ReadInterval and ReadBurst configure the per-connection rate limit on incoming envelopes.
	ReadInterval time.Duration
	ReadBurst    int
}

func NewEnvelopeServer(k kernel.Kernel, registry *envelope.Registry) *EnvelopeServer {
	srv := &EnvelopeServer{
		kernel:       k,
		registry:     registry,
		ReadInterval: DefaultReadInterval,
		ReadBurst:    DefaultReadBurst,
	}
	config.InitLogger(&srv.log, srv)

	return srv
}

// HandleRequest adapts the server to a gin route.
func (s *EnvelopeServer) HandleRequest(c *gin.Context) {
	s.ServeHTTP(c.Writer, c.Request)
}

func (s *EnvelopeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.log.Error("Failed to accept websocket connection because: %v", err)
		return
	}
	defer c.CloseNow()

	if err := s.serve(r.Context(), c); err != nil {
		s.log.Error("Envelope connection with %v failed: %v", r.RemoteAddr, err)
		_ = c.Close(websocket.StatusInternalError, err.Error())
		return
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}

// connection is the state of one websocket client.
type connection struct {
	conn *websocket.Conn
	// tokens holds the commands submitted on this connection that have not terminated yet.
	tokens  *hashmap.SyncMap[string, kernel.Command]
	writeMu sync.Mutex
}

func (c *connection) write(ctx context.Context, env *envelope.EventEnvelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, env)
}

func (s *EnvelopeServer) serve(ctx context.Context, c *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := &connection{
		conn:   c,
		tokens: hashmap.NewSyncMap[string, kernel.Command](),
	}

	// Subscribe before reading the first command so that no event can be missed.
	sub := s.kernel.Subscribe()
	defer sub.Unsubscribe()

	forwardErr := make(chan error, 1)
	go func() {
		forwardErr <- s.forward(ctx, conn, sub)
	}()

	l := rate.NewLimiter(rate.Every(s.ReadInterval), s.ReadBurst)
	for {
		err := s.handleMessage(ctx, conn, l)

		if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
			return nil
		}

		if err != nil {
			select {
			case ferr := <-forwardErr:
				if ferr != nil {
					return ferr
				}
			default:
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// forward relays the events of this connection's commands until the subscription ends.
func (s *EnvelopeServer) forward(ctx context.Context, conn *connection, sub *kernel.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}

			token := kernel.Token(e)
			if _, mine := conn.tokens.Load(token); !mine {
				continue
			}
			if kernel.IsTerminal(e) {
				conn.tokens.Delete(token)
			}

			env, err := s.registry.CreateEvent(e)
			if err != nil {
				s.log.Error(utils.RedStyle.Render("Cannot wrap %s event of command %s: %v"), e.EventType(), token, err)
				continue
			}

			if err := conn.write(ctx, env); err != nil {
				return err
			}
		}
	}
}

func (s *EnvelopeServer) handleMessage(ctx context.Context, conn *connection, l *rate.Limiter) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}

	_, data, err := conn.conn.Read(ctx)
	if err != nil {
		return err
	}

	var env envelope.CommandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("Received malformed command envelope: %v", err)
		return conn.write(ctx, s.failure(&envelope.CommandEnvelope{}, errors.Join(envelope.ErrMalformedEnvelope, err)))
	}

	cmd, err := s.registry.OpenCommand(&env)
	if err != nil {
		s.log.Warn("Rejecting %s command envelope: %v", env.CommandType, err)
		return conn.write(ctx, s.failure(&env, err))
	}

	token := kernel.EnsureToken(cmd)
	if _, loaded := conn.tokens.LoadOrStore(token, cmd); loaded {
		s.log.Warn("Rejecting duplicate submission of command %s.", token)
		env.Token = token
		return conn.write(ctx, s.failure(&env, errors.New("command token is already in use")))
	}

	s.log.Debug("Submitting %s command %s received over websocket.", cmd.CommandType(), token)
	if err := s.kernel.Submit(ctx, cmd); err != nil {
		conn.tokens.Delete(token)
		env.Token = token
		return conn.write(ctx, s.failure(&env, err))
	}
	return nil
}

// failure builds a CommandFailed envelope for a command that never reached the kernel. The cause is the
// received envelope, which need not be decodable by the registry.
func (s *EnvelopeServer) failure(cause *envelope.CommandEnvelope, err error) *envelope.EventEnvelope {
	payload, _ := json.Marshal(&kernel.CommandFailed{Message: err.Error()})
	return &envelope.EventEnvelope{
		EventType:   kernel.CommandFailedType,
		CommandType: cause.CommandType,
		Event:       payload,
		Cause:       cause,
	}
}
