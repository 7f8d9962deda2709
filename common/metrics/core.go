package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gin-gonic/contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/utils"
)

const (
	Namespace = "notebook_bridge"

	DropReasonFraming   = "framing"
	DropReasonSignature = "signature"
	DropReasonUnhandled = "unhandled"
)

var (
	ErrPrometheusManagerAlreadyRunning = errors.New("PrometheusManager is already running")
	ErrPrometheusManagerNotRunning     = errors.New("PrometheusManager is not running")
	ErrMetricsNotInitialized           = errors.New("the PrometheusManager has not been initialized yet")
)

// MessagingMetricsProvider is the part of the PrometheusManager used by the Jupyter servers. Servers record
// observations through it without knowing the names of the underlying metrics.
type MessagingMetricsProvider interface {
	// ReceivedMessage records that a message of the given Jupyter type arrived on a socket.
	ReceivedMessage(socketType messaging.MessageType, jupyterMessageType string) error

	// SentMessage records that a message was sent and how long the send took.
	SentMessage(socketType messaging.MessageType, jupyterMessageType string, sendLatency time.Duration) error

	// DroppedMessage records that an incoming message was discarded without being handled.
	DroppedMessage(socketType messaging.MessageType, reason string) error

	// HandledMessage records the time the dispatcher spent on a request before its idle status.
	HandledMessage(socketType messaging.MessageType, jupyterMessageType string, latency time.Duration) error
}

// PrometheusManager owns the bridge's metrics and the HTTP server exposing them.
//
// Metrics are registered with a private registry so that several managers (e.g. in tests) can coexist in
// one process. Additional routes, such as the envelope websocket, may be added with Handle before Start.
type PrometheusManager struct {
	log logger.Logger

	registry          *prometheus.Registry
	prometheusHandler http.Handler
	engine            *gin.Engine
	httpServer        *http.Server
	listener          net.Listener

	// JupyterMessagesReceived counts messages received, labelled by socket and Jupyter message type.
	JupyterMessagesReceived *prometheus.CounterVec

	// JupyterMessagesSent counts messages sent, labelled by socket and Jupyter message type.
	JupyterMessagesSent *prometheus.CounterVec

	// MessageSendLatencyMicrosecondsVec is a histogram of the time taken to send a ZMQ message in microseconds.
	MessageSendLatencyMicrosecondsVec *prometheus.HistogramVec

	// JupyterMessagesDropped counts messages discarded before dispatch, labelled by socket and reason.
	JupyterMessagesDropped *prometheus.CounterVec

	// RequestLatencyMicrosecondsVec is the time from receiving a request to publishing its idle status.
	RequestLatencyMicrosecondsVec *prometheus.HistogramVec

	// ExecuteRequestsCounterVec counts finished execute requests by reply status.
	ExecuteRequestsCounterVec *prometheus.CounterVec

	// OpenRequestsGauge is the number of commands awaiting their terminal event.
	OpenRequestsGauge prometheus.Gauge

	nodeId string
	port   int
	mu     sync.Mutex

	// serving indicates whether the manager has been started and is serving requests.
	serving            bool
	metricsInitialized bool
}

// NewPrometheusManager creates a PrometheusManager that will serve on the given port. A non-positive port
// disables the HTTP server; metrics are still recorded and Handler may be used directly.
func NewPrometheusManager(port int, nodeId string) *PrometheusManager {
	registry := prometheus.NewRegistry()
	manager := &PrometheusManager{
		registry:          registry,
		prometheusHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		engine:            gin.New(),
		nodeId:            nodeId,
		port:              port,
	}
	config.InitLogger(&manager.log, manager)

	// Commented-out for now as I don't want the log messages for Prometheus requests.
	// manager.engine.Use(gin.Logger())
	manager.engine.Use(gin.Recovery())
	manager.engine.Use(cors.Default())

	manager.engine.GET("/metrics", manager.HandleRequest)
	manager.engine.GET("/healthz", manager.HandleHealthRequest)

	return manager
}

// NodeId returns the id this manager attaches to its metrics, e.g. the kernel session.
func (m *PrometheusManager) NodeId() string {
	return m.nodeId
}

// Registry returns the registry the metrics are registered with.
func (m *PrometheusManager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving every route of the manager.
func (m *PrometheusManager) Handler() http.Handler {
	return m.engine
}

// Handle registers an additional GET route.
func (m *PrometheusManager) Handle(path string, handler gin.HandlerFunc) {
	m.engine.GET(path, handler)
}

// IsRunning returns true if the PrometheusManager has been started.
func (m *PrometheusManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.serving
}

// Addr returns the address of the HTTP server, or nil if it is not listening.
func (m *PrometheusManager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// InitializeMetrics creates and registers the metrics. It is called by Start and is idempotent.
func (m *PrometheusManager) InitializeMetrics() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.initializeMetrics()
}

// Start registers the metrics and begins serving them over HTTP.
func (m *PrometheusManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.serving {
		m.log.Warn("PrometheusManager %s is already running.", m.nodeId)
		return ErrPrometheusManagerAlreadyRunning
	}

	if err := m.initializeMetrics(); err != nil {
		return err
	}

	if err := m.initializeHttpServer(); err != nil {
		return err
	}

	m.serving = true
	return nil
}

// Stop shuts down the HTTP server.
func (m *PrometheusManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.serving {
		m.log.Warn("PrometheusManager %s is not running.", m.nodeId)
		return ErrPrometheusManagerNotRunning
	}

	m.serving = false
	if m.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.httpServer.Shutdown(ctx); err != nil {
		m.log.Error("Failed to cleanly shutdown the HTTP server: %v", err)
		return err
	}

	return nil
}

// HandleRequest handles Prometheus HTTP requests (when Prometheus is scraping for metrics).
func (m *PrometheusManager) HandleRequest(c *gin.Context) {
	m.prometheusHandler.ServeHTTP(c.Writer, c.Request)
}

// HandleHealthRequest reports whether the manager has been started.
func (m *PrometheusManager) HandleHealthRequest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node_id": m.nodeId,
		"serving": m.IsRunning(),
	})
}

func (m *PrometheusManager) initializeHttpServer() error {
	if m.port <= 0 {
		m.log.Debug("Prometheus Port is set to %d. Not serving HTTP server.", m.port)
		return nil
	}

	address := fmt.Sprintf("0.0.0.0:%d", m.port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		m.log.Error(utils.RedStyle.Render("HTTP Server failed to listen on '%s'. Error: %v"), address, err)
		return err
	}

	m.listener = listener
	m.httpServer = &http.Server{
		Addr:    address,
		Handler: m.engine,
	}

	go func() {
		m.log.Debug("Serving Prometheus metrics at %s", address)
		if err := m.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error(utils.RedStyle.Render("HTTP Server stopped serving on '%s'. Error: %v"), address, err)
		}
	}()

	return nil
}

func (m *PrometheusManager) initializeMetrics() error {
	if m.metricsInitialized {
		return nil
	}

	labels := []string{"node_id", "socket_type", "jupyter_message_type"}

	m.JupyterMessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_received_total",
		Help:      "The number of well-formed Jupyter messages received.",
	}, labels)

	m.JupyterMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_sent_total",
		Help:      "The number of Jupyter messages sent.",
	}, labels)

	m.MessageSendLatencyMicrosecondsVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "message_send_latency_microseconds",
		Help:      "The latency, in microseconds, to send a ZMQ message.",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10e3, 25e3, 50e3, 100e3, 250e3, 1e6},
	}, labels)

	m.JupyterMessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_dropped_total",
		Help:      "The number of incoming messages discarded before being dispatched.",
	}, []string{"node_id", "socket_type", "reason"})

	m.RequestLatencyMicrosecondsVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "request_latency_microseconds",
		Help:      "The time, in microseconds, from receiving a request to publishing the idle status for it.",
		Buckets:   []float64{100, 500, 1000, 5000, 10e3, 50e3, 100e3, 500e3, 1e6, 5e6, 30e6, 60e6, 300e6},
	}, labels)

	m.ExecuteRequestsCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "execute_requests_total",
		Help:      "The number of execute requests answered, by reply status.",
	}, []string{"node_id", "status"})

	m.OpenRequestsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   Namespace,
		Name:        "open_requests",
		Help:        "The number of submitted commands awaiting their terminal event.",
		ConstLabels: prometheus.Labels{"node_id": m.nodeId},
	})

	toRegister := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"Jupyter Messages Received", m.JupyterMessagesReceived},
		{"Jupyter Messages Sent", m.JupyterMessagesSent},
		{"Message Send Latency Microseconds", m.MessageSendLatencyMicrosecondsVec},
		{"Jupyter Messages Dropped", m.JupyterMessagesDropped},
		{"Request Latency Microseconds", m.RequestLatencyMicrosecondsVec},
		{"Execute Requests", m.ExecuteRequestsCounterVec},
		{"Open Requests", m.OpenRequestsGauge},
		{"Go Runtime", collectors.NewGoCollector()},
	}
	for _, metric := range toRegister {
		if err := m.registry.Register(metric.collector); err != nil {
			m.log.Error("Failed to register '%s' metric because: %v", metric.name, err)
			return err
		}
	}

	m.metricsInitialized = true
	return nil
}

////////////////////////////////////////////////
// Messaging Metrics interface implementation //
////////////////////////////////////////////////

func (m *PrometheusManager) ReceivedMessage(socketType messaging.MessageType, jupyterMessageType string) error {
	if !m.metricsInitialized {
		return ErrMetricsNotInitialized
	}

	m.JupyterMessagesReceived.With(prometheus.Labels{
		"node_id":              m.nodeId,
		"socket_type":          socketType.String(),
		"jupyter_message_type": jupyterMessageType,
	}).Inc()

	return nil
}

func (m *PrometheusManager) SentMessage(socketType messaging.MessageType, jupyterMessageType string, sendLatency time.Duration) error {
	if !m.metricsInitialized {
		return ErrMetricsNotInitialized
	}

	labels := prometheus.Labels{
		"node_id":              m.nodeId,
		"socket_type":          socketType.String(),
		"jupyter_message_type": jupyterMessageType,
	}
	m.JupyterMessagesSent.With(labels).Inc()
	m.MessageSendLatencyMicrosecondsVec.With(labels).Observe(float64(sendLatency.Microseconds()))

	return nil
}

func (m *PrometheusManager) DroppedMessage(socketType messaging.MessageType, reason string) error {
	if !m.metricsInitialized {
		return ErrMetricsNotInitialized
	}

	m.JupyterMessagesDropped.With(prometheus.Labels{
		"node_id":     m.nodeId,
		"socket_type": socketType.String(),
		"reason":      reason,
	}).Inc()

	return nil
}

func (m *PrometheusManager) HandledMessage(socketType messaging.MessageType, jupyterMessageType string, latency time.Duration) error {
	if !m.metricsInitialized {
		return ErrMetricsNotInitialized
	}

	m.RequestLatencyMicrosecondsVec.With(prometheus.Labels{
		"node_id":              m.nodeId,
		"socket_type":          socketType.String(),
		"jupyter_message_type": jupyterMessageType,
	}).Observe(float64(latency.Microseconds()))

	return nil
}

// ExecuteRequestCompleted records the reply status of an execute request.
func (m *PrometheusManager) ExecuteRequestCompleted(status string) {
	if !m.metricsInitialized {
		return
	}

	m.ExecuteRequestsCounterVec.With(prometheus.Labels{
		"node_id": m.nodeId,
		"status":  status,
	}).Inc()
}

// OpenRequestsChanged records the number of open requests.
func (m *PrometheusManager) OpenRequestsChanged(open int) {
	if !m.metricsInitialized {
		return
	}

	m.OpenRequestsGauge.Set(float64(open))
}
