package domain

import (
	"fmt"
	"strings"

	"github.com/Scusemua/go-utils/config"
	"github.com/goccy/go-json"

	"github.com/scusemua/notebook-bridge/common/history"
	"github.com/scusemua/notebook-bridge/common/jupyter/router"
)

const (
	// IdlePolicyCompleted defers the idle status of an asynchronous request until its reply has been sent.
	IdlePolicyCompleted = "completed"
	// IdlePolicyAccepted publishes idle as soon as the request has been handed to the kernel. The reply is
	// later wrapped in its own busy/idle pair.
	IdlePolicyAccepted = "accepted"

	DefaultHistorySize = 1000
	DefaultRedisAddr   = "localhost:6379"
)

type BridgeOptions struct {
	config.LoggerOptions `yaml:",inline" json:"logger_options"`

	ConnectionFile     string `name:"connection-file" description:"Path to the kernel connection file." yaml:"connection-file" json:"connection-file"`
	SignaturePolicy    string `name:"signature-policy" description:"What to do with messages whose signature does not verify: 'strict' drops them, 'warn' logs and handles them." yaml:"signature-policy" json:"signature-policy"`
	IdlePolicy         string `name:"idle-policy" description:"When to publish idle for asynchronous requests: 'completed' or 'accepted'." yaml:"idle-policy" json:"idle-policy"`
	MetricsPort        int    `name:"metrics-port" description:"Port of the HTTP server exposing /metrics, /healthz and /ws. 0 disables it." yaml:"metrics-port" json:"metrics-port"`
	HistoryBackend     string `name:"history-backend" description:"Execution history store: 'memory' or 'redis'." yaml:"history-backend" json:"history-backend"`
	HistorySize        int    `name:"history-size" description:"Maximum number of history entries kept." yaml:"history-size" json:"history-size"`
	RedisAddr          string `name:"redis-addr" description:"Address of the redis server used by the redis history backend." yaml:"redis-addr" json:"redis-addr"`
	RedisPassword      string `name:"redis-password" description:"Password of the redis server." yaml:"redis-password" json:"-"`
	RedisDatabase      int    `name:"redis-db" description:"Redis database number." yaml:"redis-db" json:"redis-db"`
	PrettyPrintOptions bool   `name:"pretty-print-options" description:"Print the options as indented JSON at startup." yaml:"pretty-print-options" json:"pretty-print-options"`
	Session            string `name:"session" description:"Session id of messages the bridge originates. A random id is used if empty." yaml:"session" json:"session"`
}

// Validate applies defaults and checks enumerated values.
func (o *BridgeOptions) Validate() error {
	switch o.SignaturePolicy {
	case "":
		o.SignaturePolicy = router.SignaturePolicyStrict
	case router.SignaturePolicyStrict, router.SignaturePolicyWarn:
	default:
		return fmt.Errorf("%w: \"%s\"", router.ErrUnknownSignaturePolicy, o.SignaturePolicy)
	}

	switch o.IdlePolicy {
	case "":
		o.IdlePolicy = IdlePolicyCompleted
	case IdlePolicyCompleted, IdlePolicyAccepted:
	default:
		return fmt.Errorf("%w: \"%s\"", ErrUnknownIdlePolicy, o.IdlePolicy)
	}

	switch o.HistoryBackend {
	case "":
		o.HistoryBackend = history.BackendMemory
	case history.BackendMemory, history.BackendRedis:
	default:
		return fmt.Errorf("%w: \"%s\"", history.ErrUnknownBackend, o.HistoryBackend)
	}

	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}

	if o.HistoryBackend == history.BackendRedis && o.RedisAddr == "" {
		fmt.Printf("[WARNING] \"redis-addr\" is not set while using history-backend=\"redis\". Using default value: \"%s\".\n", DefaultRedisAddr)
		o.RedisAddr = DefaultRedisAddr
	}

	if o.MetricsPort < 0 || o.MetricsPort > 65535 {
		return fmt.Errorf("%w: metrics-port %d", ErrInvalidOption, o.MetricsPort)
	}

	return nil
}

// HistoryOptions returns the options of the execution history store.
func (o *BridgeOptions) HistoryOptions() history.Options {
	return history.Options{
		Backend:       o.HistoryBackend,
		Size:          o.HistorySize,
		RedisAddr:     o.RedisAddr,
		RedisPassword: o.RedisPassword,
		RedisDB:       o.RedisDatabase,
	}
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (o *BridgeOptions) PrettyString(indentSize int) string {
	m, err := json.MarshalIndent(o, "", strings.Repeat(" ", indentSize))
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (o *BridgeOptions) String() string {
	m, err := json.Marshal(o)
	if err != nil {
		panic(err)
	}

	return string(m)
}
