package jupyter

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const (
	// ProtocolVersion is the version of the Jupyter messaging protocol spoken by the bridge.
	ProtocolVersion = "5.3"

	TransportTCP = "tcp"
	TransportIPC = "ipc"

	// RedactedKey replaces the signing key when a ConnectionInfo is printed.
	RedactedKey = "REDACTED"
)

var (
	ErrNotSupported           = fmt.Errorf("not supported")
	ErrInvalidConnectionInfo  = fmt.Errorf("invalid connection info")
	ErrUnsupportedTransport   = fmt.Errorf("unsupported transport")
	ErrMissingConnectionField = fmt.Errorf("missing required connection field")

	// requiredConnectionFields lists the keys of the connection descriptor that must be present.
	// "key" may be omitted, in which case message signing is disabled.
	requiredConnectionFields = []string{
		"stdin_port", "ip", "control_port", "hb_port", "signature_scheme", "shell_port", "transport", "iopub_port",
	}
)

// ConnectionInfo stores the contents of the kernel connection descriptor. It is loaded once at startup
// and is never modified afterwards.
type ConnectionInfo struct {
	IP              string `json:"ip"`
	ControlPort     int    `json:"control_port"`
	ShellPort       int    `json:"shell_port"`
	StdinPort       int    `json:"stdin_port"`
	HBPort          int    `json:"hb_port"`
	IOPubPort       int    `json:"iopub_port"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	Key             string `json:"key"`
	KernelName      string `json:"kernel_name,omitempty"`
}

// LoadConnectionInfo reads and validates the connection descriptor at the given path.
func LoadConnectionInfo(path string) (*ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read connection file \"%s\"", path)
	}

	info, err := ParseConnectionInfo(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse connection file \"%s\"", path)
	}
	return info, nil
}

// ParseConnectionInfo decodes a connection descriptor. Every field except "key" is required.
func ParseConnectionInfo(data []byte) (*ConnectionInfo, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConnectionInfo, err)
	}

	var missing []string
	for _, field := range requiredConnectionFields {
		if _, ok := fields[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConnectionField, strings.Join(missing, ", "))
	}

	var info ConnectionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConnectionInfo, err)
	}

	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &info, nil
}

// Validate checks the descriptor values that the bridge depends on.
func (info *ConnectionInfo) Validate() error {
	switch info.Transport {
	case TransportTCP:
		if info.IP == "" {
			return fmt.Errorf("%w: empty ip", ErrInvalidConnectionInfo)
		}
		for name, port := range info.Ports() {
			if port < 0 || port > 65535 {
				return fmt.Errorf("%w: %s %d out of range", ErrInvalidConnectionInfo, name, port)
			}
		}
	case TransportIPC:
	default:
		return fmt.Errorf("%w: \"%s\"", ErrUnsupportedTransport, info.Transport)
	}
	return nil
}

// Ports returns the five channel ports keyed by descriptor field name.
func (info *ConnectionInfo) Ports() map[string]int {
	return map[string]int{
		"shell_port":   info.ShellPort,
		"iopub_port":   info.IOPubPort,
		"stdin_port":   info.StdinPort,
		"control_port": info.ControlPort,
		"hb_port":      info.HBPort,
	}
}

// Endpoint returns the address a socket binds to for the given port: "{transport}://{ip}:{port}" for tcp,
// "ipc://{ip}-{port}" for ipc.
func (info *ConnectionInfo) Endpoint(port int) string {
	if info.Transport == TransportIPC {
		return fmt.Sprintf("%s://%s-%d", info.Transport, info.IP, port)
	}
	return fmt.Sprintf("%s://%s:%d", info.Transport, info.IP, port)
}

// SigningEnabled returns true if messages must be signed and verified.
func (info *ConnectionInfo) SigningEnabled() bool {
	return info.Key != ""
}

// String returns the descriptor as JSON with the signing key redacted.
func (info *ConnectionInfo) String() string {
	redacted := *info
	if redacted.Key != "" {
		redacted.Key = RedactedKey
	}

	m, err := json.Marshal(&redacted)
	if err != nil {
		panic(err)
	}

	return string(m)
}
