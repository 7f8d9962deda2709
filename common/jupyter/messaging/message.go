package messaging

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/scusemua/notebook-bridge/common/jupyter"
)

const (
	MessageHeaderDefaultUsername = "kernel"

	ShellKernelInfoRequest = "kernel_info_request"
	ShellKernelInfoReply   = "kernel_info_reply"
	ShellExecuteRequest    = "execute_request"
	ShellExecuteReply      = "execute_reply"
	ShellCompleteRequest   = "complete_request"
	ShellCompleteReply     = "complete_reply"
	ShellIsCompleteRequest = "is_complete_request"
	ShellIsCompleteReply   = "is_complete_reply"
	ShellHistoryRequest    = "history_request"
	ShellHistoryReply      = "history_reply"
	ShellCommInfoRequest   = "comm_info_request"
	ShellCommInfoReply     = "comm_info_reply"
	ShellShutdownRequest   = "shutdown_request"
	ShellShutdownReply     = "shutdown_reply"

	ControlInterruptRequest = "interrupt_request"
	ControlInterruptReply   = "interrupt_reply"

	CommOpen  = "comm_open"
	CommMsg   = "comm_msg"
	CommClose = "comm_close"

	StdinInputRequest = "input_request"
	StdinInputReply   = "input_reply"

	IOStatusMessage     = "status"
	IOStreamMessage     = "stream"
	IOErrorMessage      = "error"
	IOExecuteResult     = "execute_result"
	IODisplayData       = "display_data"
	IOUpdateDisplayData = "update_display_data"

	MessageKernelStatusBusy     = "busy"
	MessageKernelStatusIdle     = "idle"
	MessageKernelStatusStarting = "starting"

	MessageStatusOK    = "ok"
	MessageStatusError = "error"
	MessageStatusAbort = "abort"

	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

var (
	ErrInvalidJupyterMessage       = fmt.Errorf("invalid jupyter message")
	ErrNotSupportedSignatureScheme = fmt.Errorf("not supported signature scheme")
	ErrInvalidJupyterSignature     = fmt.Errorf("invalid jupyter signature")
)

// MessageHeader is the header (and parent header) of a Jupyter message.
type MessageHeader struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// NewMessageHeader creates a fresh header with a new message id and the current UTC time.
func NewMessageHeader(msgType string, session string, username string) *MessageHeader {
	if username == "" {
		username = MessageHeaderDefaultUsername
	}
	return &MessageHeader{
		MsgID:    uuid.NewString(),
		Username: username,
		Session:  session,
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
		MsgType:  msgType,
		Version:  jupyter.ProtocolVersion,
	}
}

func (header *MessageHeader) Clone() *MessageHeader {
	if header == nil {
		return nil
	}
	clone := *header
	return &clone
}

func (header *MessageHeader) String() string {
	m, err := json.Marshal(header)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// JupyterMessage is the decoded form of a multipart Jupyter message.
//
// Content is kept as raw JSON; its shape is determined by Header.MsgType and it is decoded on demand
// with DecodeContent.
type JupyterMessage struct {
	Identities   [][]byte
	Signature    string
	Header       *MessageHeader
	ParentHeader *MessageHeader // nil when the parent header frame is "{}"
	Metadata     map[string]interface{}
	Content      json.RawMessage
	Buffers      [][]byte
}

// ParseMessage decodes raw frames.
//
// Framing problems are reported as a *FramingError. If the signature does not match, the decoded
// message is returned together with ErrInvalidJupyterSignature so that the caller can apply its own
// policy.
func ParseMessage(frames [][]byte, signer *Signer) (*JupyterMessage, error) {
	jFrames := NewJupyterFramesFromBytes(frames)
	if err := jFrames.Validate(); err != nil {
		return nil, err
	}

	msg := &JupyterMessage{
		Identities: copyFrames(jFrames.Identities()),
		Signature:  string(jFrames.Frame(JupyterFrameSignature)),
		Buffers:    copyFrames(jFrames.Buffers()),
	}

	var header MessageHeader
	if err := json.Unmarshal(jFrames.Frame(JupyterFrameHeader), &header); err != nil {
		return nil, &FramingError{Reason: fmt.Sprintf("malformed header: %v", err), NumFrames: len(frames)}
	}
	if header.MsgType == "" {
		return nil, &FramingError{Reason: "header has no msg_type", NumFrames: len(frames)}
	}
	msg.Header = &header

	if parent := jFrames.Frame(JupyterFrameParentHeader); !isEmptyObject(parent) {
		var parentHeader MessageHeader
		if err := json.Unmarshal(parent, &parentHeader); err != nil {
			return nil, &FramingError{Reason: fmt.Sprintf("malformed parent header: %v", err), NumFrames: len(frames)}
		}
		msg.ParentHeader = &parentHeader
	}

	msg.Metadata = make(map[string]interface{})
	if metadata := jFrames.Frame(JupyterFrameMetadata); len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, &FramingError{Reason: fmt.Sprintf("malformed metadata: %v", err), NumFrames: len(frames)}
		}
	}

	content := jFrames.Frame(JupyterFrameContent)
	if len(content) == 0 {
		content = JupyterFrameEmpty
	}
	msg.Content = append(json.RawMessage(nil), content...)

	if err := jFrames.Verify(signer); err != nil {
		return msg, err
	}
	return msg, nil
}

// NewMessage creates a message of the given type in response to parent. The session, username and
// routing identities are copied from the parent; the parent's header becomes the parent header.
func NewMessage(msgType string, parent *JupyterMessage, content interface{}) (*JupyterMessage, error) {
	var session, username string
	msg := &JupyterMessage{
		Metadata: make(map[string]interface{}),
	}
	if parent != nil && parent.Header != nil {
		session = parent.Header.Session
		username = parent.Header.Username
		msg.ParentHeader = parent.Header.Clone()
		msg.Identities = copyFrames(parent.Identities)
	}
	msg.Header = NewMessageHeader(msgType, session, username)

	if err := msg.EncodeContent(content); err != nil {
		return nil, err
	}
	return msg, nil
}

// Frames serializes the message, recomputing its signature.
func (m *JupyterMessage) Frames(signer *Signer) ([][]byte, error) {
	header, err := json.Marshal(m.Header)
	if err != nil {
		return nil, err
	}

	parentHeader := JupyterFrameEmpty
	if m.ParentHeader != nil {
		if parentHeader, err = json.Marshal(m.ParentHeader); err != nil {
			return nil, err
		}
	}

	metadata := JupyterFrameEmpty
	if len(m.Metadata) > 0 {
		if metadata, err = json.Marshal(m.Metadata); err != nil {
			return nil, err
		}
	}

	content := []byte(m.Content)
	if len(content) == 0 {
		content = JupyterFrameEmpty
	}

	frames := make([][]byte, 0, len(m.Identities)+JupyterFrameBuffers+len(m.Buffers))
	frames = append(frames, m.Identities...)
	frames = append(frames, JupyterFrameIDSMSG, nil, header, parentHeader, metadata, content)
	frames = append(frames, m.Buffers...)

	jFrames := &JupyterFrames{Frames: frames, Offset: len(m.Identities)}
	jFrames.Sign(signer)
	m.Signature = string(jFrames.Frame(JupyterFrameSignature))
	return frames, nil
}

// ToZmqMsg serializes the message into a multipart zmq4 message.
func (m *JupyterMessage) ToZmqMsg(signer *Signer) (zmq4.Msg, error) {
	frames, err := m.Frames(signer)
	if err != nil {
		return zmq4.Msg{}, err
	}
	return zmq4.NewMsgFrom(frames...), nil
}

// EncodeContent replaces the content with the JSON encoding of in. A nil value encodes as "{}".
func (m *JupyterMessage) EncodeContent(in interface{}) error {
	if in == nil {
		m.Content = append(json.RawMessage(nil), JupyterFrameEmpty...)
		return nil
	}
	if raw, ok := in.(json.RawMessage); ok {
		m.Content = raw
		return nil
	}

	content, err := json.Marshal(in)
	if err != nil {
		return err
	}
	m.Content = content
	return nil
}

// DecodeContent decodes the content into out.
func (m *JupyterMessage) DecodeContent(out interface{}) error {
	return json.Unmarshal(m.Content, out)
}

// JupyterMessageType returns header.msg_type.
func (m *JupyterMessage) JupyterMessageType() string {
	if m.Header == nil {
		return ""
	}
	return m.Header.MsgType
}

func (m *JupyterMessage) JupyterMessageId() string {
	if m.Header == nil {
		return ""
	}
	return m.Header.MsgID
}

func (m *JupyterMessage) JupyterSession() string {
	if m.Header == nil {
		return ""
	}
	return m.Header.Session
}

func (m *JupyterMessage) JupyterParentMessageId() string {
	if m.ParentHeader == nil {
		return ""
	}
	return m.ParentHeader.MsgID
}

func (m *JupyterMessage) String() string {
	return fmt.Sprintf("JupyterMessage[%s, id=%s, session=%s, content=%s]",
		m.JupyterMessageType(), m.JupyterMessageId(), m.JupyterSession(), string(m.Content))
}

func isEmptyObject(frame []byte) bool {
	trimmed := bytes.TrimSpace(frame)
	return len(trimmed) == 0 || bytes.Equal(trimmed, JupyterFrameEmpty)
}

func copyFrames(frames [][]byte) [][]byte {
	if len(frames) == 0 {
		return nil
	}
	copied := make([][]byte, len(frames))
	for i, frame := range frames {
		copied[i] = append([]byte(nil), frame...)
	}
	return copied
}
