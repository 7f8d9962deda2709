package messaging

// Content payloads, one per msg_type handled by the bridge.

type ExecuteRequest struct {
	Code            string                 `json:"code"`
	Silent          bool                   `json:"silent"`
	StoreHistory    bool                   `json:"store_history"`
	UserExpressions map[string]interface{} `json:"user_expressions"`
	AllowStdin      bool                   `json:"allow_stdin"`
	StopOnError     bool                   `json:"stop_on_error"`
}

// ExecuteReply is the content of an execute_reply. The error fields are only set when Status is "error".
type ExecuteReply struct {
	Status          string                 `json:"status"`
	ExecutionCount  int                    `json:"execution_count"`
	UserExpressions map[string]interface{} `json:"user_expressions,omitempty"`
	Payload         []interface{}          `json:"payload,omitempty"`
	EName           string                 `json:"ename,omitempty"`
	EValue          string                 `json:"evalue,omitempty"`
	Traceback       []string               `json:"traceback,omitempty"`
}

// MimeBundle maps MIME types to representations of a value.
type MimeBundle map[string]interface{}

type ExecuteResult struct {
	ExecutionCount int                    `json:"execution_count"`
	Data           MimeBundle             `json:"data"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// DisplayData is the content of both display_data and update_display_data.
type DisplayData struct {
	Data      MimeBundle             `json:"data"`
	Metadata  map[string]interface{} `json:"metadata"`
	Transient map[string]interface{} `json:"transient,omitempty"`
}

type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type ErrorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type KernelStatus struct {
	ExecutionState string `json:"execution_state"`
}

type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Mimetype      string `json:"mimetype"`
	FileExtension string `json:"file_extension"`
	PygmentsLexer string `json:"pygments_lexer,omitempty"`
}

type HelpLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type KernelInfoReply struct {
	Status                string       `json:"status"`
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner"`
	HelpLinks             []HelpLink   `json:"help_links"`
	Debugger              bool         `json:"debugger"`
}

type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

type CompleteReply struct {
	Status      string                 `json:"status"`
	Matches     []string               `json:"matches"`
	CursorStart int                    `json:"cursor_start"`
	CursorEnd   int                    `json:"cursor_end"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type IsCompleteRequest struct {
	Code string `json:"code"`
}

// IsCompleteReply statuses.
const (
	IsCompleteComplete   = "complete"
	IsCompleteIncomplete = "incomplete"
	IsCompleteInvalid    = "invalid"
	IsCompleteUnknown    = "unknown"
)

type IsCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent,omitempty"`
}

type HistoryRequest struct {
	Output         bool   `json:"output"`
	Raw            bool   `json:"raw"`
	HistAccessType string `json:"hist_access_type"`
	Session        int    `json:"session"`
	Start          int    `json:"start"`
	Stop           int    `json:"stop"`
	N              int    `json:"n"`
	Pattern        string `json:"pattern"`
	Unique         bool   `json:"unique"`
}

// HistoryReply carries entries of the form [session, line_number, input].
type HistoryReply struct {
	Status  string          `json:"status"`
	History [][]interface{} `json:"history"`
}

type CommInfoRequest struct {
	TargetName string `json:"target_name,omitempty"`
}

type CommInfoReply struct {
	Status string                 `json:"status"`
	Comms  map[string]interface{} `json:"comms"`
}

type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

type ShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

type InterruptReply struct {
	Status string `json:"status"`
}
