package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/scusemua/notebook-bridge/common/history"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/render"
	"github.com/scusemua/notebook-bridge/common/tracker"
	"github.com/scusemua/notebook-bridge/common/utils"
)

const (
	// ErrorNameInvalidRequest is reported for execute requests whose content cannot be decoded.
	ErrorNameInvalidRequest = "InvalidRequest"
	// ErrorNameSubmission is reported when the kernel rejects a submission.
	ErrorNameSubmission = "SubmissionError"
	// ErrorNameDefault is reported for failures the kernel did not classify.
	ErrorNameDefault = "Error"
)

// execution is an execute_request whose reply is pending.
type execution struct {
	server  *KernelServer
	rc      *RequestContext
	content messaging.ExecuteRequest
	count   int
}

func (s *KernelServer) handleExecuteRequest(rc *RequestContext) error {
	exec := &execution{server: s, rc: rc}

	if err := rc.Request.DecodeContent(&exec.content); err != nil {
		exec.count = s.counter.Current()
		return exec.fail(ErrorNameInvalidRequest, err.Error())
	}
	exec.count = s.counter.Next(exec.content.Silent)

	cmd := kernel.NewSubmitCode(exec.content.Code, s.kernel.Name())
	if err := s.track(rc, cmd, exec.count, exec.handle); err != nil {
		s.log.Warn("Kernel rejected execute_request %s: %v", rc.Request.JupyterMessageId(), err)
		return exec.fail(ErrorNameSubmission, err.Error())
	}

	s.log.Debug("Submitted execute_request %s as command %s (execution count %d, silent=%v).",
		rc.Request.JupyterMessageId(), cmd.Token(), exec.count, exec.content.Silent)
	return nil
}

// handle turns the events of the submitted code into iopub messages and, on the terminal event, the reply.
func (exec *execution) handle(req *tracker.OpenRequest, e kernel.Event) error {
	switch ev := e.(type) {
	case *kernel.CodeSubmissionReceived, *kernel.CompleteCodeSubmissionReceived, *kernel.IncompleteCodeSubmissionReceived:
		return nil
	case *kernel.ReturnValueProduced:
		if exec.content.Silent {
			return nil
		}
		return exec.rc.Publish(messaging.IOExecuteResult, &messaging.ExecuteResult{
			ExecutionCount: exec.count,
			Data:           exec.server.bundle(ev.Value, ev.FormattedValues),
			Metadata:       map[string]interface{}{},
		})
	case *kernel.DisplayedValueProduced:
		displayId := req.DisplayId(ev.ValueId)
		if ev.ValueId != "" {
			exec.server.displayIds.Store(ev.ValueId, displayId)
		}
		return exec.rc.Publish(messaging.IODisplayData, exec.server.displayData(ev.Value, ev.FormattedValues, displayId))
	case *kernel.DisplayedValueUpdated:
		displayId, ok := req.LookupDisplayId(ev.ValueId)
		if !ok {
			if displayId, ok = exec.server.displayIds.Load(ev.ValueId); !ok {
				exec.server.log.Warn("Ignoring update of unknown displayed value \"%s\".", ev.ValueId)
				return nil
			}
		}
		return exec.rc.Publish(messaging.IOUpdateDisplayData, exec.server.displayData(ev.Value, ev.FormattedValues, displayId))
	case *kernel.StandardOutputValueProduced:
		return exec.rc.PublishStream(messaging.StreamStdout, ev.Text)
	case *kernel.StandardErrorValueProduced:
		return exec.rc.PublishStream(messaging.StreamStderr, ev.Text)
	case *kernel.CommandSucceeded:
		exec.rc.BeginTerminal()
		defer exec.rc.EndTerminal()
		return exec.succeed()
	case *kernel.CommandFailed:
		exec.rc.BeginTerminal()
		defer exec.rc.EndTerminal()
		return exec.fail(ev.ErrorName, ev.Message)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedEvent, e.EventType())
	}
}

func (exec *execution) succeed() error {
	exec.record()
	exec.server.executeCompleted(messaging.MessageStatusOK)

	return exec.rc.Reply(messaging.ShellExecuteReply, &messaging.ExecuteReply{
		Status:          messaging.MessageStatusOK,
		ExecutionCount:  exec.count,
		UserExpressions: map[string]interface{}{},
		Payload:         []interface{}{},
	})
}

// fail publishes the error (unless the request is silent) and sends an error reply.
func (exec *execution) fail(name string, message string) error {
	if name == "" {
		name = ErrorNameDefault
	}
	traceback := strings.Split(strings.TrimRight(message, "\n"), "\n")

	if !exec.content.Silent {
		if err := exec.rc.PublishError(&messaging.ErrorContent{EName: name, EValue: message, Traceback: traceback}); err != nil {
			exec.server.log.Error(utils.RedStyle.Render("Failed to publish error of execute_request %s: %v"), exec.rc.Request.JupyterMessageId(), err)
		}
		if err := exec.rc.PublishStream(messaging.StreamStderr, fmt.Sprintf("%s: %s\n", name, message)); err != nil {
			exec.server.log.Error(utils.RedStyle.Render("Failed to publish stderr of execute_request %s: %v"), exec.rc.Request.JupyterMessageId(), err)
		}
	}
	exec.server.executeCompleted(messaging.MessageStatusError)

	return exec.rc.Reply(messaging.ShellExecuteReply, &messaging.ExecuteReply{
		Status:         messaging.MessageStatusError,
		ExecutionCount: exec.count,
		EName:          name,
		EValue:         message,
		Traceback:      traceback,
	})
}

// record appends the input to the execution history.
func (exec *execution) record() {
	if exec.server.history == nil || exec.content.Silent || !exec.content.StoreHistory {
		return
	}

	ctx, cancel := context.WithTimeout(exec.server.ctx, historyTimeout)
	defer cancel()

	entry := history.Entry{Session: exec.rc.Request.JupyterSession(), Line: exec.count, Input: exec.content.Code}
	if err := exec.server.history.Append(ctx, entry); err != nil {
		exec.server.log.Warn("Failed to record %v in history: %v", entry, err)
	}
}

func (s *KernelServer) executeCompleted(status string) {
	if s.metrics != nil {
		s.metrics.ExecuteRequestCompleted(status)
	}
}

// bundle renders a value into a MIME bundle. Representations formatted by the kernel take precedence.
func (s *KernelServer) bundle(value interface{}, formatted []kernel.FormattedValue) messaging.MimeBundle {
	if len(formatted) == 0 {
		return s.renderer.Bundle(value)
	}

	bundle := make(messaging.MimeBundle, len(formatted)+1)
	for _, f := range formatted {
		bundle[f.MimeType] = f.Value
	}
	if _, ok := bundle[render.MimeTextPlain]; !ok {
		bundle[render.MimeTextPlain] = s.renderer.PlainText(value)
	}
	return bundle
}

func (s *KernelServer) displayData(value interface{}, formatted []kernel.FormattedValue, displayId string) *messaging.DisplayData {
	return &messaging.DisplayData{
		Data:      s.bundle(value, formatted),
		Metadata:  map[string]interface{}{},
		Transient: map[string]interface{}{"display_id": displayId},
	}
}
