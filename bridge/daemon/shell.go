package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/scusemua/notebook-bridge/common/history"
	"github.com/scusemua/notebook-bridge/common/jupyter"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/tracker"
)

const (
	historyTimeout = time.Second * 5

	// continuationIndent is suggested to the frontend for the next line of incomplete code.
	continuationIndent = "  "
)

func (s *KernelServer) handleKernelInfoRequest(rc *RequestContext) error {
	info := s.kernel.LanguageInfo()
	return rc.Reply(messaging.ShellKernelInfoReply, &messaging.KernelInfoReply{
		Status:                messaging.MessageStatusOK,
		ProtocolVersion:       jupyter.ProtocolVersion,
		Implementation:        Implementation,
		ImplementationVersion: ImplementationVersion,
		LanguageInfo: messaging.LanguageInfo{
			Name:          info.Name,
			Version:       info.Version,
			Mimetype:      info.Mimetype,
			FileExtension: info.FileExtension,
			PygmentsLexer: info.Name,
		},
		Banner:    info.Banner,
		HelpLinks: []messaging.HelpLink{},
	})
}

// completion is a complete_request whose reply is pending.
type completion struct {
	rc     *RequestContext
	cursor int
	result *kernel.CompletionsProduced
}

func (s *KernelServer) handleCompleteRequest(rc *RequestContext) error {
	var content messaging.CompleteRequest
	if err := rc.Request.DecodeContent(&content); err != nil {
		return rc.Reply(messaging.ShellCompleteReply, emptyCompleteReply(messaging.MessageStatusError, 0))
	}

	cursor := content.CursorPos
	if n := utf8.RuneCountInString(content.Code); cursor < 0 || cursor > n {
		cursor = n
	}

	c := &completion{rc: rc, cursor: cursor}
	cmd := &kernel.RequestCompletion{Code: content.Code, CursorPosition: cursor}
	err := s.track(rc, cmd, s.counter.Current(), c.handle)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kernel.ErrNotSupported):
		// Kernels without completion support answer with no matches.
		return rc.Reply(messaging.ShellCompleteReply, emptyCompleteReply(messaging.MessageStatusOK, cursor))
	default:
		s.log.Warn("Kernel rejected complete_request %s: %v", rc.Request.JupyterMessageId(), err)
		return rc.Reply(messaging.ShellCompleteReply, emptyCompleteReply(messaging.MessageStatusError, cursor))
	}
}

func (c *completion) handle(_ *tracker.OpenRequest, e kernel.Event) error {
	switch ev := e.(type) {
	case *kernel.CompletionsProduced:
		c.result = ev
		return nil
	case *kernel.CommandSucceeded:
		c.rc.BeginTerminal()
		defer c.rc.EndTerminal()
		return c.rc.Reply(messaging.ShellCompleteReply, c.reply())
	case *kernel.CommandFailed:
		c.rc.BeginTerminal()
		defer c.rc.EndTerminal()
		return c.rc.Reply(messaging.ShellCompleteReply, emptyCompleteReply(messaging.MessageStatusError, c.cursor))
	default:
		if kernel.Classify(e) == kernel.Informational {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnexpectedEvent, e.EventType())
	}
}

func (c *completion) reply() *messaging.CompleteReply {
	if c.result == nil {
		return emptyCompleteReply(messaging.MessageStatusOK, c.cursor)
	}

	matches := make([]string, 0, len(c.result.Completions))
	types := make([]map[string]interface{}, 0, len(c.result.Completions))
	for _, item := range c.result.Completions {
		matches = append(matches, item.InsertText)
		types = append(types, map[string]interface{}{
			"start": c.result.ReplacementStart,
			"end":   c.result.ReplacementEnd,
			"text":  item.InsertText,
			"type":  item.Kind,
		})
	}

	return &messaging.CompleteReply{
		Status:      messaging.MessageStatusOK,
		Matches:     matches,
		CursorStart: c.result.ReplacementStart,
		CursorEnd:   c.result.ReplacementEnd,
		Metadata:    map[string]interface{}{"_jupyter_types_experimental": types},
	}
}

func emptyCompleteReply(status string, cursor int) *messaging.CompleteReply {
	return &messaging.CompleteReply{
		Status:      status,
		Matches:     []string{},
		CursorStart: cursor,
		CursorEnd:   cursor,
		Metadata:    map[string]interface{}{},
	}
}

// completenessCheck is an is_complete_request whose reply is pending.
type completenessCheck struct {
	rc         *RequestContext
	incomplete bool
	invalid    bool
}

func (s *KernelServer) handleIsCompleteRequest(rc *RequestContext) error {
	var content messaging.IsCompleteRequest
	if err := rc.Request.DecodeContent(&content); err != nil {
		return rc.Reply(messaging.ShellIsCompleteReply, &messaging.IsCompleteReply{Status: messaging.IsCompleteUnknown})
	}

	check := &completenessCheck{rc: rc}
	cmd := kernel.NewSubmitCode(content.Code, s.kernel.Name())
	cmd.SubmissionType = kernel.SubmissionDiagnose
	if err := s.track(rc, cmd, s.counter.Current(), check.handle); err != nil {
		s.log.Warn("Kernel rejected is_complete_request %s: %v", rc.Request.JupyterMessageId(), err)
		return rc.Reply(messaging.ShellIsCompleteReply, &messaging.IsCompleteReply{Status: messaging.IsCompleteUnknown})
	}
	return nil
}

func (check *completenessCheck) handle(_ *tracker.OpenRequest, e kernel.Event) error {
	switch ev := e.(type) {
	case *kernel.IncompleteCodeSubmissionReceived:
		check.incomplete = true
		return nil
	case *kernel.DiagnosticsProduced:
		check.invalid = ev.HasErrors()
		return nil
	case *kernel.CommandSucceeded:
		check.rc.BeginTerminal()
		defer check.rc.EndTerminal()

		reply := &messaging.IsCompleteReply{Status: messaging.IsCompleteComplete}
		switch {
		case check.incomplete:
			reply.Status = messaging.IsCompleteIncomplete
			reply.Indent = continuationIndent
		case check.invalid:
			reply.Status = messaging.IsCompleteInvalid
		}
		return check.rc.Reply(messaging.ShellIsCompleteReply, reply)
	case *kernel.CommandFailed:
		check.rc.BeginTerminal()
		defer check.rc.EndTerminal()
		return check.rc.Reply(messaging.ShellIsCompleteReply, &messaging.IsCompleteReply{Status: messaging.IsCompleteUnknown})
	default:
		if kernel.Classify(e) == kernel.Informational {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnexpectedEvent, e.EventType())
	}
}

func (s *KernelServer) handleHistoryRequest(rc *RequestContext) error {
	reply := &messaging.HistoryReply{Status: messaging.MessageStatusOK, History: [][]interface{}{}}

	var content messaging.HistoryRequest
	if err := rc.Request.DecodeContent(&content); err != nil {
		reply.Status = messaging.MessageStatusError
		return rc.Reply(messaging.ShellHistoryReply, reply)
	}
	if s.history == nil {
		return rc.Reply(messaging.ShellHistoryReply, reply)
	}

	ctx, cancel := context.WithTimeout(s.ctx, historyTimeout)
	defer cancel()

	entries, err := s.history.Entries(ctx)
	if err != nil {
		s.log.Warn("Failed to read history: %v", err)
		reply.Status = messaging.MessageStatusError
		return rc.Reply(messaging.ShellHistoryReply, reply)
	}
	sessions := newSessionNumbering(entries, rc.Request.JupyterSession())

	query := history.Query{
		AccessType: content.HistAccessType,
		Session:    sessions.id(content.Session),
		Start:      content.Start,
		Stop:       content.Stop,
		N:          content.N,
		Pattern:    content.Pattern,
		Unique:     content.Unique,
	}
	selected, err := history.Select(ctx, s.history, query, rc.Request.JupyterSession())
	if err != nil {
		s.log.Warn("Failed to select history for %s: %v", rc.Request.JupyterMessageId(), err)
		reply.Status = messaging.MessageStatusError
		return rc.Reply(messaging.ShellHistoryReply, reply)
	}

	for _, e := range selected {
		reply.History = append(reply.History, []interface{}{sessions.number(e.Session), e.Line, e.Input})
	}
	return rc.Reply(messaging.ShellHistoryReply, reply)
}

// sessionNumbering numbers the sessions found in the history from 1, in order of first appearance.
// Session 0 of a request is the current session and negative numbers count back from it.
type sessionNumbering struct {
	ids     []string
	numbers map[string]int
	current string
}

func newSessionNumbering(entries []history.Entry, current string) *sessionNumbering {
	n := &sessionNumbering{numbers: make(map[string]int), current: current}
	for _, e := range entries {
		n.add(e.Session)
	}
	n.add(current)
	return n
}

func (n *sessionNumbering) add(session string) {
	if _, ok := n.numbers[session]; ok {
		return
	}
	n.ids = append(n.ids, session)
	n.numbers[session] = len(n.ids)
}

func (n *sessionNumbering) number(session string) int {
	return n.numbers[session]
}

// id returns the session id of a request's session number, or "" for the current session.
func (n *sessionNumbering) id(number int) string {
	if number < 0 {
		number += n.numbers[n.current]
	}
	if number <= 0 || number > len(n.ids) {
		return ""
	}
	return n.ids[number-1]
}

func (s *KernelServer) handleCommInfoRequest(rc *RequestContext) error {
	return rc.Reply(messaging.ShellCommInfoReply, &messaging.CommInfoReply{
		Status: messaging.MessageStatusOK,
		Comms:  map[string]interface{}{},
	})
}

// handleCommMessage ignores comm messages; the kernel registers no comm targets.
func (s *KernelServer) handleCommMessage(rc *RequestContext) error {
	s.log.Debug("Ignoring \"%s\" message %s.", rc.Request.JupyterMessageType(), rc.Request.JupyterMessageId())
	return nil
}
