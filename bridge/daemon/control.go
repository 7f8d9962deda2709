package daemon

import (
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/kernel"
)

// handleShutdownRequest replies, then quits the kernel and stops the server once the request's idle
// status has been published. Restarting is left to whatever launched the bridge.
func (s *KernelServer) handleShutdownRequest(rc *RequestContext) error {
	var content messaging.ShutdownRequest
	if err := rc.Request.DecodeContent(&content); err != nil {
		s.log.Warn("Could not decode shutdown_request %s: %v", rc.Request.JupyterMessageId(), err)
	}

	rc.After(s.shutdown)
	return rc.Reply(messaging.ShellShutdownReply, &messaging.ShutdownReply{
		Status:  messaging.MessageStatusOK,
		Restart: content.Restart,
	})
}

func (s *KernelServer) handleInterruptRequest(rc *RequestContext) error {
	cmd := &kernel.CancelCurrentCommand{}
	kernel.EnsureToken(cmd)

	status := messaging.MessageStatusOK
	if err := s.kernel.Submit(s.ctx, cmd); err != nil {
		s.log.Warn("Failed to interrupt the kernel: %v", err)
		status = messaging.MessageStatusError
	}
	return rc.Reply(messaging.ControlInterruptReply, &messaging.InterruptReply{Status: status})
}
