package daemon_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-bridge/bridge/daemon"
	"github.com/scusemua/notebook-bridge/bridge/domain"
	"github.com/scusemua/notebook-bridge/common/history"
	"github.com/scusemua/notebook-bridge/common/jupyter"
	"github.com/scusemua/notebook-bridge/common/jupyter/messaging"
	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/testing/jupyter_client"
)

const (
	timeout = time.Second * 5
	session = "s1"
)

type harness struct {
	server *daemon.KernelServer
	client *jupyter_client.Client
	cancel context.CancelFunc
}

func newConnectionInfo() *jupyter.ConnectionInfo {
	return &jupyter.ConnectionInfo{
		IP:              "127.0.0.1",
		Transport:       jupyter.TransportTCP,
		SignatureScheme: "hmac-sha256",
		Key:             "abc",
	}
}

func newOptions(idlePolicy string) *domain.BridgeOptions {
	opts := &domain.BridgeOptions{IdlePolicy: idlePolicy, Session: "bridge"}
	Expect(opts.Validate()).To(Succeed())
	return opts
}

// startHarness serves the kernel and connects a client to it.
func startHarness(info *jupyter.ConnectionInfo, opts *domain.BridgeOptions, k kernel.Kernel, store history.Store,
	metricsProvider daemon.MetricsProvider) *harness {

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{cancel: cancel}

	var err error
	h.server, err = daemon.New(ctx, info, opts, k, nil, store, metricsProvider)
	Expect(err).To(BeNil())

	go func() {
		defer GinkgoRecover()
		_ = h.server.Start()
	}()
	Eventually(h.server.Ready(), timeout).Should(BeClosed())

	h.client, err = jupyter_client.Dial(ctx, info, session, h.server.Ports())
	Expect(err).To(BeNil())
	return h
}

func (h *harness) Stop() {
	h.client.Close()
	_ = h.server.Close()
	h.cancel()
}

func (h *harness) request(typ messaging.MessageType, msgType string, content interface{}) *messaging.JupyterMessage {
	req, err := h.client.Request(typ, msgType, content)
	Expect(err).To(BeNil())
	return req
}

func (h *harness) execute(code string, silent bool) *messaging.JupyterMessage {
	return h.request(messaging.ShellMessage, messaging.ShellExecuteRequest, &messaging.ExecuteRequest{
		Code:         code,
		Silent:       silent,
		StoreHistory: !silent,
	})
}

func (h *harness) reply(typ messaging.MessageType, req *messaging.JupyterMessage) *messaging.JupyterMessage {
	reply, err := h.client.Receive(typ, timeout)
	Expect(err).To(BeNil())
	Expect(reply.JupyterParentMessageId()).To(Equal(req.JupyterMessageId()))
	return reply
}

// published collects the iopub messages of a request up to and including its idles-th idle status.
func (h *harness) published(req *messaging.JupyterMessage, idles int) []*messaging.JupyterMessage {
	var messages []*messaging.JupyterMessage
	for idles > 0 {
		msg, err := h.client.ReceiveIOPub(req, timeout)
		Expect(err).To(BeNil())
		messages = append(messages, msg)

		if msg.JupyterMessageType() == messaging.IOStatusMessage && executionState(msg) == messaging.MessageKernelStatusIdle {
			idles--
		}
	}
	return messages
}

func executionState(msg *messaging.JupyterMessage) string {
	var status messaging.KernelStatus
	Expect(msg.DecodeContent(&status)).To(Succeed())
	return status.ExecutionState
}

// sequence describes messages as their msg_type, with the execution state appended to statuses.
func sequence(messages []*messaging.JupyterMessage) []string {
	described := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.JupyterMessageType() == messaging.IOStatusMessage {
			described = append(described, "status:"+executionState(msg))
		} else {
			described = append(described, msg.JupyterMessageType())
		}
	}
	return described
}

func ofType(messages []*messaging.JupyterMessage, msgType string) []*messaging.JupyterMessage {
	var selected []*messaging.JupyterMessage
	for _, msg := range messages {
		if msg.JupyterMessageType() == msgType {
			selected = append(selected, msg)
		}
	}
	return selected
}

func decode[T any](msg *messaging.JupyterMessage) T {
	var content T
	Expect(msg.DecodeContent(&content)).To(Succeed())
	return content
}
