package luakernel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/Shopify/go-lua"

	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/queue"
	"github.com/scusemua/notebook-bridge/common/utils"
)

const (
	KernelName = "lua"

	// hookInterval is the number of VM instructions between checks for a pending interrupt.
	hookInterval = 1000
)

var _ kernel.Kernel = (*Kernel)(nil)

var languageInfo = kernel.LanguageInfo{
	Name:          KernelName,
	Version:       "5.2",
	Mimetype:      "text/x-lua",
	FileExtension: ".lua",
	Banner:        "Lua 5.2 (github.com/Shopify/go-lua)",
}

// Kernel evaluates Lua code in a single long-lived interpreter state.
//
// Commands are queued and executed one at a time by a worker goroutine that owns the Lua state.
// CancelCurrentCommand bypasses the queue and interrupts the running chunk.
type Kernel struct {
	log logger.Logger

	bus      *kernel.Bus
	commands *queue.Mailbox[kernel.Command]

	state *lua.State
	// current is the command being executed. Only the worker goroutine reads or writes it.
	current kernel.Command

	interrupted atomic.Bool
	closing     atomic.Bool
	closeOnce   sync.Once
	stopped     chan struct{}
}

// New creates a Kernel and starts its worker goroutine.
func New() *Kernel {
	k := &Kernel{
		bus:      kernel.NewBus(),
		commands: queue.NewMailbox[kernel.Command](),
		state:    lua.NewState(),
		stopped:  make(chan struct{}),
	}
	config.InitLogger(&k.log, k)

	lua.OpenLibraries(k.state)
	k.registerBuiltins()
	lua.SetDebugHook(k.state, k.checkInterrupt, lua.MaskCount, hookInterval)

	go k.run()
	return k
}

func (k *Kernel) Name() string {
	return KernelName
}

func (k *Kernel) LanguageInfo() kernel.LanguageInfo {
	return languageInfo
}

func (k *Kernel) Subscribe() *kernel.Subscription {
	return k.bus.Subscribe()
}

// Submit validates and enqueues a command. Errors are returned only for commands that are rejected
// outright; everything else is reported through events.
func (k *Kernel) Submit(ctx context.Context, cmd kernel.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if k.closing.Load() {
		return kernel.ErrKernelClosed
	}

	switch c := cmd.(type) {
	case *kernel.SubmitCode:
		if c.TargetKernelName != "" && !strings.EqualFold(c.TargetKernelName, KernelName) {
			return fmt.Errorf("%w: %q", kernel.ErrUnsupportedLanguage, c.TargetKernelName)
		}
	case *kernel.RequestCompletion, *kernel.RequestDiagnostics, *kernel.Quit:
	case *kernel.CancelCurrentCommand:
		kernel.EnsureToken(cmd)
		k.interrupted.Store(true)
		k.log.Debug("Interrupt requested by command %s.", cmd.Token())
		k.emit(cmd, kernel.NewCommandSucceeded(cmd))
		return nil
	default:
		return fmt.Errorf("%w: %s", kernel.ErrNotSupported, cmd.CommandType())
	}

	kernel.EnsureToken(cmd)
	if !k.commands.Put(cmd) {
		return kernel.ErrKernelClosed
	}
	return nil
}

// Close stops the worker. Commands still queued fail with ErrKernelClosed. Close blocks until the
// worker has exited and every subscription has been closed.
func (k *Kernel) Close() error {
	k.closeOnce.Do(func() {
		k.closing.Store(true)
		k.interrupted.Store(true)
		k.commands.Close(true)
	})
	<-k.stopped
	return nil
}

func (k *Kernel) run() {
	defer func() {
		k.bus.Close()
		close(k.stopped)
	}()

	for cmd := range k.commands.Out() {
		if k.closing.Load() {
			k.emit(cmd, kernel.NewCommandFailed(cmd, kernel.ErrKernelClosed.Error()))
			continue
		}

		k.current = cmd
		k.execute(cmd)
		k.current = nil

		if _, quit := cmd.(*kernel.Quit); quit {
			k.closing.Store(true)
			k.commands.Close(true)
		}
	}
	k.log.Debug("Lua kernel worker exited.")
}

func (k *Kernel) execute(cmd kernel.Command) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Error(utils.RedStyle.Render("Recovered from panic while executing %s command %s: %v"), cmd.CommandType(), cmd.Token(), r)
			k.emit(cmd, kernel.NewCommandFailed(cmd, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	switch c := cmd.(type) {
	case *kernel.SubmitCode:
		k.interrupted.Store(false)
		if c.SubmissionType == kernel.SubmissionDiagnose {
			k.diagnoseSubmission(c)
		} else {
			k.submitCode(c)
		}
	case *kernel.RequestCompletion:
		k.emit(cmd, k.complete(c.Code, c.CursorPosition))
		k.emit(cmd, kernel.NewCommandSucceeded(cmd))
	case *kernel.RequestDiagnostics:
		k.emit(cmd, &kernel.DiagnosticsProduced{Diagnostics: k.diagnose(c.Code)})
		k.emit(cmd, kernel.NewCommandSucceeded(cmd))
	case *kernel.Quit:
		k.log.Debug("Quitting at the request of command %s.", cmd.Token())
		k.emit(cmd, kernel.NewCommandSucceeded(cmd))
	}
}

// emit publishes an event caused by cmd.
func (k *Kernel) emit(cmd kernel.Command, e kernel.Event) {
	e.SetCommand(cmd)
	k.bus.Publish(e)
}

// checkInterrupt raises a Lua error inside the running chunk once an interrupt has been requested.
func (k *Kernel) checkInterrupt(l *lua.State, _ lua.Debug) {
	if k.interrupted.Load() {
		k.interrupted.Store(false)
		lua.Errorf(l, "%s", errInterrupted)
	}
}
