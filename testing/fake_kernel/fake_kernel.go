package fake_kernel

import (
	"context"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/scusemua/notebook-bridge/common/kernel"
	"github.com/scusemua/notebook-bridge/common/queue"
)

var _ kernel.Kernel = (*FakeKernel)(nil)

// Script reacts to a submitted command by emitting events through the FakeKernel.
type Script func(k *FakeKernel, cmd kernel.Command)

// Succeed emits CommandSucceeded.
func Succeed() Script {
	return func(k *FakeKernel, cmd kernel.Command) {
		k.Emit(cmd, kernel.NewCommandSucceeded(cmd))
	}
}

// Fail emits CommandFailed with the given message and error name.
func Fail(message string, errorName string) Script {
	return func(k *FakeKernel, cmd kernel.Command) {
		failure := kernel.NewCommandFailed(cmd, message)
		failure.ErrorName = errorName
		k.Emit(cmd, failure)
	}
}

// Return emits a ReturnValueProduced carrying value, then succeeds.
func Return(value interface{}) Script {
	return Then(func(k *FakeKernel, cmd kernel.Command) {
		k.Emit(cmd, &kernel.ReturnValueProduced{Value: value})
	}, Succeed())
}

// Produce emits the events in order, then succeeds. The same event values are emitted for every
// command the script runs for, so a Produce script should only be used for one command.
func Produce(events ...kernel.Event) Script {
	return Then(func(k *FakeKernel, cmd kernel.Command) {
		k.Emit(cmd, events...)
	}, Succeed())
}

// Then runs the scripts one after another.
func Then(scripts ...Script) Script {
	return func(k *FakeKernel, cmd kernel.Command) {
		for _, script := range scripts {
			script(k, cmd)
		}
	}
}

// Hold blocks the kernel until release is closed, then runs the script.
func Hold(release <-chan struct{}, script Script) Script {
	return func(k *FakeKernel, cmd kernel.Command) {
		<-release
		script(k, cmd)
	}
}

// Silent emits nothing, leaving the command open until the test emits its events with Emit.
func Silent() Script {
	return func(*FakeKernel, kernel.Command) {}
}

// FakeKernel is a kernel.Kernel whose reaction to each command type is scripted by the test.
//
// Scripts run one command at a time on a worker goroutine, so Submit returns before any event of
// the command is published. Command types without a script succeed immediately.
type FakeKernel struct {
	log logger.Logger

	name     string
	info     kernel.LanguageInfo
	bus      *kernel.Bus
	commands *queue.Mailbox[kernel.Command]
	stopped  chan struct{}

	mu        sync.Mutex
	scripts   map[kernel.CommandType]Script
	rejection error
	submitted []kernel.Command
	closeOnce sync.Once
}

func NewFakeKernel(name string) *FakeKernel {
	k := &FakeKernel{
		name: name,
		info: kernel.LanguageInfo{
			Name:          name,
			Version:       "0.0.1",
			Mimetype:      "text/plain",
			FileExtension: ".txt",
			Banner:        "Fake kernel " + name,
		},
		bus:      kernel.NewBus(),
		commands: queue.NewMailbox[kernel.Command](),
		stopped:  make(chan struct{}),
		scripts:  make(map[kernel.CommandType]Script),
	}
	config.InitLogger(&k.log, k)

	go k.run()
	return k
}

// On scripts the reaction to commands of the given type.
func (k *FakeKernel) On(commandType kernel.CommandType, script Script) *FakeKernel {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.scripts[commandType] = script
	return k
}

// RejectWith makes every following Submit fail with err. A nil err accepts submissions again.
func (k *FakeKernel) RejectWith(err error) *FakeKernel {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rejection = err
	return k
}

// Submitted returns the commands accepted so far, in submission order.
func (k *FakeKernel) Submitted() []kernel.Command {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]kernel.Command(nil), k.submitted...)
}

// Emit publishes events attributed to cmd.
func (k *FakeKernel) Emit(cmd kernel.Command, events ...kernel.Event) {
	for _, e := range events {
		if cmd != nil {
			e.SetCommand(cmd)
		}
		k.bus.Publish(e)
	}
}

func (k *FakeKernel) Name() string {
	return k.name
}

func (k *FakeKernel) LanguageInfo() kernel.LanguageInfo {
	return k.info
}

func (k *FakeKernel) Subscribe() *kernel.Subscription {
	return k.bus.Subscribe()
}

func (k *FakeKernel) Submit(ctx context.Context, cmd kernel.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.Lock()
	if k.rejection != nil {
		err := k.rejection
		k.mu.Unlock()
		k.log.Debug("Rejecting %s command: %v", cmd.CommandType(), err)
		return err
	}
	kernel.EnsureToken(cmd)
	k.submitted = append(k.submitted, cmd)
	k.mu.Unlock()

	if !k.commands.Put(cmd) {
		return kernel.ErrKernelClosed
	}
	return nil
}

func (k *FakeKernel) Close() error {
	k.closeOnce.Do(func() {
		k.commands.Close(false)
	})
	<-k.stopped
	return nil
}

func (k *FakeKernel) run() {
	defer func() {
		k.bus.Close()
		close(k.stopped)
	}()

	for cmd := range k.commands.Out() {
		k.mu.Lock()
		script, ok := k.scripts[cmd.CommandType()]
		k.mu.Unlock()
		if !ok {
			script = Succeed()
		}

		k.log.Debug("Running script for %s command %s.", cmd.CommandType(), cmd.Token())
		script(k, cmd)
	}
}
