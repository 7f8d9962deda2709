package luakernel

import (
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/google/uuid"

	"github.com/scusemua/notebook-bridge/common/kernel"
)

// registerBuiltins replaces print and adds the display functions. All of them report through events
// attributed to the command currently being executed.
func (k *Kernel) registerBuiltins() {
	k.state.Register("print", k.print)
	k.state.Register("display", k.display)
	k.state.Register("update_display", k.updateDisplay)

	l := k.state
	l.Global("io")
	if l.TypeOf(-1) == lua.TypeTable {
		l.PushGoFunction(k.write)
		l.SetField(-2, "write")
	}
	l.Pop(1)
}

func (k *Kernel) print(l *lua.State) int {
	var sb strings.Builder
	for i, n := 1, l.Top(); i <= n; i++ {
		if i > 1 {
			sb.WriteByte('\t')
		}
		sb.WriteString(describe(l, i))
	}
	sb.WriteByte('\n')
	k.stdout(sb.String())
	return 0
}

func (k *Kernel) write(l *lua.State) int {
	var sb strings.Builder
	for i, n := 1, l.Top(); i <= n; i++ {
		sb.WriteString(describe(l, i))
	}
	k.stdout(sb.String())
	return 0
}

// display(value [, id]) publishes a value and returns the id under which it can be updated.
func (k *Kernel) display(l *lua.State) int {
	lua.CheckAny(l, 1)
	id := lua.OptString(l, 2, "")
	if id == "" {
		id = uuid.NewString()
	}

	if k.current != nil {
		k.emit(k.current, &kernel.DisplayedValueProduced{Value: toGo(l, 1, 0), ValueId: id})
	}
	l.PushString(id)
	return 1
}

// update_display(id, value) replaces a value previously published by display.
func (k *Kernel) updateDisplay(l *lua.State) int {
	id := lua.CheckString(l, 1)
	lua.CheckAny(l, 2)

	if k.current != nil {
		k.emit(k.current, &kernel.DisplayedValueUpdated{Value: toGo(l, 2, 0), ValueId: id})
	}
	return 0
}

func (k *Kernel) stdout(text string) {
	if k.current == nil {
		k.log.Warn("Discarding output produced outside of a command: %q", text)
		return
	}
	k.emit(k.current, &kernel.StandardOutputValueProduced{Text: text})
}
