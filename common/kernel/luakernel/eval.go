package luakernel

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/scusemua/notebook-bridge/common/kernel"
)

const (
	chunkName = "=cell"

	// maxConversionDepth bounds the conversion of nested (possibly cyclic) tables.
	maxConversionDepth = 16

	ErrorNameSyntax      = "SyntaxError"
	ErrorNameRuntime     = "RuntimeError"
	ErrorNameInterrupted = "KeyboardInterrupt"
)

var (
	errInterrupted = errors.New("interrupted")

	// lineNumberPattern extracts the line of a Lua error message, e.g. "cell:3: '=' expected".
	lineNumberPattern = regexp.MustCompile(`^cell:(\d+):\s*`)
)

// parseStatus is the outcome of compiling a submission without running it.
type parseStatus int

const (
	parseComplete parseStatus = iota
	parseIncomplete
	parseInvalid
)

// load compiles code onto the stack. Expressions are tried first so that "1+1" yields a value.
// On failure the stack is left as it was and the compiler's message is returned.
func (k *Kernel) load(code string) (parseStatus, string) {
	l := k.state
	top := l.Top()

	if err := lua.LoadBuffer(l, "return "+code, chunkName, "t"); err == nil {
		return parseComplete, ""
	}
	l.SetTop(top)

	if err := lua.LoadBuffer(l, code, chunkName, "t"); err != nil {
		message := errorMessage(l, err)
		l.SetTop(top)
		if strings.HasSuffix(message, "<eof>") {
			return parseIncomplete, message
		}
		return parseInvalid, message
	}
	return parseComplete, ""
}

func (k *Kernel) submitCode(cmd *kernel.SubmitCode) {
	k.emit(cmd, &kernel.CodeSubmissionReceived{Code: cmd.Code})

	l := k.state
	top := l.Top()
	defer l.SetTop(top)

	status, message := k.load(cmd.Code)
	switch status {
	case parseIncomplete:
		k.emit(cmd, &kernel.IncompleteCodeSubmissionReceived{})
		k.fail(cmd, ErrorNameSyntax, message)
		return
	case parseInvalid:
		k.fail(cmd, ErrorNameSyntax, message)
		return
	}
	k.emit(cmd, &kernel.CompleteCodeSubmissionReceived{Code: cmd.Code})

	if err := l.ProtectedCall(0, lua.MultipleReturns, 0); err != nil {
		message := errorMessage(l, err)
		if strings.HasSuffix(message, errInterrupted.Error()) {
			k.fail(cmd, ErrorNameInterrupted, errInterrupted.Error())
			return
		}
		k.fail(cmd, ErrorNameRuntime, message)
		return
	}

	if results := l.Top() - top; results > 0 {
		var value interface{}
		if results == 1 {
			value = toGo(l, top+1, 0)
		} else {
			values := make([]interface{}, 0, results)
			for i := top + 1; i <= l.Top(); i++ {
				values = append(values, toGo(l, i, 0))
			}
			value = values
		}
		k.emit(cmd, &kernel.ReturnValueProduced{Value: value})
	}
	k.emit(cmd, kernel.NewCommandSucceeded(cmd))
}

// diagnoseSubmission compiles the code without running it. The command always succeeds; the parse
// outcome is carried by the informational and diagnostics events.
func (k *Kernel) diagnoseSubmission(cmd *kernel.SubmitCode) {
	k.emit(cmd, &kernel.CodeSubmissionReceived{Code: cmd.Code})

	l := k.state
	top := l.Top()
	status, message := k.load(cmd.Code)
	l.SetTop(top)

	switch status {
	case parseComplete:
		k.emit(cmd, &kernel.CompleteCodeSubmissionReceived{Code: cmd.Code})
		k.emit(cmd, &kernel.DiagnosticsProduced{})
	case parseIncomplete:
		k.emit(cmd, &kernel.IncompleteCodeSubmissionReceived{})
		k.emit(cmd, &kernel.DiagnosticsProduced{})
	case parseInvalid:
		k.emit(cmd, &kernel.DiagnosticsProduced{Diagnostics: []kernel.Diagnostic{newDiagnostic(message)}})
	}
	k.emit(cmd, kernel.NewCommandSucceeded(cmd))
}

func (k *Kernel) diagnose(code string) []kernel.Diagnostic {
	l := k.state
	top := l.Top()
	defer l.SetTop(top)

	if status, message := k.load(code); status != parseComplete {
		return []kernel.Diagnostic{newDiagnostic(message)}
	}
	return []kernel.Diagnostic{}
}

func (k *Kernel) fail(cmd kernel.Command, errorName string, message string) {
	failure := kernel.NewCommandFailed(cmd, message)
	failure.ErrorName = errorName
	k.emit(cmd, failure)
}

func newDiagnostic(message string) kernel.Diagnostic {
	d := kernel.Diagnostic{Severity: kernel.SeverityError, Message: message, Code: ErrorNameSyntax}
	if m := lineNumberPattern.FindStringSubmatch(message); m != nil {
		d.Line, _ = strconv.Atoi(m[1])
		d.Message = message[len(m[0]):]
	}
	return d
}

// errorMessage returns the error object left on the stack by a failed load or call.
func errorMessage(l *lua.State, err error) string {
	if l.Top() > 0 && l.TypeOf(-1) == lua.TypeString {
		if s, ok := l.ToString(-1); ok {
			return s
		}
	}
	return err.Error()
}

// toGo converts the Lua value at index into a Go value the renderer understands.
func toGo(l *lua.State, index int, depth int) interface{} {
	index = l.AbsIndex(index)

	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return nil
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeNumber:
		f, _ := l.ToNumber(index)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f)
		}
		return f
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeTable:
		if depth >= maxConversionDepth {
			return describe(l, index)
		}
		return tableToGo(l, index, depth+1)
	default:
		return describe(l, index)
	}
}

// tableToGo converts a table into a []interface{} if its keys are exactly 1..n, and into a
// map[string]interface{} otherwise.
func tableToGo(l *lua.State, index int, depth int) interface{} {
	entries := make(map[string]interface{})
	sequence := make(map[int64]interface{})
	isSequence := true

	l.PushNil()
	for l.Next(index) {
		// Key at -2, value at -1. The key must not be converted in place or Next loses its position.
		value := toGo(l, -1, depth)

		var key string
		if l.TypeOf(-2) == lua.TypeNumber {
			f, _ := l.ToNumber(-2)
			if f == math.Trunc(f) && f >= 1 {
				sequence[int64(f)] = value
			} else {
				isSequence = false
			}
			key = strconv.FormatFloat(f, 'f', -1, 64)
		} else {
			isSequence = false
			key = describe(l, -2)
		}
		entries[key] = value
		l.Pop(1)
	}

	if isSequence {
		values := make([]interface{}, len(sequence))
		for i := range values {
			v, ok := sequence[int64(i+1)]
			if !ok {
				isSequence = false
				break
			}
			values[i] = v
		}
		if isSequence {
			return values
		}
	}
	return entries
}

// describe returns the tostring() of the value at index without disturbing the stack.
func describe(l *lua.State, index int) string {
	if l.TypeOf(index) == lua.TypeString {
		s, _ := l.ToString(index)
		return s
	}
	s, ok := lua.ToStringMeta(l, index)
	l.Pop(1)
	if !ok {
		return fmt.Sprintf("<%s>", lua.TypeNameOf(l, index))
	}
	return s
}
