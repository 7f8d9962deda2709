package luakernel

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Shopify/go-lua"

	"github.com/scusemua/notebook-bridge/common/kernel"
)

const (
	CompletionKeyword  = "keyword"
	CompletionFunction = "function"
	CompletionModule   = "module"
	CompletionVariable = "variable"
)

var keywords = []string{
	"and", "break", "do", "else", "elseif", "end", "false", "for", "function", "goto", "if", "in",
	"local", "nil", "not", "or", "repeat", "return", "then", "true", "until", "while",
}

func isIdentifierRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// complete completes the dotted identifier ending at cursor, a rune offset into code. Names after a
// dot are looked up as fields of the table named before it, e.g. "string.fo" offers "format".
func (k *Kernel) complete(code string, cursor int) *kernel.CompletionsProduced {
	runes := []rune(code)
	if cursor < 0 || cursor > len(runes) {
		cursor = len(runes)
	}

	start := cursor
	for start > 0 && isIdentifierRune(runes[start-1]) {
		start--
	}
	prefix := string(runes[start:cursor])

	var path []string
	for end := start; end > 0 && runes[end-1] == '.'; {
		begin := end - 1
		for begin > 0 && isIdentifierRune(runes[begin-1]) {
			begin--
		}
		if begin == end-1 {
			break
		}
		path = append([]string{string(runes[begin : end-1])}, path...)
		end = begin
	}

	result := &kernel.CompletionsProduced{
		Completions:      []kernel.CompletionItem{},
		ReplacementStart: start,
		ReplacementEnd:   cursor,
	}

	seen := make(map[string]bool)
	add := func(name string, kind string) {
		if seen[name] || !strings.HasPrefix(name, prefix) {
			return
		}
		seen[name] = true
		result.Completions = append(result.Completions, kernel.CompletionItem{DisplayText: name, InsertText: name, Kind: kind})
	}

	for name, kind := range k.fields(path) {
		add(name, kind)
	}
	if len(path) == 0 {
		for _, keyword := range keywords {
			add(keyword, CompletionKeyword)
		}
	}

	sort.Slice(result.Completions, func(i, j int) bool {
		return result.Completions[i].DisplayText < result.Completions[j].DisplayText
	})
	return result
}

// fields returns the string keys of the table reached by following path from the global table.
func (k *Kernel) fields(path []string) map[string]string {
	l := k.state
	top := l.Top()
	defer l.SetTop(top)

	l.PushGlobalTable()
	for _, name := range path {
		if l.TypeOf(-1) != lua.TypeTable {
			return nil
		}
		l.Field(-1, name)
		l.Remove(-2)
	}
	if l.TypeOf(-1) != lua.TypeTable {
		return nil
	}

	names := make(map[string]string)
	table := l.AbsIndex(-1)
	l.PushNil()
	for l.Next(table) {
		if l.TypeOf(-2) == lua.TypeString {
			name, _ := l.ToString(-2)
			switch l.TypeOf(-1) {
			case lua.TypeFunction:
				names[name] = CompletionFunction
			case lua.TypeTable:
				names[name] = CompletionModule
			default:
				names[name] = CompletionVariable
			}
		}
		l.Pop(1)
	}
	return names
}
