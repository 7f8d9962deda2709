package history

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	AccessTail   = "tail"
	AccessRange  = "range"
	AccessSearch = "search"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var (
	ErrUnknownAccessType = errors.New("unknown history access type")
	ErrUnknownBackend    = errors.New("unknown history backend")
	ErrStoreClosed       = errors.New("history store closed")
)

// Entry is one recorded execution.
type Entry struct {
	Session string `json:"session"`
	Line    int    `json:"line"`
	Input   string `json:"input"`
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry[Session=%s,Line=%d]", e.Session, e.Line)
}

// Store records the inputs of executed cells, oldest first. Implementations keep a bounded number of
// entries and evict the oldest ones first.
type Store interface {
	Append(ctx context.Context, entry Entry) error

	// Entries returns every retained entry, oldest first.
	Entries(ctx context.Context) ([]Entry, error)

	Len(ctx context.Context) (int, error)

	Close() error
}

// Query selects entries the way a history_request does.
type Query struct {
	AccessType string
	// Session restricts a range query. An empty Session selects the current session.
	Session string
	Start   int
	Stop    int
	N       int
	Pattern string
	Unique  bool
}

// Select evaluates the query against the store's entries.
func Select(ctx context.Context, store Store, query Query, currentSession string) ([]Entry, error) {
	entries, err := store.Entries(ctx)
	if err != nil {
		return nil, err
	}

	switch query.AccessType {
	case AccessTail, "":
		return tail(entries, query.N), nil
	case AccessRange:
		session := query.Session
		if session == "" {
			session = currentSession
		}
		selected := make([]Entry, 0)
		for _, e := range entries {
			if e.Session != session || e.Line < query.Start {
				continue
			}
			if query.Stop > 0 && e.Line >= query.Stop {
				continue
			}
			selected = append(selected, e)
		}
		return selected, nil
	case AccessSearch:
		pattern := query.Pattern
		if pattern == "" {
			pattern = "*"
		}
		matcher, err := compileGlob(pattern)
		if err != nil {
			return nil, err
		}
		selected := make([]Entry, 0)
		seen := make(map[string]bool)
		// Newest first so that Unique keeps the most recent occurrence.
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if !matcher.MatchString(e.Input) {
				continue
			}
			if query.Unique {
				if seen[e.Input] {
					continue
				}
				seen[e.Input] = true
			}
			selected = append(selected, e)
		}
		reverse(selected)
		return tail(selected, query.N), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccessType, query.AccessType)
	}
}

// compileGlob translates an fnmatch-style pattern into an anchored regular expression.
// '*' and '?' match any character, including '/' and newlines.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?s)\A`)

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			end := i + 1
			if end < len(runes) && (runes[end] == '!' || runes[end] == '^') {
				end++
			}
			if end < len(runes) && runes[end] == ']' {
				end++
			}
			for end < len(runes) && runes[end] != ']' {
				end++
			}
			if end >= len(runes) {
				// An unterminated class is a literal '['.
				b.WriteString(`\[`)
				continue
			}

			class := runes[i+1 : end]
			b.WriteByte('[')
			if len(class) > 0 && class[0] == '!' {
				b.WriteByte('^')
				class = class[1:]
			} else if len(class) > 0 && class[0] == '^' {
				b.WriteString(`\^`)
				class = class[1:]
			}
			for _, r := range class {
				if r == '\\' || r == '[' || r == ']' {
					b.WriteByte('\\')
				}
				b.WriteRune(r)
			}
			b.WriteByte(']')
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteString(`\z`)
	return regexp.Compile(b.String())
}

// tail returns the last n entries, or all of them if n is not positive.
func tail(entries []Entry, n int) []Entry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

func reverse(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
