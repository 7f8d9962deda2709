package render

import (
	"fmt"
	"html"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

func registerDefaults(b *Builder) {
	RegisterFor(b, func(_ *Registry, s string) Output { return plain(s) })
	RegisterFor(b, func(_ *Registry, f float64) Output { return plain(formatFloat(f, 64)) })
	RegisterFor(b, func(_ *Registry, f float32) Output { return plain(formatFloat(float64(f), 32)) })
	RegisterFor(b, func(_ *Registry, d decimal.Decimal) Output { return plain(d.String()) })
	RegisterFor(b, func(_ *Registry, t time.Time) Output { return plain(t.Format(time.RFC3339Nano)) })
	RegisterFor(b, func(_ *Registry, data []byte) Output {
		if utf8.Valid(data) {
			return plain(string(data))
		}
		return plain(fmt.Sprintf("%x", data))
	})
}

// formatFloat renders finite values through decimal, which cannot represent NaN or infinities.
func formatFloat(f float64, bitSize int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, bitSize)
	}
	if bitSize == 32 {
		return decimal.NewFromFloat32(float32(f)).String()
	}
	return decimal.NewFromFloat(f).String()
}

func plain(s string) Output {
	return Output{MimeType: MimeTextPlain, Content: s}
}

func renderNull(*Registry, interface{}) Output {
	return plain(NullText)
}

func renderDefault(_ *Registry, value interface{}) Output {
	return plain(fmt.Sprint(value))
}

func renderMapping(r *Registry, value interface{}) Output {
	v := reflect.ValueOf(value)

	type entry struct {
		key   string
		value interface{}
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		entries = append(entries, entry{key: r.PlainText(iter.Key().Interface()), value: iter.Value().Interface()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	var b strings.Builder
	b.WriteString("<table><thead><tr><th><i>key</i></th><th>value</th></tr></thead><tbody>")
	for _, e := range entries {
		writeRow(&b, e.key, r.PlainText(e.value))
	}
	b.WriteString("</tbody></table>")
	return Output{MimeType: MimeTextHTML, Content: b.String()}
}

func renderList(r *Registry, value interface{}) Output {
	v := reflect.ValueOf(value)
	items := make([]interface{}, v.Len())
	for i := range items {
		items[i] = v.Index(i).Interface()
	}
	return indexedTable(r, items)
}

func renderIterable(r *Registry, value interface{}) Output {
	var items []interface{}
	value.(Iterable).Each(func(elem interface{}) bool {
		items = append(items, elem)
		return true
	})
	return indexedTable(r, items)
}

func indexedTable(r *Registry, items []interface{}) Output {
	var b strings.Builder
	b.WriteString("<table><thead><tr><th><i>index</i></th><th>value</th></tr></thead><tbody>")
	for i, item := range items {
		writeRow(&b, fmt.Sprint(i), r.PlainText(item))
	}
	b.WriteString("</tbody></table>")
	return Output{MimeType: MimeTextHTML, Content: b.String()}
}

func writeRow(b *strings.Builder, key string, value string) {
	b.WriteString("<tr><td>")
	b.WriteString(html.EscapeString(key))
	b.WriteString("</td><td>")
	b.WriteString(html.EscapeString(value))
	b.WriteString("</td></tr>")
}

// PlainText returns a text/plain representation of any value. Values whose renderer produces text/plain
// use that text; composite values are written as JSON.
func (r *Registry) PlainText(value interface{}) string {
	out := r.Render(value)
	if out.MimeType == MimeTextPlain {
		return out.Content
	}

	if it, ok := value.(Iterable); ok {
		var items []interface{}
		it.Each(func(elem interface{}) bool {
			items = append(items, elem)
			return true
		})
		value = items
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(encoded)
}
