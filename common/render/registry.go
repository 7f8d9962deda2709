package render

import (
	"reflect"
)

const (
	MimeTextPlain = "text/plain"
	MimeTextHTML  = "text/html"

	// NullText is the fixed representation of a null or absent value.
	NullText = "<null>"
)

// Output is a rendered value.
type Output struct {
	MimeType string
	Content  string
}

// Renderer renders a value. The registry is passed so that renderers of composite values can render
// their elements.
type Renderer func(r *Registry, value interface{}) Output

// Iterable is implemented by values that are neither maps nor slices but can enumerate their elements.
type Iterable interface {
	// Each calls fn for every element until fn returns false.
	Each(fn func(elem interface{}) bool)
}

// Registry selects a Renderer by the runtime type of a value:
//
//  1. nil (or a nil pointer or interface) uses the null renderer
//  2. an exact type registration
//  3. maps use the mapping renderer
//  4. slices and arrays use the list renderer
//  5. Iterable values use the iterable renderer
//  6. everything else uses the default renderer
//
// A Registry is immutable once built; use a Builder to create one.
type Registry struct {
	exact    map[reflect.Type]Renderer
	mapping  Renderer
	list     Renderer
	iterable Renderer
	fallback Renderer
	null     Renderer
}

// Builder assembles a Registry. A new Builder starts with the default renderers.
type Builder struct {
	exact    map[reflect.Type]Renderer
	mapping  Renderer
	list     Renderer
	iterable Renderer
	fallback Renderer
	null     Renderer
}

func NewBuilder() *Builder {
	b := &Builder{
		exact:    make(map[reflect.Type]Renderer),
		mapping:  renderMapping,
		list:     renderList,
		iterable: renderIterable,
		fallback: renderDefault,
		null:     renderNull,
	}
	registerDefaults(b)
	return b
}

// Register sets the renderer for values whose dynamic type is exactly t.
func (b *Builder) Register(t reflect.Type, renderer Renderer) *Builder {
	b.exact[t] = renderer
	return b
}

// RegisterFor is Register with the type taken from a sample value.
func RegisterFor[T any](b *Builder, renderer func(r *Registry, value T) Output) *Builder {
	return b.Register(reflect.TypeOf((*T)(nil)).Elem(), func(r *Registry, value interface{}) Output {
		return renderer(r, value.(T))
	})
}

func (b *Builder) Mapping(renderer Renderer) *Builder {
	b.mapping = renderer
	return b
}

func (b *Builder) List(renderer Renderer) *Builder {
	b.list = renderer
	return b
}

func (b *Builder) Iterable(renderer Renderer) *Builder {
	b.iterable = renderer
	return b
}

func (b *Builder) Default(renderer Renderer) *Builder {
	b.fallback = renderer
	return b
}

func (b *Builder) Null(renderer Renderer) *Builder {
	b.null = renderer
	return b
}

// Build returns an immutable Registry. The Builder may be reused afterwards.
func (b *Builder) Build() *Registry {
	exact := make(map[reflect.Type]Renderer, len(b.exact))
	for t, renderer := range b.exact {
		exact[t] = renderer
	}
	return &Registry{
		exact:    exact,
		mapping:  b.mapping,
		list:     b.list,
		iterable: b.iterable,
		fallback: b.fallback,
		null:     b.null,
	}
}

// Default returns a Registry with only the default renderers.
func Default() *Registry {
	return NewBuilder().Build()
}

// Render renders the value with the most specific renderer.
func (r *Registry) Render(value interface{}) Output {
	return r.Select(value)(r, value)
}

// Select returns the renderer that Render would use for the value.
func (r *Registry) Select(value interface{}) Renderer {
	if isNull(value) {
		return r.null
	}

	t := reflect.TypeOf(value)
	if renderer, ok := r.exact[t]; ok {
		return renderer
	}

	switch t.Kind() {
	case reflect.Map:
		return r.mapping
	case reflect.Slice, reflect.Array:
		return r.list
	}

	if _, ok := value.(Iterable); ok {
		return r.iterable
	}

	return r.fallback
}

// Bundle renders the value into a MIME bundle. Rich outputs are accompanied by a text/plain fallback.
func (r *Registry) Bundle(value interface{}) map[string]interface{} {
	out := r.Render(value)
	bundle := map[string]interface{}{out.MimeType: out.Content}
	if out.MimeType != MimeTextPlain {
		bundle[MimeTextPlain] = r.PlainText(value)
	}
	return bundle
}

func isNull(value interface{}) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	}
	return false
}
