package compose

import "fmt"

// Handler interprets one layer type's payload and folds its contribution into
// the composition. How the fold behaves (append, overlay, transform) belongs
// to the handler, not the resolver.
type Handler interface {
	Tag() Tag
	Apply(body []byte, in Inputs, cc *Context) error
}

// Registry maps layer tags to handlers. It is populated at build time and
// never grows afterwards; there is no dynamic loading.
type Registry struct {
	handlers map[Tag]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[Tag]Handler{}}
}

// Register adds a handler. Registering a tag twice is a programming error.
func (r *Registry) Register(h Handler) {
	if _, exists := r.handlers[h.Tag()]; exists {
		panic(fmt.Sprintf("layer handler for tag %s already registered", h.Tag()))
	}
	r.handlers[h.Tag()] = h
}

// Lookup returns the handler for a tag, or false for an unknown tag.
func (r *Registry) Lookup(tag Tag) (Handler, bool) {
	h, ok := r.handlers[tag]
	return h, ok
}

// DefaultRegistry returns the closed set of known layer handlers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(backgroundHandler{})
	r.Register(cardHandler{})
	r.Register(voiceHandler{})
	r.Register(subtitleHandler{})
	r.Register(watermarkHandler{})
	return r
}
