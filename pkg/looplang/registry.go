package looplang

// Registry records which programs may be called. A name is added only once
// the END of its definition has been consumed, so a program can never call
// itself or anything defined after it. One Registry is shared by the parser
// of a source and all parsers nested inside it.
type Registry struct {
	defined map[string]bool
	open    map[string]int
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defined: make(map[string]bool),
		open:    make(map[string]int),
	}
}

// begin marks name as being defined.
func (r *Registry) begin(name string) {
	r.open[name]++
}

// finish closes the definition of name. When complete is false the body
// failed to parse and name stays uncallable.
func (r *Registry) finish(name string, complete bool) {
	if r.open[name]--; r.open[name] <= 0 {
		delete(r.open, name)
	}
	if complete && !r.defined[name] {
		r.defined[name] = true
		r.order = append(r.order, name)
	}
}

// IsDefined reports whether name has been completely parsed.
func (r *Registry) IsDefined(name string) bool {
	return r.defined[name]
}

// Names lists the defined programs in the order their definitions ended.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Clone returns an independent copy, used to parse ahead without side effects.
func (r *Registry) Clone() *Registry {
	c := NewRegistry()
	for name := range r.defined {
		c.defined[name] = true
	}
	for name, n := range r.open {
		c.open[name] = n
	}
	c.order = append(c.order, r.order...)
	return c
}

// check fails with ErrProgramNotDefined unless name may be called at tok.
// References from inside a definition that is still open get their own
// message; both cases are the same error.
func (r *Registry) check(name string, tok Token) error {
	if r.defined[name] {
		return nil
	}
	if r.open[name] > 0 {
		return newParseError(ErrProgramNotDefined, tok,
			"program `%s` is not fully-defined before call to it (its definition has not ended yet)", name)
	}
	return newParseError(ErrProgramNotDefined, tok, "program `%s` is not fully-defined before call to it", name)
}
