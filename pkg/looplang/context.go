package looplang

import (
	"sort"
)

// ReturnSlot is the variable whose final value a call yields to its caller.
const ReturnSlot = "X0"

// Context is a variable scope plus access to the program table.
// Programs and variables live in separate namespaces.
type Context interface {
	Name() string

	Variable(name string) (uint64, bool)
	SetVariable(name string, value uint64)

	ContainsProgram(name string) bool
	ProgramParams(name string) []string
	ProgramBody(name string) []Statement
	SetProgram(name string, params []string, body []Statement) error
}

type program struct {
	params []string
	body   []Statement
}

// GlobalContext owns the program table and the top-level variables.
type GlobalContext struct {
	programs  map[string]program
	order     []string
	variables map[string]uint64
}

// NewGlobalContext returns an empty global scope.
func NewGlobalContext() *GlobalContext {
	return &GlobalContext{
		programs:  make(map[string]program),
		variables: make(map[string]uint64),
	}
}

func (g *GlobalContext) Name() string { return "<global>" }

func (g *GlobalContext) Variable(name string) (uint64, bool) {
	v, ok := g.variables[name]
	return v, ok
}

func (g *GlobalContext) SetVariable(name string, value uint64) {
	g.variables[name] = value
}

func (g *GlobalContext) ContainsProgram(name string) bool {
	_, ok := g.programs[name]
	return ok
}

func (g *GlobalContext) ProgramParams(name string) []string {
	return g.programs[name].params
}

func (g *GlobalContext) ProgramBody(name string) []Statement {
	return g.programs[name].body
}

// SetProgram defines name. Each name can be defined once.
func (g *GlobalContext) SetProgram(name string, params []string, body []Statement) error {
	if g.ContainsProgram(name) {
		return newRuntimeError(ErrProgramRedefined, "program `%s` has already been defined", name)
	}
	g.programs[name] = program{params: params, body: body}
	g.order = append(g.order, name)
	return nil
}

// VariableNames returns the bound variable names in sorted order.
func (g *GlobalContext) VariableNames() []string {
	names := make([]string, 0, len(g.variables))
	for name := range g.variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Variables returns a copy of the top-level bindings.
func (g *GlobalContext) Variables() map[string]uint64 {
	vars := make(map[string]uint64, len(g.variables))
	for name, v := range g.variables {
		vars[name] = v
	}
	return vars
}

// Programs returns the defined program names in definition order.
func (g *GlobalContext) Programs() []string {
	names := make([]string, len(g.order))
	copy(names, g.order)
	return names
}

// LocalContext is the scope of a single call. Its variables are its own;
// program lookups go to the parent, which it never writes to.
type LocalContext struct {
	name      string
	parent    Context
	variables map[string]uint64
}

func newLocalContext(name string, parent Context) *LocalContext {
	return &LocalContext{name: name, parent: parent, variables: make(map[string]uint64)}
}

func (l *LocalContext) Name() string { return l.name }

func (l *LocalContext) Variable(name string) (uint64, bool) {
	v, ok := l.variables[name]
	return v, ok
}

func (l *LocalContext) SetVariable(name string, value uint64) {
	l.variables[name] = value
}

func (l *LocalContext) ContainsProgram(name string) bool    { return l.parent.ContainsProgram(name) }
func (l *LocalContext) ProgramParams(name string) []string  { return l.parent.ProgramParams(name) }
func (l *LocalContext) ProgramBody(name string) []Statement { return l.parent.ProgramBody(name) }

// SetProgram always fails: definitions cannot be nested in a call.
func (l *LocalContext) SetProgram(name string, _ []string, _ []Statement) error {
	return newRuntimeError(ErrNestedDefinition, "cannot define a nested program (`%s` within `%s`)", name, l.name)
}

// ProgramContext builds the scope for calling name with the caller's variables
// args. Each parameter receives a copy of the matching argument's current value.
// ok is false when no such program exists.
func ProgramContext(caller Context, name string, args []string) (local *LocalContext, ok bool, err error) {
	if !caller.ContainsProgram(name) {
		return nil, false, nil
	}
	params := caller.ProgramParams(name)
	if len(params) != len(args) {
		return nil, true, newRuntimeError(ErrArity,
			"program `%s` defined to take %d params, but called with %d args", name, len(params), len(args))
	}
	local = newLocalContext(name, caller)
	for i, arg := range args {
		value, err := variable(caller, arg)
		if err != nil {
			return nil, true, err
		}
		local.SetVariable(params[i], value)
	}
	return local, true, nil
}

// variable reads name, failing if it is unbound.
func variable(ctx Context, name string) (uint64, error) {
	v, ok := ctx.Variable(name)
	if !ok {
		return 0, newRuntimeError(ErrUndefinedVariable, "variable `%s` has not been defined yet", name)
	}
	return v, nil
}
