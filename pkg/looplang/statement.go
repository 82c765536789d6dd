package looplang

import (
	"strconv"
	"strings"
)

// Statement is one parsed LOOP statement. The set of statements is closed;
// every Visitor handles each of them.
type Statement interface {
	Accept(v Visitor) error
	Position() Position
	String() string

	statement()
}

// Visitor has one method per statement type.
type Visitor interface {
	VisitZeroAssign(s *ZeroAssign) error
	VisitIncrementAssign(s *IncrementAssign) error
	VisitInputAssign(s *InputAssign) error
	VisitCallAssign(s *CallAssign) error
	VisitPrint(s *Print) error
	VisitLoop(s *Loop) error
	VisitDefinition(s *Definition) error
}

// ZeroAssign is `x := 0`.
type ZeroAssign struct {
	Variable string
	Pos      Position
}

// IncrementAssign is `x := x + 1`.
type IncrementAssign struct {
	Variable string
	Pos      Position
}

// InputAssign is `x := INPUT(prompt...)`.
type InputAssign struct {
	Variable string
	Prompt   []Token
	Pos      Position
}

// CallAssign is `x := P(args...)`.
type CallAssign struct {
	Variable string
	Program  string
	Args     []string
	Pos      Position
}

// Print is `PRINT(args...)`.
type Print struct {
	Args []Token
	Pos  Position
}

// Loop is `LOOP x DO body END`.
type Loop struct {
	Variable string
	Body     []Statement
	Pos      Position
}

// Definition is `PROGRAM P(params...) DO body END`.
type Definition struct {
	Program string
	Params  []string
	Body    []Statement
	Pos     Position
}

func (s *ZeroAssign) Accept(v Visitor) error      { return v.VisitZeroAssign(s) }
func (s *IncrementAssign) Accept(v Visitor) error { return v.VisitIncrementAssign(s) }
func (s *InputAssign) Accept(v Visitor) error     { return v.VisitInputAssign(s) }
func (s *CallAssign) Accept(v Visitor) error      { return v.VisitCallAssign(s) }
func (s *Print) Accept(v Visitor) error           { return v.VisitPrint(s) }
func (s *Loop) Accept(v Visitor) error            { return v.VisitLoop(s) }
func (s *Definition) Accept(v Visitor) error      { return v.VisitDefinition(s) }

func (s *ZeroAssign) Position() Position      { return s.Pos }
func (s *IncrementAssign) Position() Position { return s.Pos }
func (s *InputAssign) Position() Position     { return s.Pos }
func (s *CallAssign) Position() Position      { return s.Pos }
func (s *Print) Position() Position           { return s.Pos }
func (s *Loop) Position() Position            { return s.Pos }
func (s *Definition) Position() Position      { return s.Pos }

func (*ZeroAssign) statement()      {}
func (*IncrementAssign) statement() {}
func (*InputAssign) statement()     {}
func (*CallAssign) statement()      {}
func (*Print) statement()           {}
func (*Loop) statement()            {}
func (*Definition) statement()      {}

// The String methods reproduce source text: variables in lower case,
// program names in upper case, block bodies indented by two spaces.

func (s *ZeroAssign) String() string {
	return lower(s.Variable) + " := 0"
}

func (s *IncrementAssign) String() string {
	v := lower(s.Variable)
	return v + " := " + v + " + 1"
}

func (s *InputAssign) String() string {
	return lower(s.Variable) + " := INPUT(" + printArgsSource(s.Prompt) + ")"
}

func (s *CallAssign) String() string {
	return lower(s.Variable) + " := " + strings.ToUpper(s.Program) + "(" + joinNames(s.Args) + ")"
}

func (s *Print) String() string {
	return "PRINT(" + printArgsSource(s.Args) + ")"
}

func (s *Loop) String() string {
	return block("LOOP "+lower(s.Variable)+" DO", s.Body)
}

func (s *Definition) String() string {
	return block("PROGRAM "+strings.ToUpper(s.Program)+"("+joinNames(s.Params)+") DO", s.Body)
}

// Format renders a statement list as source, one statement per line.
func Format(stmts []Statement) string {
	lines := make([]string, len(stmts))
	for i, stmt := range stmts {
		lines[i] = stmt.String()
	}
	return strings.Join(lines, "\n")
}

func block(header string, body []Statement) string {
	var sb strings.Builder
	sb.WriteString(header)
	for _, stmt := range body {
		for _, line := range strings.Split(stmt.String(), "\n") {
			sb.WriteString("\n  ")
			sb.WriteString(line)
		}
	}
	sb.WriteString("\nEND")
	return sb.String()
}

func printArgsSource(args []Token) string {
	parts := make([]string, len(args))
	for i, tok := range args {
		switch tok.Kind {
		case STRING:
			parts[i] = Escape(tok.Text)
		case NUMBER:
			parts[i] = strconv.FormatUint(tok.Value, 10)
		case IDENTIFIER:
			parts[i] = lower(tok.Text)
		default:
			parts[i] = tok.Text
		}
	}
	return strings.Join(parts, ", ")
}

func joinNames(names []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = lower(name)
	}
	return strings.Join(parts, ", ")
}

func lower(s string) string {
	return strings.ToLower(s)
}
