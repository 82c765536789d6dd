package looplang

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/antibyte/looplang/pkg/logger"
)

// LineReader supplies the line read by an INPUT statement.
type LineReader interface {
	ReadLine() (string, error)
}

type bufferedLineReader struct {
	r *bufio.Reader
}

// NewLineReader reads newline terminated lines from r.
func NewLineReader(r io.Reader) LineReader {
	return &bufferedLineReader{r: bufio.NewReader(r)}
}

// ReadLine returns the next line without its line ending. A final line
// without a newline is returned with a nil error; io.EOF follows it.
func (b *bufferedLineReader) ReadLine() (string, error) {
	line, err := b.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}

// Interpreter evaluates statements against a context, writing PRINT output
// to out and taking INPUT lines from in.
type Interpreter struct {
	out  io.Writer
	in   LineReader
	halt context.Context
}

// NewInterpreter returns an interpreter. in may be nil if no INPUT is expected.
func NewInterpreter(out io.Writer, in LineReader) *Interpreter {
	return &Interpreter{out: out, in: in, halt: context.Background()}
}

// StopWhen makes loops and calls give up with c's error once c is done.
func (it *Interpreter) StopWhen(c context.Context) {
	it.halt = c
}

// Interpret evaluates stmt once in ctx. Runtime errors without a position
// are given the position of the innermost statement that failed.
func (it *Interpreter) Interpret(stmt Statement, ctx Context) error {
	err := stmt.Accept(&evaluator{it: it, ctx: ctx})
	if err != nil {
		var le *LoopError
		if errors.As(err, &le) && le.Pos.IsZero() {
			le.Pos = stmt.Position()
		}
	}
	return err
}

func (it *Interpreter) interpretAll(body []Statement, ctx Context) error {
	for _, stmt := range body {
		if err := it.Interpret(stmt, ctx); err != nil {
			return err
		}
	}
	return nil
}

// evaluator binds the interpreter to the context a statement runs in.
type evaluator struct {
	it  *Interpreter
	ctx Context
}

func (e *evaluator) VisitZeroAssign(s *ZeroAssign) error {
	e.ctx.SetVariable(s.Variable, 0)
	return nil
}

func (e *evaluator) VisitIncrementAssign(s *IncrementAssign) error {
	v, err := variable(e.ctx, s.Variable)
	if err != nil {
		return err
	}
	if v == math.MaxUint64 {
		return newRuntimeError(ErrOverflow, "variable `%s` cannot be incremented past %d", s.Variable, v)
	}
	e.ctx.SetVariable(s.Variable, v+1)
	return nil
}

func (e *evaluator) VisitInputAssign(s *InputAssign) error {
	if err := e.write(render(s.Prompt, e.ctx)); err != nil {
		return err
	}
	if e.it.in == nil {
		return newRuntimeError(ErrInputClosed, "no input available for `%s`", s.Variable)
	}
	line, err := e.it.in.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return newRuntimeError(ErrInputClosed, "input ended before a value for `%s` was read", s.Variable)
		}
		le := newRuntimeError(ErrInputClosed, "cannot read input for `%s`", s.Variable)
		le.Cause = err
		return le
	}
	value, err := parseInput(line)
	if err != nil {
		return err
	}
	e.ctx.SetVariable(s.Variable, value)
	return nil
}

func (e *evaluator) VisitCallAssign(s *CallAssign) error {
	if err := e.it.halt.Err(); err != nil {
		return err
	}
	local, ok, err := ProgramContext(e.ctx, s.Program, s.Args)
	if err != nil {
		return err
	}
	if !ok {
		return newRuntimeError(ErrUnknownProgram, "program `%s` has not been defined yet", s.Program)
	}
	if _, bound := local.Variable(ReturnSlot); !bound {
		local.SetVariable(ReturnSlot, 0)
	}
	logger.Debug(logger.AreaInterpreter, "call %s(%s) from %s", s.Program, strings.Join(s.Args, ", "), e.ctx.Name())
	if err := e.it.interpretAll(e.ctx.ProgramBody(s.Program), local); err != nil {
		return err
	}
	result, _ := local.Variable(ReturnSlot)
	e.ctx.SetVariable(s.Variable, result)
	return nil
}

func (e *evaluator) VisitPrint(s *Print) error {
	return e.write(render(s.Args, e.ctx) + "\n")
}

func (e *evaluator) VisitLoop(s *Loop) error {
	count, err := variable(e.ctx, s.Variable)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		if err := e.it.halt.Err(); err != nil {
			return err
		}
		if err := e.it.interpretAll(s.Body, e.ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *evaluator) VisitDefinition(s *Definition) error {
	if err := e.ctx.SetProgram(s.Program, s.Params, s.Body); err != nil {
		return err
	}
	logger.Debug(logger.AreaInterpreter, "program %s defined in %s", s.Program, e.ctx.Name())
	return nil
}

func (e *evaluator) write(text string) error {
	if text == "" {
		return nil
	}
	if _, err := io.WriteString(e.it.out, text); err != nil {
		le := newRuntimeError(ErrOutput, "cannot write output")
		le.Cause = err
		return le
	}
	return nil
}

// render joins print arguments. Strings are copied verbatim; numbers and
// variables are separated from a preceding number or variable by one space.
func render(args []Token, ctx Context) string {
	var sb strings.Builder
	lastWasString := true
	for _, tok := range args {
		isString := tok.Kind == STRING
		if !lastWasString && !isString {
			sb.WriteByte(' ')
		}
		switch tok.Kind {
		case NUMBER:
			sb.WriteString(strconv.FormatUint(tok.Value, 10))
		case IDENTIFIER:
			if v, ok := ctx.Variable(tok.Text); ok {
				sb.WriteString(strconv.FormatUint(v, 10))
			} else {
				sb.WriteString("undefined")
			}
		default:
			sb.WriteString(tok.Text)
		}
		lastWasString = isString
	}
	return sb.String()
}

func parseInput(line string) (uint64, error) {
	text := strings.TrimSpace(line)
	if strings.HasPrefix(text, "-") {
		return 0, newRuntimeError(ErrBadInput, "negative input %q is not allowed", text)
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, newRuntimeError(ErrBadInput, "expected a non-negative integer; got %q", text)
	}
	return value, nil
}
