package looplang

import (
	"errors"

	"github.com/antibyte/looplang/pkg/logger"
)

// Parser is a recursive-descent parser producing one statement per call to Next.
type Parser struct {
	lexer    *Lexer
	registry *Registry
	until    Kind
	// depth counts LOOP and PROGRAM keywords read whose END has not been
	// consumed yet. Shared with body parsers.
	depth *int
}

// NewParser parses top-level statements from lexer until end of input.
func NewParser(lexer *Lexer, registry *Registry) *Parser {
	return &Parser{lexer: lexer, registry: registry, until: EOF, depth: new(int)}
}

// body returns a parser for a LOOP or PROGRAM body sharing lexer and registry.
func (p *Parser) body() *Parser {
	return &Parser{lexer: p.lexer, registry: p.registry, until: END, depth: p.depth}
}

// Next returns the next statement, or nil once the terminator (end of input
// at top level, END inside a block) has been consumed.
func (p *Parser) Next() (Statement, error) {
	for {
		tok, err := p.lexer.Next()
		if err != nil {
			return nil, err
		}
		switch tok.Kind {
		case IDENTIFIER:
			p.lexer.Pushback(tok)
			return p.parseAssign()
		case PRINT:
			p.lexer.Pushback(tok)
			return p.parsePrint()
		case LOOP:
			p.lexer.Pushback(tok)
			return p.parseLoop()
		case PROGRAM:
			p.lexer.Pushback(tok)
			return p.parseDefinition()
		case SEMICOLON:
			continue
		}
		if tok.Kind == p.until {
			if tok.Kind == END {
				*p.depth--
			}
			return nil, nil
		}
		return nil, p.unexpected(tok, "expected %s or a new statement; got %s", p.until, tok)
	}
}

// Recover skips what is left of a statement that failed to parse, so that
// the next call to Next starts at a top-level statement. Inside a block it
// discards tokens up to and including the END that closes the outermost
// open block. At top level it stops before the next token that starts a
// statement, or after a semicolon. Scan errors in the skipped text are
// dropped; a failing source read is returned.
func (p *Parser) Recover() error {
	for {
		tok, err := p.lexer.Next()
		if err != nil {
			if errors.Is(err, ErrSourceRead) {
				return err
			}
			continue
		}
		if tok.Kind == EOF {
			p.lexer.Pushback(tok)
			*p.depth = 0
			return nil
		}
		if *p.depth > 0 {
			switch tok.Kind {
			case LOOP, PROGRAM:
				*p.depth++
			case END:
				if *p.depth--; *p.depth == 0 {
					return nil
				}
			}
			continue
		}
		switch tok.Kind {
		case SEMICOLON:
			return nil
		case LOOP, PROGRAM, PRINT:
			p.lexer.Pushback(tok)
			return nil
		case IDENTIFIER:
			next, err := p.lexer.Next()
			if err != nil {
				if errors.Is(err, ErrSourceRead) {
					return err
				}
				continue
			}
			if next.Kind == ASSIGN {
				p.pushback(tok, next)
				return nil
			}
			p.lexer.Pushback(next)
		}
	}
}

// All parses every remaining statement.
func (p *Parser) All() ([]Statement, error) {
	var stmts []Statement
	for {
		stmt, err := p.Next()
		if err != nil {
			return stmts, err
		}
		if stmt == nil {
			return stmts, nil
		}
		stmts = append(stmts, stmt)
	}
}

// parseAssign reads up to four tokens to pick the assignment form, then
// pushes them back for the form's own routine.
func (p *Parser) parseAssign() (Statement, error) {
	target, err := p.expect(IDENTIFIER, "as lvalue variable name in assignment")
	if err != nil {
		return nil, err
	}
	assign, err := p.expect(ASSIGN, "after lvalue in assignment")
	if err != nil {
		return nil, err
	}
	arg1, err := p.lexer.Next()
	if err != nil {
		return nil, err
	}
	switch arg1.Kind {
	case NUMBER:
		p.pushback(target, assign, arg1)
		return p.parseZeroAssign()
	case INPUT:
		p.pushback(target, assign, arg1)
		return p.parseInputAssign()
	case IDENTIFIER:
	default:
		return nil, p.unexpected(arg1, "expected NUMBER or INPUT or IDENTIFIER after `:=` in assignment; got %s", arg1)
	}
	arg2, err := p.lexer.Next()
	if err != nil {
		return nil, err
	}
	switch arg2.Kind {
	case PLUS:
		p.pushback(target, assign, arg1, arg2)
		return p.parseIncrementAssign()
	case LPAREN:
		p.pushback(target, assign, arg1, arg2)
		return p.parseCallAssign()
	}
	return nil, p.unexpected(arg2, "expected PLUS or LPAREN after rvalue identifier in assignment; got %s", arg2)
}

func (p *Parser) parseZeroAssign() (Statement, error) {
	target, err := p.expect(IDENTIFIER, "as lvalue variable name in zero assignment")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(ASSIGN, "after lvalue in zero assignment"); err != nil {
		return nil, err
	}
	num, err := p.expect(NUMBER, "as rvalue in zero assignment")
	if err != nil {
		return nil, err
	}
	if num.Value != 0 {
		return nil, newParseError(ErrBadLiteral, num, "expected `0` in zero assignment; got %s", num)
	}
	return &ZeroAssign{Variable: target.Text, Pos: target.Pos}, nil
}

func (p *Parser) parseIncrementAssign() (Statement, error) {
	target, err := p.expect(IDENTIFIER, "as lvalue variable name in increment")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(ASSIGN, "after lvalue in increment"); err != nil {
		return nil, err
	}
	source, err := p.expect(IDENTIFIER, "as rvalue variable name in increment")
	if err != nil {
		return nil, err
	}
	if source.Text != target.Text {
		return nil, newParseError(ErrVariableMismatch, source,
			"expected matching variable names in increment; got `%s` and `%s`", target.Text, source.Text)
	}
	if _, err := p.expect(PLUS, "after rvalue variable name in increment"); err != nil {
		return nil, err
	}
	num, err := p.expect(NUMBER, "after plus sign in increment")
	if err != nil {
		return nil, err
	}
	if num.Value != 1 {
		return nil, newParseError(ErrBadLiteral, num, "expected number value of `1` in increment; got %s", num)
	}
	return &IncrementAssign{Variable: target.Text, Pos: target.Pos}, nil
}

func (p *Parser) parseInputAssign() (Statement, error) {
	target, err := p.expect(IDENTIFIER, "as lvalue variable name in input")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(ASSIGN, "after lvalue in input"); err != nil {
		return nil, err
	}
	if _, err := p.expect(INPUT, "in input"); err != nil {
		return nil, err
	}
	prompt, err := p.printArgs("in input arguments")
	if err != nil {
		return nil, err
	}
	return &InputAssign{Variable: target.Text, Prompt: prompt, Pos: target.Pos}, nil
}

func (p *Parser) parseCallAssign() (Statement, error) {
	target, err := p.expect(IDENTIFIER, "as lvalue variable name in call assignment")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(ASSIGN, "after lvalue in call assignment"); err != nil {
		return nil, err
	}
	program, err := p.expect(IDENTIFIER, "as program name in call")
	if err != nil {
		return nil, err
	}
	// The callee must be complete before its arguments are even looked at.
	if err := p.registry.check(program.Text, program); err != nil {
		return nil, err
	}
	args, err := p.names("in args list in call")
	if err != nil {
		return nil, err
	}
	return &CallAssign{Variable: target.Text, Program: program.Text, Args: args, Pos: target.Pos}, nil
}

func (p *Parser) parsePrint() (Statement, error) {
	kw, err := p.expect(PRINT, "in print")
	if err != nil {
		return nil, err
	}
	args, err := p.printArgs("in print arguments")
	if err != nil {
		return nil, err
	}
	return &Print{Args: args, Pos: kw.Pos}, nil
}

func (p *Parser) parseLoop() (Statement, error) {
	kw, err := p.expect(LOOP, "in loop")
	if err != nil {
		return nil, err
	}
	*p.depth++
	count, err := p.expect(IDENTIFIER, "as count variable in loop")
	if err != nil {
		return nil, err
	}
	if err := p.optionalDo(); err != nil {
		return nil, err
	}
	body, err := p.body().All()
	if err != nil {
		return nil, err
	}
	return &Loop{Variable: count.Text, Body: body, Pos: kw.Pos}, nil
}

func (p *Parser) parseDefinition() (Statement, error) {
	kw, err := p.expect(PROGRAM, "in definition")
	if err != nil {
		return nil, err
	}
	*p.depth++
	name, err := p.expect(IDENTIFIER, "as program in definition")
	if err != nil {
		return nil, err
	}
	params, err := p.names("in params list in definition")
	if err != nil {
		return nil, err
	}
	if err := p.optionalDo(); err != nil {
		return nil, err
	}

	p.registry.begin(name.Text)
	body, err := p.body().All()
	p.registry.finish(name.Text, err == nil)
	if err != nil {
		return nil, err
	}
	logger.Debug(logger.AreaParser, "%sprogram %s(%d params) registered", kw.Pos, name.Text, len(params))
	return &Definition{Program: name.Text, Params: params, Body: body, Pos: kw.Pos}, nil
}

// printArgs parses `( [STRING|NUMBER|IDENTIFIER {, ...}] )`.
func (p *Parser) printArgs(role string) ([]Token, error) {
	if _, err := p.expect(LPAREN, role); err != nil {
		return nil, err
	}
	var args []Token
	tok, err := p.lexer.Next()
	if err != nil {
		return nil, err
	}
	for tok.Kind == STRING || tok.Kind == NUMBER || tok.Kind == IDENTIFIER {
		args = append(args, tok)
		if tok, err = p.lexer.Next(); err != nil {
			return nil, err
		}
		if tok.Kind != COMMA {
			break
		}
		if tok, err = p.lexer.Next(); err != nil {
			return nil, err
		}
	}
	p.lexer.Pushback(tok)
	if _, err := p.expect(RPAREN, role); err != nil {
		return nil, err
	}
	return args, nil
}

// names parses a parenthesized, comma separated identifier list.
func (p *Parser) names(role string) ([]string, error) {
	if _, err := p.expect(LPAREN, role); err != nil {
		return nil, err
	}
	var names []string
	tok, err := p.lexer.Next()
	if err != nil {
		return nil, err
	}
	for tok.Kind == IDENTIFIER {
		names = append(names, tok.Text)
		if tok, err = p.lexer.Next(); err != nil {
			return nil, err
		}
		if tok.Kind != COMMA {
			break
		}
		if tok, err = p.lexer.Next(); err != nil {
			return nil, err
		}
	}
	p.lexer.Pushback(tok)
	if _, err := p.expect(RPAREN, role); err != nil {
		return nil, err
	}
	return names, nil
}

func (p *Parser) optionalDo() error {
	tok, err := p.lexer.Next()
	if err != nil {
		return err
	}
	if tok.Kind != DO {
		p.lexer.Pushback(tok)
	}
	return nil
}

func (p *Parser) expect(kind Kind, role string) (Token, error) {
	tok, err := p.lexer.Next()
	if err != nil {
		return tok, err
	}
	if tok.Kind != kind {
		return tok, p.unexpected(tok, "expected %s %s; got %s", kind, role, tok)
	}
	return tok, nil
}

// pushback returns toks so that toks[0] is read first.
func (p *Parser) pushback(toks ...Token) {
	for i := len(toks) - 1; i >= 0; i-- {
		p.lexer.Pushback(toks[i])
	}
}

// unexpected reports tok. An END or EOF is left in the stream so that
// Recover still sees where the enclosing block ends.
func (p *Parser) unexpected(tok Token, format string, args ...interface{}) error {
	if tok.Kind == END || tok.Kind == EOF {
		p.lexer.Pushback(tok)
	}
	return newParseError(ErrUnexpectedToken, tok, format, args...)
}
