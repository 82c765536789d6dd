package looplang

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/antibyte/looplang/pkg/logger"
)

// eof is returned by CharInput once the reader is exhausted.
const eof rune = -1

// CharInput yields runes from a reader and accepts pushed back runes,
// which are served last-in first-out before reading resumes.
type CharInput struct {
	r    io.RuneReader
	back []rune
}

// NewCharInput wraps r, buffering it unless it already reads runes.
func NewCharInput(r io.Reader) *CharInput {
	rr, ok := r.(io.RuneReader)
	if !ok {
		rr = bufio.NewReader(r)
	}
	return &CharInput{r: rr}
}

// Next returns the next rune, or eof at the end of input.
func (c *CharInput) Next() (rune, error) {
	if n := len(c.back); n > 0 {
		ch := c.back[n-1]
		c.back = c.back[:n-1]
		return ch, nil
	}
	ch, _, err := c.r.ReadRune()
	if err == io.EOF {
		return eof, nil
	}
	if err != nil {
		return eof, err
	}
	return ch, nil
}

// Pushback makes ch the next rune returned by Next.
func (c *CharInput) Pushback(ch rune) {
	c.back = append(c.back, ch)
}

// Lexer turns LOOP source into tokens.
type Lexer struct {
	chars     *CharInput
	file      string
	line      int
	left      int
	right     int
	lookahead []Token
}

// NewLexer scans r. file names the source in positions.
func NewLexer(r io.Reader, file string) *Lexer {
	if file == "" {
		file = "<input>"
	}
	return &Lexer{chars: NewCharInput(r), file: file, line: 1}
}

// Pushback returns tok to the stream. Pushed back tokens are served last-in
// first-out before any further scanning.
func (l *Lexer) Pushback(tok Token) {
	l.lookahead = append(l.lookahead, tok)
}

// Next returns the next token. At the end of input it returns an EOF token,
// and keeps returning one on every further call.
func (l *Lexer) Next() (Token, error) {
	if n := len(l.lookahead); n > 0 {
		tok := l.lookahead[n-1]
		l.lookahead = l.lookahead[:n-1]
		return tok, nil
	}
	for {
		ch, err := l.read()
		if err != nil {
			return Token{}, err
		}
		l.startToken()

		switch {
		case ch == eof:
			return l.emit(EOF, "")
		case ch == '\n':
			l.newLine()
		case ch == '\r':
			next, err := l.read()
			if err != nil {
				return Token{}, err
			}
			if next != '\n' {
				l.chars.Pushback(next)
				return Token{}, newScanError(ErrStrayCarriageReturn, l.pos(),
					"standalone CR control character (not followed by LF)")
			}
			l.newLine()
		case ch == ' ' || ch == '\t':
		case ch == '#':
			if err := l.skipComment(); err != nil {
				return Token{}, err
			}
		case ch == ':':
			next, err := l.read()
			if err != nil {
				return Token{}, err
			}
			if next != '=' {
				l.chars.Pushback(next)
				return Token{}, newScanError(ErrBadAssignOperator, l.pos(),
					"colon not followed by `=`, but %s", describeRune(next))
			}
			l.extend()
			return l.emit(ASSIGN, ":=")
		case ch == '+':
			return l.emit(PLUS, "+")
		case ch == '(':
			return l.emit(LPAREN, "(")
		case ch == ')':
			return l.emit(RPAREN, ")")
		case ch == ',':
			return l.emit(COMMA, ",")
		case ch == ';':
			return l.emit(SEMICOLON, ";")
		case ch == '"':
			return l.scanString()
		case isDigit(ch):
			return l.scanNumber(ch)
		case isLetter(ch):
			return l.scanIdentifier(ch)
		default:
			return Token{}, newScanError(ErrUnexpectedChar, l.pos(), "unrecognized symbol %s", describeRune(ch))
		}
	}
}

func (l *Lexer) read() (rune, error) {
	ch, err := l.chars.Next()
	if err != nil {
		return eof, &LoopError{
			Category: ErrCategoryScan,
			Err:      ErrSourceRead,
			Message:  "cannot read source",
			Pos:      l.pos(),
			Cause:    err,
		}
	}
	return ch, nil
}

func (l *Lexer) startToken() {
	l.right++
	l.left = l.right
}

func (l *Lexer) extend() {
	l.right++
}

func (l *Lexer) newLine() {
	l.line++
	l.left, l.right = 0, 0
}

func (l *Lexer) pos() Position {
	return Position{File: l.file, Line: l.line, Column: l.left, EndColumn: l.right}
}

func (l *Lexer) emit(kind Kind, text string) (Token, error) {
	tok, err := NewToken(kind, text).At(l.pos())
	if err == nil {
		logger.Debug(logger.AreaLexer, "%s%s", tok.Pos, tok)
	}
	return tok, err
}

// skipComment consumes the rest of the line. The newline itself ends the comment.
func (l *Lexer) skipComment() error {
	for {
		ch, err := l.read()
		if err != nil {
			return err
		}
		switch ch {
		case '\n':
			l.newLine()
			return nil
		case eof:
			l.chars.Pushback(eof)
			return nil
		}
		l.extend()
	}
}

func (l *Lexer) scanString() (Token, error) {
	var sb strings.Builder
	for {
		ch, err := l.read()
		if err != nil {
			return Token{}, err
		}
		l.extend()
		switch ch {
		case eof:
			l.chars.Pushback(eof)
			return Token{}, newScanError(ErrUnterminatedString, l.pos(), "unterminated string literal at end of input")
		case '\n':
			pos := l.pos()
			l.newLine()
			return Token{}, newScanError(ErrUnterminatedString, pos, "missing closing quote on string literal")
		case '"':
			return l.emit(STRING, sb.String())
		case '\\':
			esc, err := l.read()
			if err != nil {
				return Token{}, err
			}
			l.extend()
			switch esc {
			case 't':
				sb.WriteByte('\t')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case '"', '\\':
				sb.WriteRune(esc)
			default:
				if esc == eof || esc == '\n' {
					l.chars.Pushback(esc)
				}
				return Token{}, newScanError(ErrBadEscape, l.pos(), "unexpected string escape character %s", describeRune(esc))
			}
		default:
			sb.WriteRune(ch)
		}
	}
}

func (l *Lexer) scanNumber(first rune) (Token, error) {
	digits := []rune{first}
	for {
		ch, err := l.read()
		if err != nil {
			return Token{}, err
		}
		if !isDigit(ch) {
			l.chars.Pushback(ch)
			break
		}
		l.extend()
		digits = append(digits, ch)
	}
	text := string(digits)
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return Token{}, newScanError(ErrNumberRange, l.pos(), "number %s does not fit in 64 bits", text)
	}
	tok, err := l.emit(NUMBER, text)
	tok.Value = value
	return tok, err
}

func (l *Lexer) scanIdentifier(first rune) (Token, error) {
	name := []rune{first}
	for {
		ch, err := l.read()
		if err != nil {
			return Token{}, err
		}
		if !isLetter(ch) && !isDigit(ch) && ch != '_' {
			l.chars.Pushback(ch)
			break
		}
		l.extend()
		name = append(name, ch)
	}
	text := strings.ToUpper(string(name))
	if kind, ok := keywords[text]; ok {
		return l.emit(kind, text)
	}
	return l.emit(IDENTIFIER, text)
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch rune) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z')
}

func describeRune(ch rune) string {
	if ch == eof {
		return "end of input"
	}
	return strconv.QuoteRune(ch) + " (" + strconv.Itoa(int(ch)) + ")"
}
