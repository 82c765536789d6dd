package looplang

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a token.
type Kind int

const (
	EOF Kind = iota
	ASSIGN
	PLUS
	LPAREN
	RPAREN
	COMMA
	SEMICOLON
	STRING
	NUMBER
	IDENTIFIER
	PROGRAM
	LOOP
	DO
	END
	INPUT
	PRINT
)

var kindNames = map[Kind]string{
	EOF:        "EOF",
	ASSIGN:     "ASSIGN",
	PLUS:       "PLUS",
	LPAREN:     "LPAREN",
	RPAREN:     "RPAREN",
	COMMA:      "COMMA",
	SEMICOLON:  "SEMICOLON",
	STRING:     "STRING",
	NUMBER:     "NUMBER",
	IDENTIFIER: "IDENTIFIER",
	PROGRAM:    "PROGRAM",
	LOOP:       "LOOP",
	DO:         "DO",
	END:        "END",
	INPUT:      "INPUT",
	PRINT:      "PRINT",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// keywords is keyed by upper-cased identifier text.
var keywords = map[string]Kind{
	"PROGRAM": PROGRAM,
	"LOOP":    LOOP,
	"DO":      DO,
	"END":     END,
	"INPUT":   INPUT,
	"PRINT":   PRINT,
}

// Position locates a token in its source. Line and columns are 1-based,
// zero meaning "unknown". EndColumn is inclusive.
type Position struct {
	File      string
	Line      int
	Column    int
	EndColumn int
}

// IsZero reports whether no location information is present.
func (p Position) IsZero() bool {
	return p == Position{}
}

// String renders "file:line:col-end: ", leaving out the parts that are unknown.
func (p Position) String() string {
	var sb strings.Builder
	sb.WriteString(p.File)
	sb.WriteByte(':')
	if p.Line != 0 {
		sb.WriteString(strconv.Itoa(p.Line))
		sb.WriteByte(':')
		if p.Column != 0 {
			sb.WriteString(strconv.Itoa(p.Column))
			if p.EndColumn != p.Column {
				fmt.Fprintf(&sb, "-%d", p.EndColumn)
			}
			sb.WriteByte(':')
		}
	}
	sb.WriteByte(' ')
	return sb.String()
}

// Token is a classified lexeme. Text holds the identifier name (upper-cased),
// the unescaped string contents, or the digits of a number; Value holds the
// numeric value of a NUMBER.
type Token struct {
	Kind  Kind
	Text  string
	Value uint64
	Pos   Position

	located bool
}

// NewToken returns an unlocated token.
func NewToken(kind Kind, text string) Token {
	return Token{Kind: kind, Text: text}
}

// At returns a copy of t located at pos. Locating a token twice is a scan error.
func (t Token) At(pos Position) (Token, error) {
	if t.located {
		return t, newScanError(ErrRelocatedToken, pos,
			"attempt to relocate token %s already located at %s", t, strings.TrimSpace(t.Pos.String()))
	}
	t.Pos = pos
	t.located = true
	return t, nil
}

// Located reports whether At has been applied.
func (t Token) Located() bool {
	return t.located
}

// String gives the debugging form KIND or KIND[value].
func (t Token) String() string {
	switch t.Kind {
	case STRING:
		return t.Kind.String() + "[" + Escape(t.Text) + "]"
	case NUMBER, IDENTIFIER:
		return t.Kind.String() + "[" + t.Text + "]"
	default:
		return t.Kind.String()
	}
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
	`"`, `\"`,
)

// Escape quotes s as a LOOP string literal.
func Escape(s string) string {
	return `"` + escaper.Replace(s) + `"`
}
