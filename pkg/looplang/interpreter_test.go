package looplang

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// run executes src in a fresh session that stops at the first error.
func run(t *testing.T, src, input string) (string, *GlobalContext, error) {
	t.Helper()
	var out strings.Builder
	s := NewSession(&out, NewLineReader(strings.NewReader(input)), Options{StopOnError: true})
	err := s.RunString(context.Background(), src, "<test>")
	return out.String(), s.Global(), err
}

func mustRun(t *testing.T, src, input string) (string, *GlobalContext) {
	t.Helper()
	out, g, err := run(t, src, input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return out, g
}

func wantVar(t *testing.T, g *GlobalContext, name string, want uint64) {
	t.Helper()
	got, ok := g.Variable(name)
	if !ok {
		t.Fatalf("%s is unbound", name)
	}
	if got != want {
		t.Errorf("%s = %d, want %d", name, got, want)
	}
}

const arithmetic = `
PROGRAM ASSIGN(x1) DO
  x0 := 0
  LOOP x1 DO x0 := x0 + 1 END
END

PROGRAM ADD(x1, x2) DO
  x0 := ASSIGN(x1)
  LOOP x2 DO x0 := x0 + 1 END
END

PROGRAM MULT(x1, x2) DO
  x0 := 0
  LOOP x2 DO x0 := ADD(x0, x1) END
END

PROGRAM PRED(x1) DO
  x0 := 0
  t := 0
  LOOP x1 DO
    x0 := ASSIGN(t)
    t := t + 1
  END
END

PROGRAM DIFF(x1, x2) DO
  x0 := ASSIGN(x1)
  LOOP x2 DO x0 := PRED(x0) END
END

PROGRAM POWER(x1, x2) DO
  x0 := 0
  x0 := x0 + 1
  LOOP x2 DO x0 := MULT(x0, x1) END
END

a := INPUT()
b := INPUT()
`

func TestArithmeticPrograms(t *testing.T) {
	tests := []struct {
		call string
		a, b string
		want uint64
	}{
		{"ASSIGN(a)", "5", "0", 5},
		{"ADD(a, b)", "3", "4", 7},
		{"ADD(a, b)", "0", "0", 0},
		{"MULT(a, b)", "6", "7", 42},
		{"MULT(a, b)", "6", "0", 0},
		{"PRED(a)", "5", "0", 4},
		{"PRED(a)", "0", "0", 0},
		{"DIFF(a, b)", "9", "4", 5},
		{"DIFF(a, b)", "4", "9", 0},
		{"POWER(a, b)", "2", "10", 1024},
		{"POWER(a, b)", "3", "0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.call+"/"+tt.a+","+tt.b, func(t *testing.T) {
			_, g := mustRun(t, arithmetic+"r := "+tt.call, tt.a+"\n"+tt.b+"\n")
			wantVar(t, g, "R", tt.want)
		})
	}
}

func TestEndToEndScenarios(t *testing.T) {
	t.Run("increments", func(t *testing.T) {
		_, g := mustRun(t, "x := 0; x := x + 1; x := x + 1", "")
		wantVar(t, g, "X", 2)
	})

	t.Run("loop over counter", func(t *testing.T) {
		_, g := mustRun(t, "c := 0; c := c+1; c := c+1; c := c+1; r := 0; LOOP c DO r := r + 1 END", "")
		wantVar(t, g, "R", 3)
	})

	t.Run("call with bound argument", func(t *testing.T) {
		_, g := mustRun(t, "PROGRAM ASSIGN(x1) DO x0 := 0; LOOP x1 DO x0 := x0 + 1 END END\nn := INPUT()\nr := ASSIGN(n)", "5\n")
		wantVar(t, g, "R", 5)
	})

	t.Run("undefined program is a parse error", func(t *testing.T) {
		_, _, err := run(t, "x := UNDEFINED(y)", "")
		if !IsParseError(err) || !errors.Is(err, ErrProgramNotDefined) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("forward reference is a parse error", func(t *testing.T) {
		_, g, err := run(t, "PROGRAM A(x1) DO x0 := B(x1) END\nPROGRAM B(x1) DO x0 := x1 END", "")
		if !IsParseError(err) || !errors.Is(err, ErrProgramNotDefined) {
			t.Fatalf("error = %v", err)
		}
		if !strings.HasPrefix(err.Error(), "<test>:1:24: ") {
			t.Errorf("error not reported at the reference to B: %v", err)
		}
		if g.ContainsProgram("A") || g.ContainsProgram("B") {
			t.Errorf("no program should be defined, got %v", g.Programs())
		}
	})

	t.Run("duplicate definition is a runtime error", func(t *testing.T) {
		_, g, err := run(t, "PROGRAM F() DO x0 := 0 END\nPROGRAM F() DO x0 := 0 END", "")
		if !IsRuntimeError(err) || !errors.Is(err, ErrProgramRedefined) {
			t.Fatalf("error = %v", err)
		}
		if want := "<test>:2:1-7: RUNTIME ERROR: program `F` has already been defined"; err.Error() != want {
			t.Errorf("Error() = %q, want %q", err, want)
		}
		if got := g.Programs(); len(got) != 1 {
			t.Errorf("Programs() = %v", got)
		}
	})
}

func TestLoopCountIsReadOnce(t *testing.T) {
	_, g := mustRun(t, `
n := 0; n := n + 1; n := n + 1; n := n + 1
c := 0
LOOP n DO
  n := n + 1
  c := c + 1
END`, "")
	wantVar(t, g, "C", 3)
	wantVar(t, g, "N", 6)
}

func TestLoopZeroTimes(t *testing.T) {
	_, g := mustRun(t, "n := 0\nLOOP n DO x := 0 END", "")
	if _, ok := g.Variable("X"); ok {
		t.Errorf("body of a zero-count loop ran")
	}
}

func TestNestedLoops(t *testing.T) {
	_, g := mustRun(t, `
n := INPUT()
c := 0
LOOP n DO
  LOOP n DO
    LOOP n DO
      c := c + 1
    END
  END
END`, "5\n")
	wantVar(t, g, "C", 125)
}

func TestCallIsolation(t *testing.T) {
	_, g := mustRun(t, `
PROGRAM BUMP(x1) DO
  x1 := x1 + 1
  y := 0
  x0 := x1
END
a := 0; a := a + 1
y := 0; y := y + 1; y := y + 1
r := BUMP(a)`, "")

	wantVar(t, g, "A", 1)
	wantVar(t, g, "Y", 2)
	wantVar(t, g, "R", 2)
	if _, ok := g.Variable("X1"); ok {
		t.Errorf("parameter leaked into the caller")
	}
}

func TestCalleeCannotSeeCallerVariables(t *testing.T) {
	_, _, err := run(t, "PROGRAM PEEK() DO LOOP secret DO END END\nsecret := 0\nr := PEEK()", "")
	if !errors.Is(err, ErrUndefinedVariable) {
		t.Errorf("error = %v, want ErrUndefinedVariable", err)
	}
}

func TestReturnSlot(t *testing.T) {
	t.Run("defaults to zero", func(t *testing.T) {
		_, g := mustRun(t, "PROGRAM NOTHING() DO y := 0 END\nr := 0; r := r + 1\nr := NOTHING()", "")
		wantVar(t, g, "R", 0)
	})

	t.Run("parameter named x0 is returned", func(t *testing.T) {
		_, g := mustRun(t, "PROGRAM ID(x0) DO END\na := INPUT()\nr := ID(a)", "17\n")
		wantVar(t, g, "R", 17)
	})

	t.Run("result may overwrite an argument", func(t *testing.T) {
		_, g := mustRun(t, "PROGRAM INC(x0) DO x0 := x0 + 1 END\na := 0\na := INC(a)\na := INC(a)", "")
		wantVar(t, g, "A", 2)
	})
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		input string
		want  error
		msg   string
	}{
		{"increment unbound", "x := x + 1", "", ErrUndefinedVariable, "<test>:1:1: RUNTIME ERROR: variable `X` has not been defined yet"},
		{"loop over unbound", "LOOP n DO END", "", ErrUndefinedVariable, "variable `N` has not been defined yet"},
		{"unbound argument", "PROGRAM F(x1) DO END\nr := F(q)", "", ErrUndefinedVariable, "variable `Q`"},
		{"arity", "PROGRAM F(x1) DO END\nr := F()", "", ErrArity, "defined to take 1 params, but called with 0 args"},
		{"nested definition", "PROGRAM OUTER() DO PROGRAM INNER() DO END END\nr := OUTER()", "", ErrNestedDefinition, "cannot define a nested program (`INNER` within `OUTER`)"},
		{"definition repeated by loop", "n := 0; n := n + 1; n := n + 1\nLOOP n DO PROGRAM P() DO END END", "", ErrProgramRedefined, "program `P` has already been defined"},
		{"negative input", "x := INPUT()", "-3\n", ErrBadInput, "negative input"},
		{"non numeric input", "x := INPUT()", "seven\n", ErrBadInput, "expected a non-negative integer"},
		{"input too large", "x := INPUT()", "18446744073709551616\n", ErrBadInput, "non-negative integer"},
		{"input exhausted", "x := INPUT()\ny := INPUT()", "1\n", ErrInputClosed, "input ended"},
		{"overflow", "x := INPUT()\nx := x + 1", "18446744073709551615\n", ErrOverflow, "cannot be incremented"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.src, tt.input)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if !IsRuntimeError(err) {
				t.Errorf("expected runtime error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q does not contain %q", err, tt.msg)
			}
		})
	}
}

func TestRuntimeErrorAtInnermostStatement(t *testing.T) {
	src := "PROGRAM F() DO\n  x0 := 0\n  LOOP q DO END\nEND\nr := F()"
	_, _, err := run(t, src, "")
	want := "<test>:3:3-6: RUNTIME ERROR: variable `Q` has not been defined yet"
	if err == nil || err.Error() != want {
		t.Errorf("error = %v, want %q", err, want)
	}
}

func TestPrint(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"empty", "PRINT()", "\n"},
		{"string verbatim", `PRINT("a  b\tc")`, "a  b\tc\n"},
		{"numbers are space separated", "PRINT(1, 2, 3)", "1 2 3\n"},
		{"strings are not separated", `PRINT("a", "b", 1, "c", 2, 3)`, "ab1c2 3\n"},
		{"variables", "x := 0; x := x + 1\nPRINT(\"x=\", x, x)", "x=1 1\n"},
		{"undefined variable", "PRINT(missing, 7)", "undefined 7\n"},
		{"several lines", "PRINT(\"one\")\nPRINT(\"two\")", "one\ntwo\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _ := mustRun(t, tt.src, "")
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestInput(t *testing.T) {
	out, g := mustRun(t, `n := INPUT("n? ")
m := INPUT("m (n=", n, ")? ")
k := INPUT()`, "  12 \r\n3\n4")
	if out != "n? m (n=12)? " {
		t.Errorf("prompts = %q", out)
	}
	wantVar(t, g, "N", 12)
	wantVar(t, g, "M", 3)
	wantVar(t, g, "K", 4)
}

func TestInputWithoutReader(t *testing.T) {
	var out strings.Builder
	s := NewSession(&out, nil, Options{StopOnError: true})
	err := s.RunString(context.Background(), "x := INPUT()", "<test>")
	if !errors.Is(err, ErrInputClosed) {
		t.Errorf("error = %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestOutputFailure(t *testing.T) {
	s := NewSession(failingWriter{}, nil, Options{StopOnError: true})
	err := s.RunString(context.Background(), `PRINT("x")`, "<test>")
	if !errors.Is(err, ErrOutput) {
		t.Fatalf("error = %v", err)
	}
	if !strings.HasSuffix(err.Error(), "cannot write output: disk full") {
		t.Errorf("Error() = %q", err)
	}
}
