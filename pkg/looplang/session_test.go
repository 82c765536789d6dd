package looplang

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSessionStopsOnFirstError(t *testing.T) {
	var out strings.Builder
	s := NewSession(&out, nil, Options{StopOnError: true})
	err := s.RunString(context.Background(), "PRINT(\"before\")\nLOOP n DO END\nPRINT(\"after\")", "<test>")

	if !errors.Is(err, ErrUndefinedVariable) {
		t.Fatalf("error = %v", err)
	}
	if out.String() != "before\n" {
		t.Errorf("output = %q", out.String())
	}
	if s.Executed() != 2 {
		t.Errorf("Executed() = %d, want 2", s.Executed())
	}
}

func TestSessionContinueMode(t *testing.T) {
	var out strings.Builder
	s := NewSession(&out, nil, Options{})
	src := `PRINT("one")
x := 5
LOOP n DO END
PRINT("two")
END
PRINT("three")`
	err := s.RunString(context.Background(), src, "<test>")

	if out.String() != "one\ntwo\nthree\n" {
		t.Errorf("output = %q", out.String())
	}
	if !errors.Is(err, ErrBadLiteral) || !errors.Is(err, ErrUndefinedVariable) || !errors.Is(err, ErrUnexpectedToken) {
		t.Errorf("joined error misses a cause: %v", err)
	}
	if lines := strings.Split(err.Error(), "\n"); len(lines) != 3 {
		t.Errorf("got %d errors, want 3:\n%v", len(lines), err)
	}
}

func TestSessionContinueSkipsFailedBlocks(t *testing.T) {
	var out strings.Builder
	s := NewSession(&out, nil, Options{})
	src := `c := 0; c := c + 1; c := c + 1
LOOP c DO x := F(y); PRINT("inside") END
PRINT("after")
PROGRAM A(x1) DO x0 := B(x1); z := 0 END
LOOP c DO LOOP c DO w := 7 END; PRINT("nested") END
PRINT("done")`
	err := s.RunString(context.Background(), src, "<test>")

	if out.String() != "after\ndone\n" {
		t.Errorf("output = %q", out.String())
	}
	lines := strings.Split(err.Error(), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d errors, want 3:\n%v", len(lines), err)
	}
	if !strings.Contains(lines[0], "`F`") || !strings.Contains(lines[1], "`B`") || !errors.Is(err, ErrBadLiteral) {
		t.Errorf("unexpected errors:\n%v", err)
	}
	for _, name := range []string{"X", "Z", "W"} {
		if _, ok := s.Global().Variable(name); ok {
			t.Errorf("%s bound from a block that failed to parse", name)
		}
	}
	if s.Registry().IsDefined("A") {
		t.Error("A registered despite its failed body")
	}
	if v, _ := s.Global().Variable("C"); v != 2 {
		t.Errorf("C = %d, want 2", v)
	}
}

func TestSessionMaxErrors(t *testing.T) {
	var out strings.Builder
	s := NewSession(&out, nil, Options{MaxErrors: 2})
	err := s.RunString(context.Background(), "LOOP a DO END\nLOOP b DO END\nLOOP c DO END\nPRINT(\"end\")", "<test>")

	if err == nil {
		t.Fatal("expected errors")
	}
	if strings.Contains(err.Error(), "`C`") {
		t.Errorf("run went past the error limit: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q", out.String())
	}
}

func TestSessionStateCarriesOver(t *testing.T) {
	var out strings.Builder
	s := NewSession(&out, nil, Options{StopOnError: true})
	ctx := context.Background()

	if err := s.RunString(ctx, "PROGRAM ONE() DO x0 := 0; x0 := x0 + 1 END", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.RunString(ctx, "r := ONE()\nPRINT(r)", "second"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "1\n" {
		t.Errorf("output = %q", out.String())
	}
	if names := s.Registry().Names(); len(names) != 1 || names[0] != "ONE" {
		t.Errorf("Registry().Names() = %v", names)
	}
}

func TestSessionErrorsNameTheSource(t *testing.T) {
	s := NewSession(&strings.Builder{}, nil, Options{StopOnError: true})
	err := s.RunString(context.Background(), "\n\n  y := NOPE()", "scripts/demo.loop")
	if err == nil || !strings.HasPrefix(err.Error(), "scripts/demo.loop:3:8-11: PARSE ERROR: ") {
		t.Errorf("error = %v", err)
	}
}

func TestSessionHonorsCancellation(t *testing.T) {
	var out strings.Builder
	s := NewSession(&out, nil, Options{StopOnError: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunString(ctx, `PRINT("never")`, "<test>")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v", err)
	}
	if out.Len() != 0 || s.Executed() != 0 {
		t.Errorf("statements ran after cancellation")
	}
}

func TestSessionProbe(t *testing.T) {
	s := NewSession(&strings.Builder{}, nil, Options{StopOnError: true})

	if err := s.Probe("LOOP x DO"); !IsIncomplete(err) {
		t.Errorf("Probe(open loop) = %v, want incomplete", err)
	}
	if err := s.Probe("PROGRAM P() DO x0 := 0 END\nr := P()"); err != nil {
		t.Errorf("Probe(valid) = %v", err)
	}
	if s.Registry().IsDefined("P") {
		t.Errorf("Probe must not register programs")
	}
	if s.Executed() != 0 || len(s.Global().Programs()) != 0 {
		t.Errorf("Probe must not run anything")
	}
	if err := s.Probe("x := 3"); err == nil || IsIncomplete(err) {
		t.Errorf("Probe(bad literal) = %v", err)
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	a := NewSession(&strings.Builder{}, nil, Options{})
	b := NewSession(&strings.Builder{}, nil, Options{})
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("IDs %q and %q", a.ID, b.ID)
	}
}

func TestSessionCancelsLongLoops(t *testing.T) {
	s := NewSession(&strings.Builder{}, NewLineReader(strings.NewReader("1000000\n")), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.RunString(ctx, "n := INPUT()\nLOOP n DO LOOP n DO x := 0 END END\nPRINT(\"unreachable\")", "<test>")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v", err)
	}
	if s.Executed() != 2 {
		t.Errorf("Executed() = %d, want 2", s.Executed())
	}
}
