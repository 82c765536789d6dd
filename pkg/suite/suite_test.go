package suite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
name: sample
cases:
  - name: increments
    source: "x := 0; x := x + 1; x := x + 1"
    vars: {x: 2}
  - name: echo
    source: |
      n := INPUT("n? ")
      PRINT("got ", n)
    input: "5\n"
    output: "n? got 5\n"
  - name: undefined program
    source: "x := UNDEFINED(y)"
    error: parse
    error_contains: "not fully-defined"
  - name: from file
    file: assign.loop
    input: "3\n"
    vars: {R: 3}
`

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	loop := "PROGRAM ASSIGN(x1) DO x0 := 0; LOOP x1 DO x0 := x0 + 1 END END\nn := INPUT()\nr := ASSIGN(n)\n"
	if err := os.WriteFile(filepath.Join(dir, "assign.loop"), []byte(loop), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndRun(t *testing.T) {
	s, err := Load(writeSuite(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "sample" || len(s.Cases) != 4 {
		t.Fatalf("loaded %q with %d cases", s.Name, len(s.Cases))
	}
	if s.Cases[0].Vars["X"] != 2 {
		t.Errorf("variable names should be upper-cased: %v", s.Cases[0].Vars)
	}
	if !strings.HasSuffix(s.Cases[3].File, "assign.loop") {
		t.Errorf("case file = %q", s.Cases[3].File)
	}

	report := Run(context.Background(), s)
	if report.Failed() != 0 {
		for _, res := range report.Results {
			if !res.Passed() {
				t.Errorf("%s: %v", res.Case, res.Failures)
			}
		}
	}
}

func TestFailuresAreReported(t *testing.T) {
	out := "wrong\n"
	tests := []struct {
		name string
		c    Case
		want string
	}{
		{"unexpected error", Case{Source: "LOOP n DO END"}, "unexpected error"},
		{"missing error", Case{Source: "x := 0", Error: ExpectRuntime}, "run succeeded"},
		{"wrong category", Case{Source: "x := NOPE()", Error: ExpectRuntime}, "expected runtime error"},
		{"wrong message", Case{Source: "x := NOPE()", Error: ExpectParse, ErrorContains: "zzz"}, "does not contain"},
		{"output", Case{Source: "PRINT(1)", Output: &out}, "output = \"1\\n\""},
		{"unbound variable", Case{Source: "x := 0", Vars: map[string]uint64{"Y": 1}}, "variable y is unbound"},
		{"wrong value", Case{Source: "x := 0", Vars: map[string]uint64{"X": 1}}, "variable x = 0, want 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := RunCase(context.Background(), tt.c)
			if res.Passed() {
				t.Fatalf("case passed")
			}
			if !strings.Contains(strings.Join(res.Failures, "; "), tt.want) {
				t.Errorf("failures %v do not mention %q", res.Failures, tt.want)
			}
		})
	}
}

func TestTimeoutStopsRun(t *testing.T) {
	src := `
n := INPUT()
LOOP n DO LOOP n DO x := 0 END END`
	res := RunCase(context.Background(), Case{
		Name:    "slow",
		Source:  src,
		Input:   "100000\n",
		Error:   ExpectAny,
		Timeout: 50 * time.Millisecond,
	})
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", res.Err)
	}
	if !res.Passed() {
		t.Errorf("failures: %v", res.Failures)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "is empty"},
		{"unknown field", "name: x\ncases:\n  - name: a\n    source: x := 0\n    expect: 1\n", "field expect not found"},
		{"no cases", "name: x\n", "no cases"},
		{"missing name", "cases:\n  - source: x := 0\n", "name must be provided"},
		{"duplicate name", "cases:\n  - {name: a, source: x := 0}\n  - {name: a, source: x := 0}\n", "duplicate name"},
		{"no source", "cases:\n  - name: a\n", "source or file must be provided"},
		{"both sources", "cases:\n  - {name: a, source: x := 0, file: a.loop}\n", "mutually exclusive"},
		{"missing file", "cases:\n  - {name: a, file: missing.loop}\n", "missing.loop"},
		{"bad category", "cases:\n  - {name: a, source: x := 0, error: lexer}\n", "unknown error category"},
		{"vars with error", "cases:\n  - {name: a, source: x := 0, error: parse, vars: {x: 0}}\n", "vars cannot be checked"},
		{"bad timeout", "cases:\n  - {name: a, source: x := 0, timeout: soon}\n", "invalid timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.content), filepath.Join(t.TempDir(), "bad.yaml"))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestSuiteNameDefaultsToFileName(t *testing.T) {
	s, err := Decode(strings.NewReader("cases:\n  - {name: a, source: x := 0}\n"), "/tmp/basics.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "basics" {
		t.Errorf("Name = %q", s.Name)
	}
}

func TestExampleSuite(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "examples", "suite.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	report := Run(context.Background(), s)
	for _, res := range report.Results {
		if !res.Passed() {
			t.Errorf("%s: %v", res.Case, res.Failures)
		}
	}
}
