package suite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antibyte/looplang/pkg/logger"
	"github.com/antibyte/looplang/pkg/looplang"
)

// Result is the outcome of one case.
type Result struct {
	Case     string
	Output   string
	Err      error
	Failures []string
	Duration time.Duration
}

// Passed reports whether every expectation held.
func (r Result) Passed() bool { return len(r.Failures) == 0 }

// Report collects the results of a suite run.
type Report struct {
	Suite   string
	Results []Result
}

// Failed counts the cases that did not pass.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}

// Run executes every case in its own session. Cases never share programs
// or variables.
func Run(ctx context.Context, s *Suite) *Report {
	report := &Report{Suite: s.Name}
	for _, c := range s.Cases {
		if ctx.Err() != nil {
			report.Results = append(report.Results, Result{Case: c.Name, Err: ctx.Err(), Failures: []string{"not run: " + ctx.Err().Error()}})
			continue
		}
		res := RunCase(ctx, c)
		if res.Passed() {
			logger.Debug(logger.AreaSuite, "%s/%s passed in %v", s.Name, c.Name, res.Duration)
		} else {
			logger.Info(logger.AreaSuite, "%s/%s failed: %s", s.Name, c.Name, strings.Join(res.Failures, "; "))
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// RunCase runs a single case and checks its expectations.
func RunCase(ctx context.Context, c Case) Result {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	name := c.File
	if name == "" {
		name = c.Name
	}

	var out strings.Builder
	session := looplang.NewSession(&out, looplang.NewLineReader(strings.NewReader(c.Input)),
		looplang.Options{StopOnError: true})

	start := time.Now()
	err := session.RunString(ctx, c.Source, name)
	res := Result{Case: c.Name, Output: out.String(), Err: err, Duration: time.Since(start)}

	fail := func(format string, args ...interface{}) {
		res.Failures = append(res.Failures, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Error == "" && err != nil:
		fail("unexpected error: %v", err)
	case c.Error != "" && err == nil:
		fail("expected %s error, run succeeded", c.Error)
	case c.Error != "":
		if !matchesCategory(err, c.Error) {
			fail("expected %s error, got: %v", c.Error, err)
		}
		if c.ErrorContains != "" && !strings.Contains(err.Error(), c.ErrorContains) {
			fail("error %q does not contain %q", err, c.ErrorContains)
		}
	}

	if c.Output != nil && res.Output != *c.Output {
		fail("output = %q, want %q", res.Output, *c.Output)
	}

	names := make([]string, 0, len(c.Vars))
	for name := range c.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	global := session.Global()
	for _, name := range names {
		want := c.Vars[name]
		got, ok := global.Variable(name)
		switch {
		case !ok:
			fail("variable %s is unbound, want %d", strings.ToLower(name), want)
		case got != want:
			fail("variable %s = %d, want %d", strings.ToLower(name), got, want)
		}
	}
	return res
}

func matchesCategory(err error, category string) bool {
	switch category {
	case ExpectScan:
		return looplang.IsScanError(err)
	case ExpectParse:
		return looplang.IsParseError(err)
	case ExpectRuntime:
		return looplang.IsRuntimeError(err)
	default:
		return err != nil
	}
}
