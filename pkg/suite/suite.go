// Package suite runs LOOP programs against expectations declared in YAML.
//
//	name: arithmetic
//	cases:
//	  - name: add
//	    file: add.loop        # or inline `source:`
//	    input: "3\n4\n"
//	    output: "7\n"
//	    vars: {r: 7}
//	  - name: forward reference
//	    source: "x := B(y)"
//	    error: parse
//	    error_contains: "not fully-defined"
package suite

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Error categories a case may expect.
const (
	ExpectScan    = "scan"
	ExpectParse   = "parse"
	ExpectRuntime = "runtime"
	ExpectAny     = "any"
)

// Suite is a list of cases loaded from one file.
type Suite struct {
	Name  string
	Path  string
	Cases []Case
}

// Case is one program run in a fresh session.
type Case struct {
	Name   string
	Source string
	File   string // resolved path when the source came from a file
	Input  string
	Output *string
	Vars   map[string]uint64
	// Error is empty when the run must succeed.
	Error         string
	ErrorContains string
	Timeout       time.Duration
}

type suiteFile struct {
	Name  string     `yaml:"name"`
	Cases []caseFile `yaml:"cases"`
}

type caseFile struct {
	Name          string            `yaml:"name"`
	Source        string            `yaml:"source"`
	File          string            `yaml:"file"`
	Input         string            `yaml:"input"`
	Output        *string           `yaml:"output"`
	Vars          map[string]uint64 `yaml:"vars"`
	Error         string            `yaml:"error"`
	ErrorContains string            `yaml:"error_contains"`
	Timeout       string            `yaml:"timeout"`
}

// ValidationError lists every problem found in a suite file.
type ValidationError struct {
	Path   string
	Issues []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "suite: %s is invalid:", e.Path)
	for _, issue := range e.Issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	return b.String()
}

// Load reads and validates the suite at path. Case files are resolved
// relative to the suite's directory.
func Load(path string) (*Suite, error) {
	if path == "" {
		return nil, fmt.Errorf("suite: empty path")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("suite: open %s: %w", path, err)
	}
	defer file.Close()

	return Decode(file, path)
}

// Decode parses a suite from r. path names the suite in errors and anchors
// relative case files.
func Decode(r io.Reader, path string) (*Suite, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var raw suiteFile
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("suite: %s is empty", path)
		}
		return nil, fmt.Errorf("suite: parse %s: %w", path, err)
	}
	return raw.toSuite(path)
}

func (raw suiteFile) toSuite(path string) (*Suite, error) {
	s := &Suite{Name: raw.Name, Path: path}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	errs := &ValidationError{Path: path}
	if len(raw.Cases) == 0 {
		errs.Issues = append(errs.Issues, "no cases")
	}
	seen := make(map[string]bool)
	dir := filepath.Dir(path)

	for i, rc := range raw.Cases {
		label := fmt.Sprintf("cases[%d]", i)
		if rc.Name != "" {
			label = fmt.Sprintf("case %q", rc.Name)
		}

		c := Case{
			Name:          rc.Name,
			Source:        rc.Source,
			Input:         rc.Input,
			Output:        rc.Output,
			Vars:          make(map[string]uint64, len(rc.Vars)),
			Error:         strings.ToLower(rc.Error),
			ErrorContains: rc.ErrorContains,
		}
		if c.Name == "" {
			errs.Issues = append(errs.Issues, label+": name must be provided")
		} else if seen[c.Name] {
			errs.Issues = append(errs.Issues, label+": duplicate name")
		}
		seen[c.Name] = true

		switch {
		case rc.Source != "" && rc.File != "":
			errs.Issues = append(errs.Issues, label+": source and file are mutually exclusive")
		case rc.File != "":
			c.File = rc.File
			if !filepath.IsAbs(c.File) {
				c.File = filepath.Join(dir, c.File)
			}
			data, err := os.ReadFile(c.File)
			if err != nil {
				errs.Issues = append(errs.Issues, fmt.Sprintf("%s: %v", label, err))
			}
			c.Source = string(data)
		case rc.Source == "":
			errs.Issues = append(errs.Issues, label+": source or file must be provided")
		}

		switch c.Error {
		case "", ExpectScan, ExpectParse, ExpectRuntime, ExpectAny:
		default:
			errs.Issues = append(errs.Issues, fmt.Sprintf("%s: unknown error category %q", label, rc.Error))
		}
		if c.ErrorContains != "" && c.Error == "" {
			c.Error = ExpectAny
		}
		if c.Error != "" && len(rc.Vars) > 0 {
			errs.Issues = append(errs.Issues, label+": vars cannot be checked when an error is expected")
		}

		// Variable names are case-insensitive in LOOP
		for name, v := range rc.Vars {
			c.Vars[strings.ToUpper(name)] = v
		}

		if rc.Timeout != "" {
			d, err := time.ParseDuration(rc.Timeout)
			if err != nil || d <= 0 {
				errs.Issues = append(errs.Issues, fmt.Sprintf("%s: invalid timeout %q", label, rc.Timeout))
			}
			c.Timeout = d
		}
		s.Cases = append(s.Cases, c)
	}

	if len(errs.Issues) > 0 {
		return nil, errs
	}
	return s, nil
}
