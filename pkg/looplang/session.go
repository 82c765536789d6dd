package looplang

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/antibyte/looplang/pkg/configuration"
	"github.com/antibyte/looplang/pkg/logger"
)

// Options decides what a Session does when a statement fails.
type Options struct {
	// StopOnError ends Run at the first error. Otherwise errors are logged
	// and parsing resumes with the next top-level statement; the rest of a
	// block that failed to parse is skipped.
	StopOnError bool
	// MaxErrors ends Run once this many errors were collected in continue mode.
	// Zero means no limit.
	MaxErrors int
}

// OptionsFromConfig reads the [Interpreter] section.
func OptionsFromConfig() Options {
	return Options{
		StopOnError: configuration.GetBool("Interpreter", "stop_on_error", true),
		MaxErrors:   configuration.GetInt("Interpreter", "max_errors", 25),
	}
}

// Session runs LOOP source against one global context, alternating one parse
// step with one interpret step so that a program is registered before the
// statement after it is parsed. A Session may run several sources in turn;
// definitions and variables carry over.
type Session struct {
	ID string

	registry *Registry
	global   *GlobalContext
	interp   *Interpreter
	opts     Options

	executed int
}

// NewSession returns a session writing to out and reading INPUT lines from in.
func NewSession(out io.Writer, in LineReader, opts Options) *Session {
	return &Session{
		ID:       uuid.New().String(),
		registry: NewRegistry(),
		global:   NewGlobalContext(),
		interp:   NewInterpreter(out, in),
		opts:     opts,
	}
}

// Global exposes the session's global context.
func (s *Session) Global() *GlobalContext { return s.global }

// Registry exposes the session's declaration registry.
func (s *Session) Registry() *Registry { return s.registry }

// Executed counts the top-level statements interpreted so far.
func (s *Session) Executed() int { return s.executed }

// Run parses and interprets src until it ends. ctx is checked between
// top-level statements and on every loop iteration or call. In continue mode
// all collected errors are returned joined together.
func (s *Session) Run(ctx context.Context, src io.Reader, name string) error {
	parser := NewParser(NewLexer(src, name), s.registry)
	s.interp.StopWhen(ctx)
	defer s.interp.StopWhen(context.Background())
	var errs []error

	fail := func(err error) bool {
		errs = append(errs, err)
		if s.opts.StopOnError || ctx.Err() != nil {
			logger.SessionDebug("session %s: stopping on %v", s.ID, err)
			return true
		}
		logger.SessionWarn("session %s: %v", s.ID, err)
		return s.opts.MaxErrors > 0 && len(errs) >= s.opts.MaxErrors
	}

	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		stmt, err := parser.Next()
		if err != nil {
			if fail(err) || errors.Is(err, ErrSourceRead) {
				return errors.Join(errs...)
			}
			if err := parser.Recover(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			continue
		}
		if stmt == nil {
			break
		}
		s.executed++
		if err := s.interp.Interpret(stmt, s.global); err != nil {
			if fail(err) {
				return errors.Join(errs...)
			}
		}
	}
	logger.SessionDebug("session %s: %s finished, %d statements so far, %d errors", s.ID, name, s.executed, len(errs))
	return errors.Join(errs...)
}

// RunString is Run over a string.
func (s *Session) RunString(ctx context.Context, src, name string) error {
	return s.Run(ctx, strings.NewReader(src), name)
}

// Probe parses src against a copy of the registry without running it.
// The session is not changed. IsIncomplete on the result tells whether
// src ends inside an unfinished statement.
func (s *Session) Probe(src string) error {
	parser := NewParser(NewLexer(strings.NewReader(src), "<probe>"), s.registry.Clone())
	_, err := parser.All()
	return err
}
