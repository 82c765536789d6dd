package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antibyte/looplang/pkg/configuration"
	"github.com/antibyte/looplang/pkg/logger"
	"github.com/antibyte/looplang/pkg/looplang"
	"github.com/antibyte/looplang/pkg/store"
)

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	keepGoing := fs.Bool("keep-going", false, "report errors and continue with the next statement")
	maxErrors := fs.Int("max-errors", -1, "with -keep-going, stop after this many errors (0 = no limit)")
	inputFile := fs.String("input", "", "read INPUT lines from this file instead of stdin")
	script := fs.String("script", "", "run a stored script")
	record := fs.Bool("record", false, "record the run in the script store")
	timeout := fs.Duration("timeout", 0, "cancel the run after this long")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	opts := looplang.OptionsFromConfig()
	if *keepGoing {
		opts.StopOnError = false
	}
	if *maxErrors >= 0 {
		opts.MaxErrors = *maxErrors
	}

	var st *store.Store
	if *script != "" || *record {
		var err error
		if st, err = store.OpenFromConfig(); err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			return 1
		}
		defer st.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	var src, name, scriptName string
	switch {
	case *script != "":
		if fs.NArg() != 0 {
			fmt.Fprintf(os.Stderr, "usage: %s run -script NAME\n", appName)
			return 2
		}
		s, err := st.GetScript(ctx, *script)
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			return 1
		}
		src, name, scriptName = s.Source, s.Name, s.Name
	case fs.NArg() == 1:
		data, srcName, err := readSource(fs.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			return 1
		}
		src, name = string(data), srcName
	default:
		fmt.Fprintf(os.Stderr, "usage: %s run [flags] <file.loop | - | -script NAME>\n", appName)
		return 2
	}

	in, closeIn, err := inputReader(*inputFile, fs.Arg(0) == "-")
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	defer closeIn()

	var captured bytes.Buffer
	var out io.Writer = os.Stdout
	if *record {
		out = io.MultiWriter(os.Stdout, &captured)
	}

	session := looplang.NewSession(out, in, opts)
	start := time.Now()
	runErr := session.RunString(ctx, src, name)
	elapsed := time.Since(start)
	logger.SessionInfo("%s finished in %v after %d statements", name, elapsed, session.Executed())

	if *record {
		run := store.Run{
			Script:     scriptName,
			SessionID:  session.ID,
			SourceHash: store.HashSource(src),
			Output:     captured.String(),
			Statements: session.Executed(),
			StartedAt:  start,
			Duration:   elapsed,
		}
		if runErr != nil {
			run.Error = runErr.Error()
		}
		if _, err := st.RecordRun(context.Background(), run); err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
		}
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, red(runErr.Error()))
		return 1
	}
	return 0
}

// readSource reads a file, or stdin for "-".
func readSource(path string) ([]byte, string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return data, configuration.GetString("Interpreter", "source_name", "<stdin>"), err
	}
	data, err := os.ReadFile(path)
	return data, path, err
}

// inputReader picks where INPUT statements read from. When the program
// itself came from stdin there is nothing left to read there.
func inputReader(path string, sourceFromStdin bool) (looplang.LineReader, func(), error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return looplang.NewLineReader(f), func() { f.Close() }, nil
	}
	if sourceFromStdin {
		return nil, func() {}, nil
	}
	return looplang.NewLineReader(os.Stdin), func() {}, nil
}

func cmdTokens(args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s tokens <file.loop>\n", appName)
		return 2
	}
	data, name, err := readSource(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}

	lexer := looplang.NewLexer(bytes.NewReader(data), name)
	for {
		tok, err := lexer.Next()
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			return 1
		}
		fmt.Printf("%-24s %s\n", strings.TrimSuffix(tok.Pos.String(), ": "), tok)
		if tok.Kind == looplang.EOF {
			return 0
		}
	}
}

func cmdFmt(args []string) int {
	fs := flag.NewFlagSet("fmt", flag.ContinueOnError)
	write := fs.Bool("w", false, "write the result back to the file")
	check := fs.Bool("check", false, "exit 1 if any file would change")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s fmt [-w] [-check] <file.loop ...>\n", appName)
		return 2
	}

	code := 0
	for _, path := range fs.Args() {
		data, name, err := readSource(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			code = 1
			continue
		}
		formatted, err := formatSource(data, name)
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			code = 1
			continue
		}

		switch {
		case *check:
			if formatted != string(data) {
				fmt.Println(path)
				code = 1
			}
		case *write && path != "-":
			if formatted == string(data) {
				continue
			}
			if err := os.WriteFile(path, []byte(formatted), 0644); err != nil {
				fmt.Fprintln(os.Stderr, red(err.Error()))
				code = 1
			}
		default:
			fmt.Print(formatted)
		}
	}
	return code
}

// formatSource parses data against an empty registry and prints it back.
func formatSource(data []byte, name string) (string, error) {
	parser := looplang.NewParser(looplang.NewLexer(bytes.NewReader(data), name), looplang.NewRegistry())
	stmts, err := parser.All()
	if err != nil {
		return "", err
	}
	if len(stmts) == 0 {
		return "", nil
	}
	return looplang.Format(stmts) + "\n", nil
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
