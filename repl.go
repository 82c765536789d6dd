package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"github.com/antibyte/looplang/pkg/configuration"
	"github.com/antibyte/looplang/pkg/logger"
	"github.com/antibyte/looplang/pkg/looplang"
)

const replHelp = `Enter LOOP statements; unfinished blocks continue on the next line.
  :vars       show global variables
  :programs   show defined programs
  :reset      forget all variables and programs
  :help       show this text
  :quit       leave (Ctrl-D works too)
Ctrl-C cancels a running statement.`

// replOutput holds back the text after the last newline so that INPUT can
// hand it to liner as the prompt instead of printing it twice.
type replOutput struct {
	w       io.Writer
	pending string
}

func (o *replOutput) Write(p []byte) (int, error) {
	text := o.pending + string(p)
	i := strings.LastIndexByte(text, '\n')
	if i < 0 {
		o.pending = text
		return len(p), nil
	}
	o.pending = text[i+1:]
	if _, err := io.WriteString(o.w, text[:i+1]); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (o *replOutput) takePending() string {
	p := o.pending
	o.pending = ""
	return p
}

func (o *replOutput) Flush() {
	if p := o.takePending(); p != "" {
		fmt.Fprintln(o.w, p)
	}
}

// linerInput reads INPUT lines through the line editor.
type linerInput struct {
	ln  *liner.State
	out *replOutput
}

func (r *linerInput) ReadLine() (string, error) {
	line, err := r.ln.Prompt(r.out.takePending())
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	return line, err
}

func cmdRepl(_ []string) int {
	prompt := configuration.GetString("REPL", "prompt", "loop> ")
	contPrompt := configuration.GetString("REPL", "continuation_prompt", "....> ")
	histPath := configuration.GetString("REPL", "history_file", ".looplang_history")
	if !filepath.IsAbs(histPath) {
		if home, err := os.UserHomeDir(); err == nil {
			histPath = filepath.Join(home, histPath)
		}
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Printf("%s %s. Type :help for help.\n", appName, version)

	out := &replOutput{w: os.Stdout}
	newSession := func() *looplang.Session {
		// interactive errors are shown, never fatal
		return looplang.NewSession(out, &linerInput{ln: ln, out: out}, looplang.Options{StopOnError: true})
	}
	session := newSession()
	logger.Info(logger.AreaREPL, "REPL started with session %s", session.ID)

	line := 0
	for {
		src, ok := readStatement(ln, session, prompt, contPrompt)
		if !ok {
			fmt.Println()
			return 0
		}
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

		if strings.HasPrefix(trimmed, ":") {
			switch strings.ToLower(trimmed) {
			case ":quit", ":q", ":exit":
				return 0
			case ":help":
				fmt.Println(replHelp)
			case ":vars":
				printVariables(session.Global())
			case ":programs":
				for _, name := range session.Global().Programs() {
					fmt.Println(name)
				}
			case ":reset":
				session = newSession()
				fmt.Println("session reset")
			default:
				fmt.Println("unknown command. Type :help for a list.")
			}
			continue
		}

		line++
		err := runInterruptible(session, src, fmt.Sprintf("<repl:%d>", line))
		out.Flush()
		if err != nil {
			if isCancelled(err) {
				fmt.Fprintln(os.Stderr, red("interrupted"))
			} else {
				fmt.Fprintln(os.Stderr, red(err.Error()))
			}
		}
	}
}

// readStatement collects lines until the session's parser accepts them or
// rejects them for a reason other than running out of input.
func readStatement(ln *liner.State, session *looplang.Session, prompt, contPrompt string) (string, bool) {
	var b strings.Builder
	for {
		p := prompt
		if b.Len() > 0 {
			p = contPrompt
		}
		line, err := ln.Prompt(p)
		if errors.Is(err, liner.ErrPromptAborted) {
			b.Reset()
			continue
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") {
			return src, true
		}
		if looplang.IsIncomplete(session.Probe(src)) {
			continue
		}
		return src, true
	}
}

// runInterruptible runs src, cancelling it on Ctrl-C.
func runInterruptible(session *looplang.Session, src, name string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	defer signal.Stop(sigc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-sigc:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := session.RunString(ctx, src, name)
	cancel()
	wg.Wait()
	return err
}

func printVariables(g *looplang.GlobalContext) {
	vars := g.Variables()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s = %d\n", strings.ToLower(name), vars[name])
	}
}
