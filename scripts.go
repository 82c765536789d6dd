package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/antibyte/looplang/pkg/looplang"
	"github.com/antibyte/looplang/pkg/store"
)

// withStore opens the configured store for the duration of fn.
func withStore(fn func(ctx context.Context, st *store.Store) error) int {
	st, err := store.OpenFromConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fn(ctx, st); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	return 0
}

func cmdSave(args []string) int {
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s save NAME <file.loop>\n", appName)
		return 2
	}
	name := args[0]
	data, srcName, err := readSource(args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	// refuse to store programs that do not even parse
	if _, err := formatSource(data, srcName); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}

	return withStore(func(ctx context.Context, st *store.Store) error {
		script, changed, err := st.SaveScript(ctx, name, string(data))
		if err != nil {
			return err
		}
		if changed {
			fmt.Printf("saved %s (%s)\n", script.Name, script.Hash[:12])
		} else {
			fmt.Printf("%s unchanged\n", script.Name)
		}
		return nil
	})
}

func cmdList(args []string) int {
	if len(args) != 0 {
		fmt.Fprintf(os.Stderr, "usage: %s list\n", appName)
		return 2
	}
	return withStore(func(ctx context.Context, st *store.Store) error {
		scripts, err := st.ListScripts(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tHASH\tUPDATED")
		for _, s := range scripts {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Hash[:12], s.UpdatedAt.Format(time.DateTime))
		}
		return tw.Flush()
	})
}

func cmdDelete(args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s delete NAME\n", appName)
		return 2
	}
	return withStore(func(ctx context.Context, st *store.Store) error {
		if err := st.DeleteScript(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	})
}

func cmdHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of runs to show (0 = all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		fmt.Fprintf(os.Stderr, "usage: %s history [-n N] [NAME]\n", appName)
		return 2
	}

	return withStore(func(ctx context.Context, st *store.Store) error {
		runs, err := st.History(ctx, fs.Arg(0), *limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tSCRIPT\tSTATEMENTS\tDURATION\tRESULT")
		for _, r := range runs {
			script := r.Script
			if script == "" {
				script = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%v\t%s\n", r.StartedAt.Format(time.DateTime), script,
				r.Statements, r.Duration, runResult(r))
		}
		return tw.Flush()
	})
}

// runResult summarizes a run by the category of its first error.
func runResult(r store.Run) string {
	if r.Error == "" {
		return "ok"
	}
	first, _, _ := strings.Cut(r.Error, "\n")
	for _, category := range []string{looplang.ErrCategoryScan, looplang.ErrCategoryParse, looplang.ErrCategoryRuntime} {
		if strings.Contains(first, category) {
			return strings.ToLower(category)
		}
	}
	return "failed"
}
