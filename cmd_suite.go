package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/antibyte/looplang/pkg/suite"
)

func cmdTest(args []string) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "list passing cases too")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s test [-v] <suite.yaml ...>\n", appName)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	total, failed := 0, 0
	for _, path := range fs.Args() {
		s, err := suite.Load(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			failed++
			continue
		}

		report := suite.Run(ctx, s)
		for _, res := range report.Results {
			total++
			if res.Passed() {
				if *verbose {
					fmt.Printf("%s %s/%s (%v)\n", green("PASS"), report.Suite, res.Case, res.Duration)
				}
				continue
			}
			failed++
			fmt.Printf("%s %s/%s\n", red("FAIL"), report.Suite, res.Case)
			for _, f := range res.Failures {
				fmt.Printf("    %s\n", strings.ReplaceAll(f, "\n", "\n    "))
			}
		}
	}

	if failed > 0 {
		fmt.Printf("%s: %d of %d failed\n", red("FAIL"), failed, total)
		return 1
	}
	fmt.Printf("%s: %d cases\n", green("ok"), total)
	return 0
}
