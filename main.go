package main

import (
	"fmt"
	"os"

	"github.com/antibyte/looplang/pkg/configuration"
	"github.com/antibyte/looplang/pkg/logger"
)

const (
	appName = "looplang"
	version = "0.4.0"
)

// ConfigEnvVar overrides the settings file location.
const ConfigEnvVar = "LOOPLANG_CONFIG"

func red(s string) string   { return "\x1b[31m" + s + "\x1b[0m" }
func green(s string) string { return "\x1b[32m" + s + "\x1b[0m" }

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "version":
		fmt.Printf("%s %s\n", appName, version)
		return
	case "-h", "--help", "help":
		usage()
		return
	}

	commands := map[string]func([]string) int{
		"run":     cmdRun,
		"repl":    cmdRepl,
		"serve":   cmdServe,
		"tokens":  cmdTokens,
		"fmt":     cmdFmt,
		"test":    cmdTest,
		"save":    cmdSave,
		"list":    cmdList,
		"delete":  cmdDelete,
		"history": cmdHistory,
	}
	run, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", appName, cmd)
		usage()
		os.Exit(2)
	}

	if err := setup(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
	code := run(os.Args[2:])
	logger.Close()
	os.Exit(code)
}

// setup loads the settings file and starts the logger.
func setup() error {
	configPath := os.Getenv(ConfigEnvVar)
	if configPath == "" {
		configPath = "settings.cfg"
	}
	if err := configuration.Initialize(configPath); err != nil {
		return fmt.Errorf("error initializing configuration: %w", err)
	}
	if err := logger.Initialize(); err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	logger.ConfigInfo("%s %s started, configuration loaded from %s", appName, version, configPath)
	return nil
}

func usage() {
	fmt.Printf(`%[1]s %[2]s - LOOP language interpreter

Usage:
  %[1]s run [flags] <file.loop | - | -script NAME>   Run a program
  %[1]s repl                                         Start the interactive shell
  %[1]s serve [-addr ADDR]                           Serve sessions over WebSockets
  %[1]s tokens <file.loop>                           Print the token stream
  %[1]s fmt [-w] [-check] <file.loop ...>            Reformat programs (drops comments)
  %[1]s test [-v] <suite.yaml ...>                   Run YAML test suites
  %[1]s save NAME <file.loop>                        Store a script
  %[1]s list                                         List stored scripts
  %[1]s delete NAME                                  Remove a stored script
  %[1]s history [-n N] [NAME]                        Show recorded runs
  %[1]s version                                      Print the version

Settings are read from settings.cfg or $%[3]s.
`, appName, version, ConfigEnvVar)
}
