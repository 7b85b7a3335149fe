// Package main is the entry point for fmtflow, the batch formatting
// orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dshills/fmtflow/internal/app"
	"github.com/dshills/fmtflow/internal/config"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, ok := parseFlags()
	if !ok {
		return app.ExitFatal
	}

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fmtflow: %v\n", err)
		return app.ExitFatal
	}

	// SIGINT/SIGTERM cancel the run; the pipeline drains what it
	// already accepted and shuts the server down politely.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

func parseFlags() (app.Options, bool) {
	var (
		configPath string
		serverCmd  string
		serverArgs string
		rulesPath  string
		workers    int
		check      bool
		watchMode  bool
		verbose    bool
		showVer    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to TOML configuration file")
	flag.StringVar(&serverCmd, "server", "", "Formatting server executable (overrides config)")
	flag.StringVar(&serverArgs, "server-args", "", "Space-separated server arguments (overrides config)")
	flag.StringVar(&rulesPath, "rules", "", "YAML substitution rules file (overrides config)")
	flag.IntVar(&workers, "workers", 0, "Worker count (overrides config)")
	flag.BoolVar(&check, "check", false, "Report files that would change without writing")
	flag.BoolVar(&watchMode, "watch", false, "Keep running and re-format files as they change")
	flag.BoolVar(&verbose, "v", false, "Print a line per file, not just the summary")
	flag.BoolVar(&showVer, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fmtflow - batch source formatting via an external server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: fmtflow [options] [paths...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  fmtflow -server clang-fmt-lsp ./src       Format a tree in place\n")
		fmt.Fprintf(os.Stderr, "  fmtflow -check ./src                      CI gate, exit 1 on drift\n")
		fmt.Fprintf(os.Stderr, "  fmtflow -watch -v ./src                   Format on save\n")
	}

	flag.Parse()

	if showVer {
		fmt.Printf("fmtflow %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fmtflow: %v\n", err)
		return app.Options{}, false
	}

	// Flags beat file and environment.
	if serverCmd != "" {
		cfg.Server.Command = serverCmd
	}
	if serverArgs != "" {
		cfg.Server.Args = strings.Fields(serverArgs)
	}
	if rulesPath != "" {
		cfg.Rules.File = rulesPath
	}
	if workers > 0 {
		cfg.Pool.Workers = workers
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fmtflow: %v\n", err)
		return app.Options{}, false
	}

	roots := flag.Args()
	if len(roots) == 0 {
		roots = []string{"."}
	}

	return app.Options{
		Config:  cfg,
		Roots:   roots,
		Check:   check,
		Watch:   watchMode,
		Verbose: verbose,
	}, true
}
