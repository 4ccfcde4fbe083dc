// Command fgd-server is the Workspace Core's MCP stdio entrypoint: it
// loads a YAML config, validates and wires every component, and serves
// tool calls over stdin/stdout until it receives SIGINT/SIGTERM or the
// client closes the stream. Flag parsing is hand-rolled, in the style of
// the reference corpus's own cmd/kilroy/main.go, since there is exactly
// one subcommand surface here.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/mikeychann-hash/fgd-server/internal/config"
	"github.com/mikeychann-hash/fgd-server/internal/lifecycle"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fgd-server --config <path>")
}

func main() {
	var configPath string
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--help", "-h":
			usage()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			usage()
			os.Exit(1)
		}
	}
	if configPath == "" {
		usage()
		os.Exit(1)
	}

	f, err := os.Open(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(f)
	f.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := buildLogger(cfg)

	srv, err := lifecycle.New(cfg, logger)
	if err != nil {
		logger.Printf("FATAL: %v", err)
		os.Exit(1)
	}

	ctx, cleanup := lifecycle.SignalContext()
	defer cleanup()

	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Printf("server exited: %v", err)
		os.Exit(1)
	}
}

// buildLogger constructs the [fgd-server] prefixed logger described in
// SPEC_FULL.md §1.1: stderr always, plus the WatchedRoot's log file once
// it can be opened. A failure to open the log file degrades to
// stderr-only rather than preventing startup.
func buildLogger(cfg *config.Config) *log.Logger {
	logPath := cfg.LogFile
	if logPath == "" {
		return log.New(os.Stderr, "[fgd-server] ", log.LstdFlags)
	}
	full := logPath
	if !filepath.IsAbs(full) {
		full = filepath.Join(cfg.WatchDir, full)
	}
	lf, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARN: could not open log file %q, logging to stderr only: %v\n", full, err)
		return log.New(os.Stderr, "[fgd-server] ", log.LstdFlags)
	}
	return log.New(io.MultiWriter(os.Stderr, lf), "[fgd-server] ", log.LstdFlags)
}
