// Package cli provides the command-line interface for the tagon dev engine.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tagon-dev/tagon/internal/config"
	"github.com/tagon-dev/tagon/internal/registry"
	"github.com/tagon-dev/tagon/internal/reload"
	"github.com/tagon-dev/tagon/internal/server"
	"github.com/tagon-dev/tagon/internal/watcher"
)

const version = "0.2.0"

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	if len(args) < 1 {
		return runServe(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "check":
		return runCheck(cmdArgs)
	case "help", "-h", "--help":
		printHelp()
		return 0
	case "version", "--version":
		fmt.Printf("tagon %s\n", version)
		return 0
	default:
		if len(command) > 0 && command[0] == '-' {
			return runServe(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp()
		return 1
	}
}

func printHelp() {
	fmt.Println(`Tagon dev engine

Usage: tagon [command] [options]

Commands:
  serve           Start the dev server (default)
  check           Compile all components and report their state
  version         Print the version
  help            Show this help

Options:
  -config PATH        Path to tagon.toml
  -host HOST          Dev server listen address
  -port PORT          Dev server listen port
  -components DIR     Component source directory
  -static DIR         Static files directory
  -watch              Watch component sources for changes (default true)
  -debounce DURATION  File event debounce window
  -v, -vv, -vvv       Verbosity`)
}

// runServe compiles the component tree, starts the watcher and broadcaster,
// and serves until interrupted.
func runServe(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	reg := registry.New(cfg)
	if err := reg.LoadDir(cfg.Components.Dir, cfg.Components.Extension); err != nil {
		fmt.Fprintf(os.Stderr, "loading components: %v\n", err)
		return 1
	}
	cfg.Log(1, "cli: loaded %d component(s) from %s", reg.Count(), cfg.Components.Dir)

	bc := reload.NewBroadcaster(cfg)
	defer bc.CloseAll()

	if cfg.Watch.Enabled {
		w, werr := watcher.New(cfg, reg, bc)
		if werr != nil {
			fmt.Fprintf(os.Stderr, "watcher: %v\n", werr)
			return 1
		}
		w.Start()
		defer w.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, reg, bc)
	if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		return 1
	}
	cfg.Log(1, "cli: shut down")
	return 0
}

// runCheck compiles every component once and prints per-component state.
// Exits non-zero when any component is broken.
func runCheck(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	reg := registry.New(cfg)
	if err := reg.LoadDir(cfg.Components.Dir, cfg.Components.Extension); err != nil {
		fmt.Fprintf(os.Stderr, "loading components: %v\n", err)
		return 1
	}

	broken := 0
	for _, name := range reg.Names() {
		a, ok := reg.Lookup(name)
		if !ok {
			continue
		}
		if a.State == registry.Ready {
			fmt.Printf("ok      %s\n", name)
		} else {
			broken++
			fmt.Printf("broken  %s: %v\n", name, a.Err)
		}
	}
	if broken > 0 {
		fmt.Fprintf(os.Stderr, "%d broken component(s)\n", broken)
		return 1
	}
	return 0
}
