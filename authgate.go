/*
authgate - composable email authentication gateway
Copyright © 2026 authgate contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package authgate wires command-line parsing, directory/PID-file
// setup, and the Supervisor lifecycle together, grounded on
// maddy.go's Run/moduleMain split and signal.go's handleSignals.
// Unlike the teacher, there is no generic config.Node module tree to
// walk: one TOML file (framework/config.Load) names the handler chain
// and listener set directly, so Run goes straight from flag parsing to
// building a supervisor.Supervisor.
package authgate

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/authgate/authgate/framework/config"
	"github.com/authgate/authgate/framework/log"
	"github.com/authgate/authgate/internal/registry"
	"github.com/authgate/authgate/internal/supervisor"
)

var Version = "go-build"

const ident = "authgated"

func BuildInfo() string {
	version := Version
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	return fmt.Sprintf("%s %s\n\ndefault config: %s\ndefault state_dir: %s\ndefault runtime_dir: %s",
		ident, version,
		filepath.Join(DefaultConfigDirectory, "authgate.toml"),
		DefaultStateDirectory, DefaultRuntimeDirectory)
}

// Run is the entry point for cmd/authgated. It parses flags, loads the
// TOML configuration, prepares the state/runtime directories and pid
// file, then runs the Supervisor until a termination signal arrives.
func Run() int {
	var (
		configPath   = flag.String("config", filepath.Join(DefaultConfigDirectory, "authgate.toml"), "path to configuration file")
		pidFilePath  = flag.String("pid-file", filepath.Join(DefaultRuntimeDirectory, "authgated.pid"), "path to pid file")
		printVersion = flag.Bool("v", false, "print version and build metadata, then exit")
	)
	flag.BoolVar(&log.DefaultLogger.Debug, "debug", false, "enable debug logging early")
	flag.Parse()

	if *printVersion {
		fmt.Println(BuildInfo())
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Println(err)
		return 2
	}

	if err := InitDirs(); err != nil {
		log.Println(err)
		return 2
	}

	if cfg.ErrorLog != "" {
		f, err := os.OpenFile(cfg.ErrorLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Println(fmt.Errorf("authgate: opening error_log: %w", err))
			return 2
		}
		if err := chownErrorLog(cfg.ErrorLog, cfg); err != nil {
			log.Println(err)
			return 2
		}
		log.DefaultLogger.Out = log.WriterOutput(f, false)
		defer log.DefaultLogger.Out.Close()
	}

	if err := dropPrivileges(cfg, log.DefaultLogger); err != nil {
		log.Println(err)
		return 2
	}

	if err := registry.WritePIDFile(*pidFilePath); err != nil {
		log.Println(fmt.Errorf("authgate: writing pid file: %w", err))
		return 2
	}
	defer os.Remove(*pidFilePath)

	if err := runSupervised(cfg); err != nil {
		log.Println(err)
		return 2
	}
	return 0
}

// runSupervised builds and runs the Supervisor until SIGTERM/SIGINT,
// mirroring the teacher's moduleMain/handleSignals split: building
// and initializing modules, then blocking on signals, then tearing
// down.
func runSupervised(cfg *config.Config) error {
	sup, err := supervisor.New(cfg, log.DefaultLogger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("signal received (%v), shutting down", s)
		cancel()
	}()
	defer signal.Stop(sigCh)

	err = sup.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// InitDirs ensures the state and runtime directories (or the package
// defaults, if unset) exist and are writable, grounded on maddy.go's
// InitDirs/ensureDirectoryWritable.
func InitDirs() error {
	if config.StateDirectory == "" {
		config.StateDirectory = DefaultStateDirectory
	}
	if config.RuntimeDirectory == "" {
		config.RuntimeDirectory = DefaultRuntimeDirectory
	}

	if err := ensureDirectoryWritable(config.StateDirectory); err != nil {
		return err
	}
	if err := ensureDirectoryWritable(config.RuntimeDirectory); err != nil {
		return err
	}
	return nil
}

func ensureDirectoryWritable(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return err
	}
	probe := filepath.Join(path, ".writable-probe")
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}
