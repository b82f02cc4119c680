//go:build !windows

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

// Command authgated is both the worker daemon and its own thin
// lifecycle control surface (spec.md §6: start/stop/restart/status,
// --pid-file). There is no separate fork/exec daemonization step —
// this process never forks itself — so "start" just runs the
// supervisor in the foreground, the way maddy.go's Run does, and the
// other subcommands act on an already-running instance identified by
// --pid-file, the way an init system's ExecStart/ExecStop/ExecReload
// would.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/authgate/authgate"
	"github.com/authgate/authgate/internal/registry"
)

func main() {
	args := os.Args[1:]
	cmd := "start"
	if len(args) > 0 && !isFlag(args[0]) {
		cmd = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	pidFile := fs.String("pid-file", filepath.Join(authgate.DefaultRuntimeDirectory, "authgated.pid"), "path to pid file")
	fs.Parse(args)

	switch cmd {
	case "start":
		os.Exit(authgate.Run())
	case "stop":
		os.Exit(signalRunning(*pidFile, syscall.SIGTERM))
	case "restart":
		if code := signalRunning(*pidFile, syscall.SIGTERM); code != 0 {
			os.Exit(code)
		}
		os.Exit(authgate.Run())
	case "status":
		os.Exit(statusRunning(*pidFile))
	default:
		fmt.Fprintln(os.Stderr, "usage: authgated [start|stop|restart|status] [--pid-file PATH]")
		os.Exit(2)
	}
}

func isFlag(s string) bool {
	return len(s) > 0 && s[0] == '-'
}

func signalRunning(pidFile string, sig syscall.Signal) int {
	pid, running, err := registry.CheckRunning(pidFile, "authgated")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if !running {
		fmt.Fprintln(os.Stderr, "authgated: not running")
		return 1
	}
	if err := syscall.Kill(pid, sig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}

func statusRunning(pidFile string) int {
	pid, running, err := registry.CheckRunning(pidFile, "authgated")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if !running {
		fmt.Println("authgated: not running")
		return 1
	}
	fmt.Printf("authgated: running (pid %d)\n", pid)
	return 0
}
