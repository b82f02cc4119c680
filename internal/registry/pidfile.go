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

package registry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile writes the calling process's pid to path, truncating
// any stale content. The CLI wrapper's status/stop/restart commands
// read it back via CheckRunning.
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// CheckRunning implements spec.md §6's pid-file validity rule: the pid
// recorded in path is considered a live master only if that pid is
// present in the process table AND, where the process table exposes a
// command line, it equals "<ident>:master". On platforms/processes
// where the command line cannot be read (no /proc, or the kernel
// hides it), pid-in-process-table alone is accepted, since the
// controller cannot identify itself in the process table (the
// kernel-process-table identity condition spec.md §6 carves out).
func CheckRunning(path, ident string) (pid int, running bool, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}

	pid, err = strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, false, fmt.Errorf("registry: malformed pid file %s: %w", path, err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false, nil
	}
	// On POSIX, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return pid, false, nil
	}

	cmdline, ok := readCmdline(pid)
	if !ok {
		return pid, true, nil
	}
	return pid, cmdline == ident+":master", nil
}
