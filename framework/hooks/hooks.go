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

// Package hooks lets independently initialized components react to the
// supervisor-level lifecycle events of §4.I/§7 without the supervisor
// importing each of them directly.
package hooks

import "sync"

type Event int

const (
	// EventShutdown fires when internal/supervisor's Run is about to
	// return: its context was canceled (SIGTERM/SIGINT in authgate.go)
	// or SIGQUIT arrived. A worker slot retiring after
	// max_requests_per_child does not fire it.
	EventShutdown Event = iota

	// EventReload fires on SIGHUP. The running Supervisor does not
	// re-read its configuration; see internal/supervisor.recycleAll for
	// what SIGHUP does to the worker slots.
	EventReload

	// EventLogRotate is for reopening error_log file descriptors after
	// external log rotation. No signal handler in this repository fires
	// it; its hooks run only when RunHooks(EventLogRotate) is called.
	EventLogRotate
)

var (
	registered = make(map[Event][]func())
	mu         sync.Mutex
)

func hooksToRun(ev Event) []func() {
	mu.Lock()
	defer mu.Unlock()
	h := registered[ev]
	if h == nil {
		return nil
	}
	cpy := make([]func(), len(h))
	copy(cpy, h)
	return cpy
}

// RunHooks runs the hooks installed for ev, most-recently-added first,
// so teardown order mirrors reverse setup order.
func RunHooks(ev Event) {
	h := hooksToRun(ev)
	for i := len(h) - 1; i >= 0; i-- {
		h[i]()
	}
}

// AddHook installs f to run when ev occurs.
func AddHook(ev Event, f func()) {
	mu.Lock()
	defer mu.Unlock()
	registered[ev] = append(registered[ev], f)
}
