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

package authgate

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/authgate/authgate/framework/config"
	"github.com/authgate/authgate/framework/log"
)

// chownErrorLog gives the runas user ownership of the already-open
// error_log file, per spec.md §6: the log is opened before privileges
// are dropped, then chowned so the unprivileged worker can still
// rotate/append to it.
func chownErrorLog(path string, cfg *config.Config) error {
	if cfg.RunAs == "" {
		return nil
	}
	u, err := user.Lookup(cfg.RunAs)
	if err != nil {
		return fmt.Errorf("authgate: looking up runas user %q: %w", cfg.RunAs, err)
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	return os.Chown(path, uid, gid)
}

// dropPrivileges implements spec.md §6: "Daemonization requires EUID 0
// to take effect; otherwise logged and ignored." A chroot, if
// configured, is entered before the uid/gid switch so the unprivileged
// process never sees paths outside it.
func dropPrivileges(cfg *config.Config, logger log.Logger) error {
	if cfg.RunAs == "" && cfg.RunGroup == "" && cfg.Chroot == "" {
		return nil
	}
	if os.Geteuid() != 0 {
		logger.Println("runas/rungroup/chroot configured but process is not running as root; ignoring")
		return nil
	}

	if cfg.Chroot != "" {
		if err := syscall.Chroot(cfg.Chroot); err != nil {
			return fmt.Errorf("authgate: chroot %s: %w", cfg.Chroot, err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("authgate: chdir after chroot: %w", err)
		}
	}

	if cfg.RunGroup != "" {
		g, err := user.LookupGroup(cfg.RunGroup)
		if err != nil {
			return fmt.Errorf("authgate: looking up rungroup %q: %w", cfg.RunGroup, err)
		}
		gid, _ := strconv.Atoi(g.Gid)
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("authgate: setgid: %w", err)
		}
	}

	if cfg.RunAs != "" {
		u, err := user.Lookup(cfg.RunAs)
		if err != nil {
			return fmt.Errorf("authgate: looking up runas user %q: %w", cfg.RunAs, err)
		}
		uid, _ := strconv.Atoi(u.Uid)
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("authgate: setuid: %w", err)
		}
	}

	return nil
}
