//go:build !linux

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

// readCmdline has no portable non-Linux implementation; callers treat
// pid-in-process-table as sufficient per spec.md §6's carve-out for
// platforms that cannot identify themselves in the process table.
func readCmdline(pid int) (string, bool) {
	return "", false
}
