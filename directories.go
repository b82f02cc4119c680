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

// Default filesystem locations, grounded on maddy.go's
// directories.go. Defined as variables rather than constants only so
// a packager can override them with -X linker flags.
var (
	DefaultConfigDirectory  = "/etc/authgate"
	DefaultStateDirectory   = "/var/lib/authgate"
	DefaultRuntimeDirectory = "/run/authgate"
)
