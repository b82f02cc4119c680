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

package config

var (
	// StateDirectory is for state that must survive a restart. When
	// unset, authgate.InitDirs sets it to DefaultStateDirectory and
	// makes sure it exists and is writable.
	StateDirectory string

	// RuntimeDirectory is the runtime directory; the default pid file
	// path lies under DefaultRuntimeDirectory. When unset,
	// authgate.InitDirs sets it to DefaultRuntimeDirectory and makes
	// sure it exists and is writable.
	RuntimeDirectory string
)
