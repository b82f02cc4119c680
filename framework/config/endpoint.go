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

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
)

// Endpoint is a parsed listener spec: either "inet:PORT@HOST" or
// "unix:PATH". Original is preserved for diagnostics; Host/Port/Path
// are the parsed components.
type Endpoint struct {
	Original   string
	Scheme     string
	Host, Port string
	Path       string
}

func (e Endpoint) String() string { return e.Original }

func (e Endpoint) Network() string {
	if e.Scheme == "unix" {
		return "unix"
	}
	return "tcp"
}

func (e Endpoint) Address() string {
	if e.Scheme == "unix" {
		return e.Path
	}
	return net.JoinHostPort(e.Host, e.Port)
}

// ParseEndpoint parses the "inet:PORT@HOST" / "unix:PATH" grammar.
// A bare unix path with no "unix:" prefix is rejected: the scheme is
// mandatory so a misconfigured deployment fails loudly at load time
// rather than silently binding the wrong transport.
func ParseEndpoint(str string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(str, ":")
	if !ok {
		return Endpoint{}, fmt.Errorf("config: endpoint %q: missing scheme (expected inet: or unix:)", str)
	}

	switch scheme {
	case "inet":
		portStr, host, ok := strings.Cut(rest, "@")
		if !ok {
			return Endpoint{}, fmt.Errorf("config: endpoint %q: expected inet:PORT@HOST", str)
		}
		if host == "" {
			host = "0.0.0.0"
		}
		if _, err := strconv.ParseUint(portStr, 10, 16); err != nil {
			return Endpoint{}, fmt.Errorf("config: endpoint %q: invalid port: %w", str, err)
		}
		return Endpoint{Original: str, Scheme: "inet", Host: host, Port: portStr}, nil
	case "unix":
		path := rest
		if !filepath.IsAbs(path) {
			path = filepath.Join(RuntimeDirectory, path)
		}
		return Endpoint{Original: str, Scheme: "unix", Path: path}, nil
	default:
		return Endpoint{}, fmt.Errorf("config: endpoint %q: unsupported scheme %q", str, scheme)
	}
}
