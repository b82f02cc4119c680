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
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ListenerConfig is one named additional listener under [connections.NAME].
type ListenerConfig struct {
	Connection string `toml:"connection"`
	Umask      int    `toml:"umask"`
}

// Config is the root daemon configuration, loaded from a single TOML
// file. Per-handler option subtrees are captured as raw toml.Tree-like
// maps and re-decoded by each handler's own options struct, the same
// separation infodancer-pop3d and infodancer-smtpd use for their own
// module configuration blocks.
type Config struct {
	LoadHandlers []string `toml:"load_handlers"`

	Connection  string                    `toml:"connection"`
	Connections map[string]ListenerConfig `toml:"connections"`

	MetricConnection string `toml:"metric_connection"`
	// MetricPort/MetricHost are deprecated aliases for MetricConnection,
	// accepted for backward compatibility and combined at Load time.
	MetricPort string `toml:"metric_port"`
	MetricHost string `toml:"metric_host"`

	MinChildren         int `toml:"min_children"`
	MaxChildren         int `toml:"max_children"`
	MinSpareChildren    int `toml:"min_spare_children"`
	MaxSpareChildren    int `toml:"max_spare_children"`
	MaxRequestsPerChild int `toml:"max_requests_per_child"`
	ListenBacklog       int `toml:"listen_backlog"`

	ErrorLog string `toml:"error_log"`
	RunAs    string `toml:"runas"`
	RunGroup string `toml:"rungroup"`
	Chroot   string `toml:"chroot"`
	Debug    bool   `toml:"debug"`

	// Protocol selects the front-end: "milter" or "smtp".
	Protocol string `toml:"protocol"`

	LocalNets   []string `toml:"local_networks"`
	TrustedNets []string `toml:"trusted_networks"`

	// DNSServers, DNSTimeoutMs and DNSCacheEntries configure the shared
	// resolver handed to every DNS-dependent handler (dkim, dmarc,
	// iprev, dnsbl).
	DNSServers      []string `toml:"dns_servers"`
	DNSTimeoutMs    int      `toml:"dns_timeout_ms"`
	DNSCacheEntries int      `toml:"dns_cache_entries"`

	// LeaveChildrenOpenOnHUP, if set, makes SIGHUP skip
	// internal/supervisor's recycleAll. A running Supervisor does not
	// reload its configuration on SIGHUP either way.
	LeaveChildrenOpenOnHUP bool `toml:"leave_children_open_on_hup"`

	// CheckDKIM selects how the dkim handler reports a message with no
	// DKIM-Signature headers at all: 1 (default) emits "dkim=none (no
	// signatures found)"; 2 emits no dkim fragment.
	CheckDKIM int `toml:"check_dkim"`

	// Handlers holds the raw per-handler option subtree, keyed by
	// handler name. Each handler re-decodes its own slice with
	// toml.Marshal followed by toml.Unmarshal into its options struct,
	// since go-toml/v2 has no generic Tree type to pass around.
	Handlers map[string]map[string]interface{} `toml:"handlers"`
}

// HandlerOptions re-marshals the raw subtree registered for name and
// decodes it into dst, the handler's own options struct.
func (c *Config) HandlerOptions(name string, dst interface{}) error {
	sub, ok := c.Handlers[name]
	if !ok {
		return nil
	}
	raw, err := toml.Marshal(sub)
	if err != nil {
		return fmt.Errorf("config: re-encoding handlers.%s: %w", name, err)
	}
	if err := toml.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("config: decoding handlers.%s: %w", name, err)
	}
	return nil
}

// defaults mirror spec.md §4.A: 20/100/10/20/200/20.
func defaults() Config {
	return Config{
		MinChildren:         20,
		MaxChildren:         100,
		MinSpareChildren:    10,
		MaxSpareChildren:    20,
		MaxRequestsPerChild: 200,
		ListenBacklog:       20,
		Protocol:            "milter",
		DNSServers:          []string{"8.8.8.8:53"},
		DNSTimeoutMs:        5000,
		DNSCacheEntries:     4096,
		CheckDKIM:           1,
	}
}

// Load reads and decodes path, applies worker-sizing defaults for any
// field left at its zero value, and resolves the legacy metric_port/
// metric_host aliases into MetricConnection.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := defaults()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	zero := defaults()
	if c.MinChildren == 0 {
		c.MinChildren = zero.MinChildren
	}
	if c.MaxChildren == 0 {
		c.MaxChildren = zero.MaxChildren
	}
	if c.MinSpareChildren == 0 {
		c.MinSpareChildren = zero.MinSpareChildren
	}
	if c.MaxSpareChildren == 0 {
		c.MaxSpareChildren = zero.MaxSpareChildren
	}
	if c.MaxRequestsPerChild == 0 {
		c.MaxRequestsPerChild = zero.MaxRequestsPerChild
	}
	if c.ListenBacklog == 0 {
		c.ListenBacklog = zero.ListenBacklog
	}
	if len(c.DNSServers) == 0 {
		c.DNSServers = zero.DNSServers
	}
	if c.DNSTimeoutMs == 0 {
		c.DNSTimeoutMs = zero.DNSTimeoutMs
	}
	if c.DNSCacheEntries == 0 {
		c.DNSCacheEntries = zero.DNSCacheEntries
	}
	if c.Protocol == "" {
		c.Protocol = zero.Protocol
	}
	if c.Protocol != "milter" && c.Protocol != "smtp" {
		return fmt.Errorf("config: protocol must be \"milter\" or \"smtp\", got %q", c.Protocol)
	}
	if c.CheckDKIM == 0 {
		c.CheckDKIM = zero.CheckDKIM
	}
	if c.CheckDKIM != 1 && c.CheckDKIM != 2 {
		return fmt.Errorf("config: check_dkim must be 1 or 2, got %d", c.CheckDKIM)
	}

	if c.MetricConnection == "" && (c.MetricPort != "" || c.MetricHost != "") {
		host := c.MetricHost
		if host == "" {
			host = "0.0.0.0"
		}
		c.MetricConnection = "inet:" + c.MetricPort + "@" + host
	}

	if c.Connection == "" {
		return fmt.Errorf("config: at least one \"connection\" listener is required")
	}

	return nil
}

// Listeners returns every configured data-port Endpoint: the primary
// Connection plus every entry of Connections.
func (c *Config) Listeners() (map[string]Endpoint, error) {
	out := make(map[string]Endpoint, len(c.Connections)+1)

	primary, err := ParseEndpoint(c.Connection)
	if err != nil {
		return nil, err
	}
	out["default"] = primary

	for name, lc := range c.Connections {
		ep, err := ParseEndpoint(lc.Connection)
		if err != nil {
			return nil, fmt.Errorf("config: connections[%s]: %w", name, err)
		}
		out[name] = ep
	}
	return out, nil
}

// MetricEndpoint parses MetricConnection, if any was configured.
func (c *Config) MetricEndpoint() (Endpoint, bool, error) {
	if c.MetricConnection == "" {
		return Endpoint{}, false, nil
	}
	ep, err := ParseEndpoint(c.MetricConnection)
	if err != nil {
		return Endpoint{}, false, err
	}
	return ep, true, nil
}

// ParseCIDRList parses a list of CIDR strings into net.IPNets,
// failing closed (error, not a partially-populated list) on the first
// malformed entry so a typo in local_networks/trusted_networks cannot
// silently under-trust.
func ParseCIDRList(nets []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(nets))
	for _, s := range nets {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("config: invalid CIDR %q: %w", s, err)
		}
		out = append(out, ipnet)
	}
	return out, nil
}
