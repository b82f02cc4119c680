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

// Package dns is the single process-wide resolver facade every handler
// consults (§4.B). It wraps github.com/miekg/dns with a bounded
// per-query timeout and an in-memory cache keyed by (qname, qtype), and
// turns transport/protocol failures into the typed error set handlers
// switch on: NXDomain, ServFail, Timeout, Malformed.
package dns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// ErrKind classifies a resolution failure the way every handler needs
// to distinguish a permanent "no record" answer from a transient one.
type ErrKind int

const (
	NXDomain ErrKind = iota
	ServFail
	Timeout
	Malformed
)

func (k ErrKind) String() string {
	switch k {
	case NXDomain:
		return "nxdomain"
	case ServFail:
		return "servfail"
	case Timeout:
		return "timeout"
	default:
		return "malformed"
	}
}

// LookupError is returned by every Resolver method on failure.
type LookupError struct {
	Kind  ErrKind
	Qname string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("dns %s: %s: %v", e.Kind, e.Qname, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

type cacheKey struct {
	qname string
	qtype uint16
}

type cacheEntry struct {
	rrs     []dns.RR
	expires time.Time
}

// Resolver is a process-wide, concurrency-safe facade. Handlers never
// talk to the network directly; they all go through a shared Resolver
// instance so the cache has a single point of truth.
type Resolver struct {
	client  *dns.Client
	servers []string
	timeout time.Duration

	mu       sync.Mutex
	cache    map[cacheKey]cacheEntry
	maxCache int
}

// NewResolver builds a Resolver that queries servers (host:port form,
// e.g. "127.0.0.1:53") with the given per-query timeout and an
// in-memory cache capped at maxCacheEntries. When maxCacheEntries <= 0,
// caching is disabled, which is useful for tests that need exact call
// counts.
func NewResolver(servers []string, timeout time.Duration, maxCacheEntries int) *Resolver {
	return &Resolver{
		client:   &dns.Client{Timeout: timeout},
		servers:  servers,
		timeout:  timeout,
		cache:    make(map[cacheKey]cacheEntry),
		maxCache: maxCacheEntries,
	}
}

func (r *Resolver) lookup(ctx context.Context, qname string, qtype uint16) ([]dns.RR, error) {
	qname = dns.Fqdn(qname)
	key := cacheKey{qname: qname, qtype: qtype}

	if r.maxCache > 0 {
		r.mu.Lock()
		if ent, ok := r.cache[key]; ok && time.Now().Before(ent.expires) {
			r.mu.Unlock()
			return ent.rrs, nil
		}
		r.mu.Unlock()
	}

	if len(r.servers) == 0 {
		return nil, &LookupError{Kind: Malformed, Qname: qname, Err: errors.New("no resolvers configured")}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(qname, qtype)
	msg.RecursionDesired = true

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &LookupError{Kind: Timeout, Qname: qname, Err: err}
			}
			lastErr = err
			continue
		}

		switch in.Rcode {
		case dns.RcodeSuccess:
			ttl := minTTL(in.Answer)
			if r.maxCache > 0 {
				r.store(key, in.Answer, ttl)
			}
			return in.Answer, nil
		case dns.RcodeNameError:
			return nil, &LookupError{Kind: NXDomain, Qname: qname, Err: errors.New("name error")}
		case dns.RcodeServerFailure:
			lastErr = errors.New("server failure")
			continue
		default:
			return nil, &LookupError{Kind: Malformed, Qname: qname, Err: fmt.Errorf("unexpected rcode %d", in.Rcode)}
		}
	}

	return nil, &LookupError{Kind: ServFail, Qname: qname, Err: lastErr}
}

func (r *Resolver) store(key cacheKey, rrs []dns.RR, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) >= r.maxCache {
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[key] = cacheEntry{rrs: rrs, expires: time.Now().Add(ttl)}
}

func minTTL(rrs []dns.RR) time.Duration {
	if len(rrs) == 0 {
		return 30 * time.Second
	}
	min := rrs[0].Header().Ttl
	for _, rr := range rrs[1:] {
		if rr.Header().Ttl < min {
			min = rr.Header().Ttl
		}
	}
	if min == 0 {
		return time.Second
	}
	return time.Duration(min) * time.Second
}

// TXT returns the concatenated strings of every TXT record for qname,
// used by SPF and DKIM/DMARC selector record lookups.
func (r *Resolver) TXT(ctx context.Context, qname string) ([]string, error) {
	rrs, err := r.lookup(ctx, qname, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}

// PTR returns the hostnames reverse-mapped from ip, used by iprev.
func (r *Resolver) PTR(ctx context.Context, arpa string) ([]string, error) {
	rrs, err := r.lookup(ctx, arpa, dns.TypePTR)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		if ptr, ok := rr.(*dns.PTR); ok {
			out = append(out, ptr.Ptr)
		}
	}
	return out, nil
}

// A returns the IPv4 addresses of qname, used by iprev forward
// confirmation and SPF "a"/"mx" mechanism evaluation.
func (r *Resolver) A(ctx context.Context, qname string) ([]string, error) {
	rrs, err := r.lookup(ctx, qname, dns.TypeA)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		if a, ok := rr.(*dns.A); ok {
			out = append(out, a.A.String())
		}
	}
	return out, nil
}

// MX returns the mail exchangers of qname, used by SPF "mx" mechanism
// evaluation.
func (r *Resolver) MX(ctx context.Context, qname string) ([]string, error) {
	rrs, err := r.lookup(ctx, qname, dns.TypeMX)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		if mx, ok := rr.(*dns.MX); ok {
			out = append(out, mx.Mx)
		}
	}
	return out, nil
}
