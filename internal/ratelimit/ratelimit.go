// Package ratelimit provides fixed-window request limiters.
package ratelimit

import (
	"fmt"
	"net"
	"net/netip"
	"net/http"
	"strings"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// Keyed is a fixed-window limiter that tracks each key (usually a client
// IP) separately.
type Keyed struct {
	mu     sync.Mutex
	keys   map[string]*window
	rate   int
	window time.Duration
	now    func() time.Time
}

// NewKeyed creates a limiter that allows rate requests per key per window.
// A rate of zero or less disables limiting.
func NewKeyed(rate int, w time.Duration) *Keyed {
	return &Keyed{
		keys:   make(map[string]*window),
		rate:   rate,
		window: w,
		now:    time.Now,
	}
}

// Allow records a request for key and reports whether it is within the limit.
func (k *Keyed) Allow(key string) bool {
	if k.rate <= 0 {
		return true
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	w, ok := k.keys[key]
	if !ok || now.Sub(w.start) > k.window {
		k.keys[key] = &window{count: 1, start: now}
		return true
	}
	w.count++
	return w.count <= k.rate
}

// Cleanup drops keys whose window has expired. Returns how many were removed.
func (k *Keyed) Cleanup() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	n := 0
	for key, w := range k.keys {
		if now.Sub(w.start) > k.window {
			delete(k.keys, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

// Proxies lists the reverse proxies whose X-Forwarded-For header is
// believed. The zero value trusts nobody.
type Proxies []netip.Prefix

// ParseProxies parses entries given as single addresses or CIDR ranges.
func ParseProxies(entries []string) (Proxies, error) {
	p := make(Proxies, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if strings.Contains(e, "/") {
			prefix, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			p = append(p, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		p = append(p, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return p, nil
}

func (p Proxies) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address a request came from. X-Forwarded-For is only
// read when the direct peer is a trusted proxy, and then the rightmost hop
// that is not itself a trusted proxy wins.
func (p Proxies) ClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !p.trusts(peer) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !p.trusts(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	return peer
}
