package ratelimit

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies lists the peers allowed to report a client address through
// X-Forwarded-For or X-Real-IP.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses IP addresses and CIDR prefixes.
func NewTrustedProxies(entries []string) (TrustedProxies, error) {
	proxies := TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			proxies.prefixes = append(proxies.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return TrustedProxies{}, fmt.Errorf("ratelimit: trusted proxy %q is not an IP or CIDR", entry)
		}
		addr = addr.Unmap()
		proxies.prefixes = append(proxies.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return proxies, nil
}

func (p TrustedProxies) Empty() bool {
	return len(p.prefixes) == 0
}

// Trusted reports whether ip belongs to a configured proxy.
func (p TrustedProxies) Trusted(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// KeyFunc keys requests on RemoteAddr unless the peer is a trusted proxy. For
// trusted peers X-Forwarded-For is walked right to left and the first hop
// outside the trusted set wins, then X-Real-IP.
func (p TrustedProxies) KeyFunc() KeyFunc {
	if p.Empty() {
		return ClientIP
	}
	return func(r *http.Request) string {
		remote := ClientIP(r)
		if !p.Trusted(remote) {
			return remote
		}
		if hop, ok := p.forwardedClient(r.Header.Values("X-Forwarded-For")); ok {
			return hop
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); validIP(realIP) {
			return realIP
		}
		return remote
	}
}

func (p TrustedProxies) forwardedClient(values []string) (string, bool) {
	var hops []string
	for _, value := range values {
		for _, hop := range strings.Split(value, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !validIP(hops[i]) {
			return "", false
		}
		if !p.Trusted(hops[i]) {
			return hops[i], true
		}
	}
	// every hop is a proxy; the leftmost is the closest thing to a client
	if len(hops) > 0 {
		return hops[0], true
	}
	return "", false
}

func validIP(value string) bool {
	_, err := netip.ParseAddr(value)
	return err == nil
}
