package webfetch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Destination policy for outbound web fetches. Every URL, including every
// redirect hop, passes through CheckURL before a socket is opened.

var reservedV4 = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
}

var reservedV6 = []string{
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
	"2001:db8::/32",
}

var reservedNets []*net.IPNet

func init() {
	for _, cidr := range append(reservedV4, reservedV6...) {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("bad reserved CIDR %q: %v", cidr, err))
		}
		reservedNets = append(reservedNets, n)
	}
}

// IsPrivateOrReserved reports whether ip falls in any non-routable or
// special-purpose range.
func IsPrivateOrReserved(ip net.IP) bool {
	for _, n := range reservedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Policy bundles the host allow/block lists and the private-address switch.
type Policy struct {
	Allowlist []string
	Blocklist []string

	// AllowPrivate disables the resolved-address check. Only for tests
	// against loopback servers.
	AllowPrivate bool

	resolver *net.Resolver
}

func (p *Policy) lookup(ctx context.Context, host string) ([]net.IPAddr, error) {
	r := p.resolver
	if r == nil {
		r = net.DefaultResolver
	}
	return r.LookupIPAddr(ctx, host)
}

// hostMatches reports whether host equals pattern or is a subdomain of it.
func hostMatches(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// HostAllowed applies the allowlist (when non-empty) and the blocklist.
func (p *Policy) HostAllowed(host string) bool {
	for _, b := range p.Blocklist {
		if hostMatches(host, b) {
			return false
		}
	}
	if len(p.Allowlist) == 0 {
		return true
	}
	for _, a := range p.Allowlist {
		if hostMatches(host, a) {
			return true
		}
	}
	return false
}

// CheckURL validates a fetch destination: scheme, credentials, list policy,
// and the resolved addresses. Returns nil when the URL may be fetched.
func (p *Policy) CheckURL(ctx context.Context, u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("URL with embedded credentials refused")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if !p.HostAllowed(host) {
		return fmt.Errorf("host %q not allowed by policy", host)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("host %q is private or loopback", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if !p.AllowPrivate && IsPrivateOrReserved(ip) {
			return fmt.Errorf("address %s is private or loopback", ip)
		}
		return nil
	}
	if p.AllowPrivate {
		return nil
	}

	addrs, err := p.lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", host, err)
	}
	for _, a := range addrs {
		if IsPrivateOrReserved(a.IP) {
			return fmt.Errorf("address %s is private or loopback", a.IP)
		}
	}
	return nil
}
