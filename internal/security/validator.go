// Package security validates capture target URLs before any browser
// navigation happens. A URL is rejected when it is malformed, uses a
// non-HTTP scheme, falls outside the configured domain allowlist, or
// resolves to an address in a private, loopback, link-local, or
// otherwise reserved range.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Address ranges a capture target must never resolve to. The list
// covers RFC 1918 space, loopback, link-local (including the cloud
// metadata endpoint), CGNAT, the IETF protocol and 6to4 relay blocks,
// benchmarking space, the TEST-NET blocks, multicast, reserved and
// broadcast space, plus the IPv6 equivalents.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.88.99.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

// Validation failure reasons, surfaced in error messages and mapped to
// HTTP statuses by the API layer.
var (
	// ErrInvalid marks URLs that are structurally unusable: bad
	// syntax, wrong scheme, missing host, or unresolvable names.
	ErrInvalid = errors.New("invalid target url")
	// ErrBlocked marks URLs that parse fine but point somewhere the
	// service refuses to fetch.
	ErrBlocked = errors.New("blocked target url")
)

const resolveTimeout = 5 * time.Second

// Resolver looks up host addresses. *net.Resolver satisfies it; tests
// substitute a canned implementation.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Validator checks capture targets against scheme, allowlist, and
// address policy.
type Validator struct {
	allowedDomains []string
	resolver       Resolver
}

// NewValidator creates a Validator. allowedDomains is a list of
// lowercase domain suffixes; empty means any public domain is allowed.
// A nil resolver falls back to the default system resolver.
func NewValidator(allowedDomains []string, resolver Resolver) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Validator{
		allowedDomains: allowedDomains,
		resolver:       resolver,
	}
}

// Validate checks rawURL and returns nil when it is safe to navigate
// to. Failures wrap ErrInvalid or ErrBlocked.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrInvalid, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing hostname", ErrInvalid)
	}

	if !v.domainAllowed(host) {
		return fmt.Errorf("%w: domain %q is not on the allowlist", ErrBlocked, host)
	}

	// IP-literal hosts are checked directly, no lookup involved. Unmap
	// so v4-mapped v6 literals hit the IPv4 table.
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		if blocked(addr.Unmap()) {
			return fmt.Errorf("%w: address %s is in a restricted range", ErrBlocked, addr.Unmap())
		}
		return nil
	}

	return v.checkResolved(ctx, host)
}

// domainAllowed reports whether host matches the allowlist: an exact
// entry or a subdomain of one. An empty allowlist admits everything.
func (v *Validator) domainAllowed(host string) bool {
	if len(v.allowedDomains) == 0 {
		return true
	}
	for _, d := range v.allowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// checkResolved resolves host and rejects it when any returned address
// is restricted. IPv4 answers are preferred; IPv6 is consulted when no
// IPv4 records exist. Only a definitive no-such-host answer fails
// validation: a lookup that times out or errors for any other reason
// lets the request through, because the navigation itself will surface
// the real problem and refusing here would turn resolver trouble into
// false positives.
func (v *Validator) checkResolved(ctx context.Context, host string) error {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	ips, err := v.resolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		if err != nil && !notFound(err) {
			zap.L().Warn("dns lookup failed, allowing target unvetted",
				zap.String("host", host), zap.Error(err))
			return nil
		}
		ips, err = v.resolver.LookupIP(ctx, "ip6", host)
		if err != nil && !notFound(err) {
			zap.L().Warn("dns lookup failed, allowing target unvetted",
				zap.String("host", host), zap.Error(err))
			return nil
		}
		if err != nil || len(ips) == 0 {
			return fmt.Errorf("%w: hostname %q does not resolve", ErrInvalid, host)
		}
	}

	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		if blocked(addr.Unmap()) {
			return fmt.Errorf("%w: %q resolves to restricted address %s", ErrBlocked, host, addr.Unmap())
		}
	}
	return nil
}

func blocked(addr netip.Addr) bool {
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// notFound reports whether err is a definitive no-such-host answer, as
// opposed to a timeout or a misbehaving resolver.
func notFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
