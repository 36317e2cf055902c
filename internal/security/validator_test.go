package security

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeResolver answers lookups from canned tables keyed by host.
type fakeResolver struct {
	ip4 map[string][]net.IP
	ip6 map[string][]net.IP
	err error
}

func (r *fakeResolver) LookupIP(_ context.Context, network, host string) ([]net.IP, error) {
	if r.err != nil {
		return nil, r.err
	}
	switch network {
	case "ip4":
		if ips, ok := r.ip4[host]; ok {
			return ips, nil
		}
	case "ip6":
		if ips, ok := r.ip6[host]; ok {
			return ips, nil
		}
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

// TestValidateScheme verifies only http and https targets pass.
func TestValidateScheme(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil, &fakeResolver{
		ip4: map[string][]net.IP{"example.com": {net.ParseIP("93.184.216.34")}},
	})
	ctx := context.Background()

	require.NoError(t, v.Validate(ctx, "https://example.com/page"))
	require.NoError(t, v.Validate(ctx, "http://example.com"))

	for _, raw := range []string{
		"ftp://example.com",
		"file:///etc/passwd",
		"javascript:alert(1)",
		"://missing-scheme",
	} {
		err := v.Validate(ctx, raw)
		require.ErrorIs(t, err, ErrInvalid, "url %q", raw)
	}
}

// TestValidateIPLiterals verifies restricted IP-literal hosts are
// rejected without any lookup.
func TestValidateIPLiterals(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil, &fakeResolver{})
	ctx := context.Background()

	for _, raw := range []string{
		"http://127.0.0.1/",
		"http://10.1.2.3/",
		"http://172.16.0.1/",
		"http://192.168.1.1/admin",
		"http://169.254.169.254/latest/meta-data/",
		"http://100.64.0.1/",
		"http://0.0.0.0/",
		"http://192.0.0.8/",
		"http://192.88.99.1/",
		"http://198.18.0.1/",
		"http://198.19.255.255/",
		"http://[::1]/",
		"http://[fe80::1]/",
		"http://[fc00::1]/",
		"http://[::ffff:10.0.0.1]/",
	} {
		err := v.Validate(ctx, raw)
		require.ErrorIs(t, err, ErrBlocked, "url %q", raw)
	}

	require.NoError(t, v.Validate(ctx, "http://93.184.216.34/"))
}

// TestValidateResolvedAddresses verifies DNS answers land in the same
// address policy as literals.
func TestValidateResolvedAddresses(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil, &fakeResolver{
		ip4: map[string][]net.IP{
			"public.example":   {net.ParseIP("93.184.216.34")},
			"internal.example": {net.ParseIP("10.0.0.5")},
			"rebind.example":   {net.ParseIP("93.184.216.34"), net.ParseIP("192.168.0.10")},
		},
		ip6: map[string][]net.IP{
			"v6only.example":    {net.ParseIP("2606:2800:220:1::1")},
			"v6private.example": {net.ParseIP("fc00::42")},
		},
	})
	ctx := context.Background()

	require.NoError(t, v.Validate(ctx, "https://public.example/"))
	require.ErrorIs(t, v.Validate(ctx, "https://internal.example/"), ErrBlocked)
	// One bad answer among good ones is enough to refuse.
	require.ErrorIs(t, v.Validate(ctx, "https://rebind.example/"), ErrBlocked)

	require.NoError(t, v.Validate(ctx, "https://v6only.example/"))
	require.ErrorIs(t, v.Validate(ctx, "https://v6private.example/"), ErrBlocked)
}

// TestValidateUnresolvable verifies hostnames with no records are
// treated as invalid input, not as a blocked target.
func TestValidateUnresolvable(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil, &fakeResolver{})
	err := v.Validate(context.Background(), "https://no-such-host.example/")
	require.ErrorIs(t, err, ErrInvalid)
}

// TestValidateResolverTimeout verifies a slow resolver does not fail
// validation; navigation surfaces the real error later.
func TestValidateResolverTimeout(t *testing.T) {
	t.Parallel()

	timeoutErr := &net.DNSError{Err: "i/o timeout", Name: "slow.example", IsTimeout: true}
	v := NewValidator(nil, &fakeResolver{err: timeoutErr})
	require.NoError(t, v.Validate(context.Background(), "https://slow.example/"))

	v = NewValidator(nil, &fakeResolver{err: context.DeadlineExceeded})
	require.NoError(t, v.Validate(context.Background(), "https://slow.example/"))
}

// TestValidateAllowlist verifies suffix matching on the domain
// allowlist.
func TestValidateAllowlist(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{
		ip4: map[string][]net.IP{
			"example.com":          {net.ParseIP("93.184.216.34")},
			"shop.example.com":     {net.ParseIP("93.184.216.34")},
			"example.com.evil.net": {net.ParseIP("93.184.216.34")},
			"other.org":            {net.ParseIP("93.184.216.34")},
		},
	}
	v := NewValidator([]string{"example.com"}, resolver)
	ctx := context.Background()

	require.NoError(t, v.Validate(ctx, "https://example.com/"))
	require.NoError(t, v.Validate(ctx, "https://shop.example.com/"))
	require.NoError(t, v.Validate(ctx, "https://EXAMPLE.com/"))

	// Suffix matching is on dot boundaries, not substrings.
	require.ErrorIs(t, v.Validate(ctx, "https://example.com.evil.net/"), ErrBlocked)
	require.ErrorIs(t, v.Validate(ctx, "https://other.org/"), ErrBlocked)
}

// TestValidateResolverFailure verifies resolver errors other than a
// definitive no-such-host answer do not reject the URL; only a missing
// domain fails closed.
func TestValidateResolverFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	v := NewValidator(nil, &fakeResolver{err: errors.New("connection refused")})
	require.NoError(t, v.Validate(ctx, "https://example.com/"))

	servfail := &net.DNSError{Err: "server misbehaving", Name: "flaky.example", IsTemporary: true}
	v = NewValidator(nil, &fakeResolver{err: servfail})
	require.NoError(t, v.Validate(ctx, "https://flaky.example/"))

	nxdomain := &net.DNSError{Err: "no such host", Name: "gone.example", IsNotFound: true}
	v = NewValidator(nil, &fakeResolver{err: nxdomain})
	require.ErrorIs(t, v.Validate(ctx, "https://gone.example/"), ErrInvalid)
}
