// Package httpclient provides the outbound HTTP client feed downloads run
// through. Feed URLs come from operator configuration, so every request is
// screened against SSRF: only http/https, no userinfo, no localhost, and no
// connections into private or special-use address space. The screen applies
// to the initial request, to every redirect hop, and again at dial time so
// DNS rebinding cannot slip a private address past the URL check.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/basilisk-ti/basilisk/errors"
)

const maxRedirects = 10

// SaferClient is an http.Client restricted to public feed endpoints.
type SaferClient struct {
	*http.Client

	// blockLocal disables the private-address screen. Only tests hitting
	// an httptest server on loopback clear it.
	blockLocal bool
}

// NewSaferClient creates a client with the full screen enabled.
func NewSaferClient(timeout time.Duration) *SaferClient {
	c := &SaferClient{blockLocal: true}
	c.Client = &http.Client{
		Timeout:       timeout,
		CheckRedirect: c.checkRedirect,
		Transport: &http.Transport{
			DialContext:         c.dialScreened,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	return c
}

// Do screens the request URL and executes it.
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.screenURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

func (c *SaferClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.Newf("stopped after %d redirects", maxRedirects)
	}
	if err := c.screenURL(req.URL); err != nil {
		return errors.Wrap(err, "redirect blocked")
	}
	return nil
}

// screenURL rejects URLs a feed source has no business pointing at.
func (c *SaferClient) screenURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Newf("scheme %q not allowed", u.Scheme)
	}

	// user:pass@host is host confusion, not a credential we would send.
	if u.User != nil {
		return errors.New("URL carries userinfo")
	}

	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}

	if c.blockLocal {
		if isLocalHostname(host) {
			return errors.Newf("localhost target %q blocked", host)
		}
		if ip := net.ParseIP(host); ip != nil && isRestrictedIP(ip) {
			return errors.Newf("restricted address %s blocked", host)
		}
	}

	return nil
}

// dialScreened resolves the target and refuses restricted addresses. The
// URL screen already rejected literal addresses; this catches hostnames
// that resolve into private space.
func (c *SaferClient) dialScreened(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if !c.blockLocal {
		return dialer.DialContext(ctx, network, addr)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid address")
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %q", host)
	}
	for _, ip := range ips {
		if isRestrictedIP(ip) {
			return nil, errors.Newf("restricted address %s blocked", ip)
		}
	}

	return dialer.DialContext(ctx, network, addr)
}

// isRestrictedIP reports whether the address is private or special-use.
// The stdlib predicates cover RFC 1918, fc00::/7, loopback, link-local,
// multicast and unspecified; 0.0.0.0/8 and 240.0.0.0/4 need explicit checks.
func isRestrictedIP(ip net.IP) bool {
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 0 || ip4[0] >= 240
	}
	return false
}

func isLocalHostname(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" ||
		host == "localhost.localdomain" ||
		strings.HasSuffix(host, ".localhost")
}
