// Package httpclient builds the HTTP clients used to talk to connected platforms.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// ClientConfig configures a platform HTTP client
type ClientConfig struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	// BlockPrivateNetworks refuses to dial loopback, private and link-local
	// addresses. Used when the target URL comes from an untrusted caller.
	BlockPrivateNetworks bool
	MaxRedirects         int
}

func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:      30 * time.Second,
		MaxRedirects: 5,
	}
}

// New creates an HTTP client for platform API calls
func New(config ClientConfig) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if config.BlockPrivateNetworks {
				if err := validateAddress(ctx, addr); err != nil {
					return nil, fmt.Errorf("private network blocked: %w", err)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if config.InsecureSkipVerify {
		// Self-hosted platforms frequently run with self-signed certificates
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}

	maxRedirects := config.MaxRedirects
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	return client
}

func validateAddress(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip.IP) {
			return fmt.Errorf("blocked private IP: %s (%s)", ip.IP, host)
		}
	}

	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// CloseBody drains and closes a response body so the connection can be reused.
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
