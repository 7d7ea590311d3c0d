package config

import (
	"context"
	"net"
	"net/http"
	"time"
)

// NewHTTPClient builds an outbound HTTP client with the given per-call
// timeout. When ipv4Override is non-empty every dial goes to that address
// instead of the resolved host, keeping the original port. Used in hosting
// environments whose DNS returns AAAA records the network cannot route.
func NewHTTPClient(timeout time.Duration, ipv4Override string) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if ipv4Override != "" {
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return dialer.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, "tcp4", net.JoinHostPort(ipv4Override, port))
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
