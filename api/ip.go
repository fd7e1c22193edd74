package api

import (
	"fmt"
	"net"
	"strings"

	"github.com/labstack/echo/v4"
)

// NewIPExtractor returns the client IP strategy for the server. Without
// trusted proxies the peer address is used and forwarding headers are
// ignored. With them, X-Forwarded-For is honored only across the listed
// CIDRs.
func NewIPExtractor(trustedProxies []string) (echo.IPExtractor, error) {
	var opts []echo.TrustOption
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("api: trusted proxy %q: %w", raw, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	if len(opts) == 0 {
		return echo.ExtractIPDirect(), nil
	}

	opts = append(opts,
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	)
	return echo.ExtractIPFromXFFHeader(opts...), nil
}
