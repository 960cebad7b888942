package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the real client IP address from the request.
// Supports X-Forwarded-For and X-Real-IP headers when behind a proxy.
//
// SECURITY: only enable trustProxy when behind a trusted reverse proxy.
// trustedProxyCount specifies how many proxies to trust from the right of
// the X-Forwarded-For chain, which prevents spoofing in multi-proxy setups.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromForwardedChain(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// clientIPFromForwardedChain parses X-Forwarded-For and returns the client IP.
// The header format is "client, proxy1, proxy2, ..." with the proxies we
// control on the right. With trustedProxyCount trusted hops, the client sits
// at index len(ips)-trustedProxyCount-1; anything left of that was appended
// by hosts we do not trust and is ignored.
func clientIPFromForwardedChain(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")

	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	idx := len(ips) - proxyCount - 1
	if idx < 0 {
		idx = 0
	}

	clientIP := strings.TrimSpace(ips[idx])
	if net.ParseIP(clientIP) != nil {
		return clientIP
	}
	return ""
}

// ipFromRemoteAddr extracts the IP of the direct connection, which is a
// proxy address when the request was forwarded.
func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
