package util

import "net"

// IsLoopbackHostname checks if a hostname represents a loopback address.
// This includes the entire 127.0.0.0/8 range (RFC 1122) and IPv6 ::1.
// Expects hostname without port (as returned by url.URL.Hostname()).
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}
	return IsLoopbackIP(hostname)
}

// IsLoopbackIP is IsLoopbackHostname without the "localhost" name.
// RFC 8252 recommends literal loopback IPs for native app redirects.
func IsLoopbackIP(hostname string) bool {
	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
