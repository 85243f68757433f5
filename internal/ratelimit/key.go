package ratelimit

import (
	"net"
	"strconv"
	"strings"
)

// Key is user:<id> for authenticated callers and ip:<addr> otherwise.
func Key(userID uint64, remoteAddr string) string {
	if userID != 0 {
		return "user:" + strconv.FormatUint(userID, 10)
	}
	return "ip:" + normalizeAddr(remoteAddr)
}

func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(strings.Trim(addr, "[]"))
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}
