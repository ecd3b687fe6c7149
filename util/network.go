package util

import (
	"fmt"
	"net"
	"strconv"
)

// MinPort and MaxPort bound every TCP port hublink accepts.
const (
	MinPort = 1
	MaxPort = 65535
)

// ValidPort reports whether port is within 1-65535.
func ValidPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// ResolveAddr builds a host:port string, validating that the host is a
// numeric IP when noDNS is true.
func ResolveAddr(host string, port int, noDNS bool) (string, error) {
	if noDNS {
		if net.ParseIP(host) == nil {
			return "", fmt.Errorf("cannot parse %q as an IP address (DNS disabled with -n)", host)
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
