// dialerr.go — Classification of dial failures, so a caller can tell a
// network-unreachable error apart from a protocol-level one without
// string-matching every call site.
package pool

import (
	"errors"
	"net"
	"strings"
)

// IsDialError reports whether err indicates the remote address could
// not be reached at all (connection refused, DNS failure, timeout),
// as opposed to an error the peer itself returned after connecting.
func IsDialError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host")
}
