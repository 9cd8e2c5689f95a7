package inspector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Runner executes read-only commands on one host.
type Runner interface {
	Run(ctx context.Context, command string) ([]byte, error)
	Close() error
}

// Dialer opens a Runner for a host address.
type Dialer interface {
	Dial(ctx context.Context, host string) (Runner, error)
}

// Address is a parsed "user@host:port" host string
type Address struct {
	User string
	Host string
	Port int
}

// String returns host:port suitable for net.Dial.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAddress accepts "host", "host:port", "user@host", "user@host:port"
// and bracketed IPv6 forms. Missing parts take the given defaults.
func ParseAddress(s, defaultUser string, defaultPort int) (Address, error) {
	s = strings.TrimSpace(s)
	addr := Address{User: defaultUser, Port: defaultPort}
	if at := strings.LastIndex(s, "@"); at >= 0 {
		addr.User, s = s[:at], s[at+1:]
	}
	if s == "" {
		return Address{}, fmt.Errorf("empty host")
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// no port, or a bare IPv6 address
		addr.Host = strings.Trim(s, "[]")
		return addr, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return Address{}, fmt.Errorf("invalid port in %q", s)
	}
	addr.Host, addr.Port = host, p
	return addr, nil
}
