// Package url contains the parser of listening endpoints.
package url

import (
	"fmt"
	"net"
	"strconv"

	"github.com/bluenviron/gortsplib/v5/pkg/base"
)

// Endpoint is a listening endpoint, obtained from a URL in the form rtsp://host:port[/path].
type Endpoint struct {
	// host to listen on. Empty means all interfaces.
	Host string

	// port to listen on. Never zero.
	Port int

	// path, without leading slash.
	Path string
}

// Address returns the address in the host:port form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	s := "rtsp://" + e.Address()
	if e.Path != "" {
		s += "/" + e.Path
	}
	return s
}

func isValidHostname(h string) bool {
	if len(h) > 253 {
		return false
	}

	labelLen := 0

	for i := 0; i < len(h); i++ {
		c := h[i]

		switch {
		case c == '.':
			if labelLen == 0 {
				return false
			}
			labelLen = 0

		case c == '-':
			if labelLen == 0 {
				return false
			}
			labelLen++

		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_':
			labelLen++

		default:
			return false
		}

		if labelLen > 63 {
			return false
		}
	}

	return true
}

// Parse parses a listening endpoint.
func Parse(s string) (*Endpoint, error) {
	u, err := base.ParseURL(s)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "rtsp" {
		return nil, fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}

	if u.Opaque != "" {
		return nil, fmt.Errorf("URLs with opaque data are not supported")
	}

	if u.User != nil {
		return nil, fmt.Errorf("URLs with credentials are not supported")
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("port is missing")
	}

	if host != "" && net.ParseIP(host) == nil && !isValidHostname(host) {
		return nil, fmt.Errorf("invalid host '%s'", host)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port '%s'", portStr)
	}

	if port == 0 {
		return nil, fmt.Errorf("port must be greater than zero")
	}

	path := u.Path
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}

	return &Endpoint{
		Host: host,
		Port: int(port),
		Path: path,
	}, nil
}
