package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var ErrInvalidURL = errors.New("transport: invalid url")

// Endpoint is a collector address plus the frame size agents should use.
type Endpoint struct {
	Host      string
	Port      int
	FrameSize int
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint in the udp://host:port/size form ParseURL accepts.
func (e Endpoint) String() string {
	if e.FrameSize > 0 {
		return fmt.Sprintf("udp://%s/%d", e.Address(), e.FrameSize)
	}
	return "udp://" + e.Address()
}

// ParseURL parses udp://host:port[/frame_size]. The scheme is case-insensitive.
func ParseURL(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.EqualFold(u.Scheme, "udp") {
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	return NewEndpoint(u.Hostname(), u.Port(), strings.Trim(u.Path, "/"))
}

// NewEndpoint builds an endpoint from separate host, port and frame size
// values. An empty size leaves FrameSize unset.
func NewEndpoint(host, port, size string) (Endpoint, error) {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	port = strings.TrimSpace(port)
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidURL, port)
	}

	ep := Endpoint{Host: host, Port: p}
	if size = strings.TrimSpace(size); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			return Endpoint{}, fmt.Errorf("%w: bad frame size %q", ErrInvalidURL, size)
		}
		ep.FrameSize = n
	}
	return ep, nil
}
