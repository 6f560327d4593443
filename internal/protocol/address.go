package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultHost is the bind/connect host used when a plugin does not set one.
const DefaultHost = "127.0.0.1"

// Type is the transport protocol family.
type Type string

const (
	TCP Type = "tcp"
	UDP Type = "udp"
)

// Address describes one protocol endpoint.
// Params: transport type, host, port, and optional kernel receive buffer size.
// Returns: endpoint settings shared by client and server transports.
type Address struct {
	Type              Type
	Host              string
	Port              int
	ReceiveBufferSize int
}

// Config is the declarative protocol section of a plugin; zero fields fall back to plugin defaults.
type Config struct {
	Type              string
	Host              string
	Port              int
	ReceiveBufferSize int
}

// Resolve fills unset protocol fields with plugin defaults.
// Params: cfg raw section; defaultType and defaultPort plugin defaults.
// Returns: resolved address or error for unsupported type and invalid port.
func Resolve(cfg Config, defaultType Type, defaultPort int) (Address, error) {
	out := Address{
		Type:              defaultType,
		Host:              strings.TrimSpace(cfg.Host),
		Port:              cfg.Port,
		ReceiveBufferSize: cfg.ReceiveBufferSize,
	}

	if raw := strings.ToLower(strings.TrimSpace(cfg.Type)); raw != "" {
		out.Type = Type(raw)
	}
	switch out.Type {
	case TCP, UDP:
	default:
		return Address{}, fmt.Errorf("protocol.type %q is not supported (must be tcp or udp)", cfg.Type)
	}

	if out.Host == "" {
		out.Host = DefaultHost
	}
	if out.Port == 0 {
		out.Port = defaultPort
	}
	if out.Port < 0 || out.Port > 65535 {
		return Address{}, fmt.Errorf("protocol.port %d is out of range", out.Port)
	}
	if out.ReceiveBufferSize < 0 {
		return Address{}, fmt.Errorf("protocol.receive_buffer_size cannot be negative")
	}
	return out, nil
}

// HostPort renders address in net.Dial form.
// Params: none.
// Returns: host:port string.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// String renders address as scheme://host:port for logs and error messages.
func (a Address) String() string {
	return fmt.Sprintf("%s://%s", a.Type, a.HostPort())
}
