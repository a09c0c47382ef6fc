package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"tunnelgate/clientside"
)

// ClientConfig configures one run of the client dialer.
type ClientConfig struct {
	RemoteHost string
	RemotePort uint16

	CertPath string
	KeyPath  string

	Rule clientside.Rule

	LogLevel string
	LogPath  string
}

// RemoteAddr returns the "host:port" of the server's control endpoint.
func (c ClientConfig) RemoteAddr() string {
	return net.JoinHostPort(c.RemoteHost, strconv.Itoa(int(c.RemotePort)))
}

// ParseClientConfig parses the client's command line, the same
// stdlib-flag style the teacher used for its single -config flag, with
// environment fallbacks for anything not passed explicitly. args excludes
// the program name (pass os.Args[1:]).
func ParseClientConfig(args []string) (ClientConfig, error) {
	fs := flag.NewFlagSet("tunnelgate-client", flag.ContinueOnError)

	var keyPath, crtPath, host, port string
	fs.StringVar(&keyPath, "k", "", "path to the client's TLS private key")
	fs.StringVar(&keyPath, "ssl-key", "", "path to the client's TLS private key")
	fs.StringVar(&crtPath, "c", "", "path to the client's TLS certificate")
	fs.StringVar(&crtPath, "ssl-crt", "", "path to the client's TLS certificate")
	fs.StringVar(&host, "h", "", "server control host")
	fs.StringVar(&host, "host", "", "server control host")
	fs.StringVar(&port, "p", "", "server control port")
	fs.StringVar(&port, "port", "", "server control port")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	if fs.NArg() != 1 {
		return ClientConfig{}, fmt.Errorf("config: expected exactly one proxy rule argument, got %d", fs.NArg())
	}
	rule, err := clientside.ParseRule(fs.Arg(0))
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config: %w", err)
	}

	if keyPath == "" {
		keyPath = os.Getenv("CLIENT_KEY_PATH")
	}
	if crtPath == "" {
		crtPath = os.Getenv("CLIENT_CERT_PATH")
	}
	if keyPath == "" || crtPath == "" {
		return ClientConfig{}, fmt.Errorf("config: client TLS key/cert required (-k/-c or CLIENT_KEY_PATH/CLIENT_CERT_PATH)")
	}

	if host == "" {
		host = getenvDefault("REMOTE_HOST", "127.0.0.1")
	}
	if port == "" {
		port = getenvDefault("REMOTE_PORT", "8000")
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config: invalid port %q: %w", port, err)
	}

	return ClientConfig{
		RemoteHost: host,
		RemotePort: uint16(portNum),
		CertPath:   crtPath,
		KeyPath:    keyPath,
		Rule:       rule,
		LogLevel:   getenvDefault("LOG_LEVEL", "info"),
		LogPath:    os.Getenv("LOG_PATH"),
	}, nil
}
