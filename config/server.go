// Package config holds the environment/flag-driven configuration for
// both binaries, in the same "read env, fall back to a default, verify"
// style the teacher's setting.go used for its JSON config.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ServerConfig configures the gateway's listening front.
type ServerConfig struct {
	ControlHost string
	ControlPort uint16

	CertPath string
	KeyPath  string

	// AuthorizedClientsPath points at the allow-list file watched by the
	// admission package; AUTHORIZED_CLIENTS names it.
	AuthorizedClientsPath string

	LogLevel string
	LogPath  string
}

// ListenAddr returns the "host:port" the control listener binds.
func (c ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.ControlHost, strconv.Itoa(int(c.ControlPort)))
}

// LoadServerConfig reads the server's configuration from the environment,
// applying the defaults spec'd for local/dev use (127.0.0.1:8000).
func LoadServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		ControlHost: getenvDefault("CONTROL_HOST", "127.0.0.1"),
		LogLevel:    getenvDefault("LOG_LEVEL", "info"),
		LogPath:     os.Getenv("LOG_PATH"),
	}

	portStr := getenvDefault("CONTROL_PORT", "8000")
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config: invalid CONTROL_PORT %q: %w", portStr, err)
	}
	cfg.ControlPort = uint16(port)

	cfg.CertPath = os.Getenv("SERVER_CERT_PATH")
	cfg.KeyPath = os.Getenv("SERVER_KEY_PATH")
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		return ServerConfig{}, fmt.Errorf("config: SERVER_CERT_PATH and SERVER_KEY_PATH are required")
	}

	cfg.AuthorizedClientsPath = os.Getenv("AUTHORIZED_CLIENTS")
	if cfg.AuthorizedClientsPath == "" {
		return ServerConfig{}, fmt.Errorf("config: AUTHORIZED_CLIENTS is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
