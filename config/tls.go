package config

import (
	"crypto/tls"
	"fmt"

	"tunnelgate/transport"
)

// ServerTLSConfig loads the gateway's own certificate and requires (but,
// per spec §6, does not verify the chain of) a client certificate —
// admission decides acceptance from the allow-list, not the CA.
func ServerTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("config: loading server certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAnyClientCert,
		NextProtos:   []string{transport.ALPNProtocol},
	}, nil
}

// ClientTLSConfig loads the client's own certificate. InsecureSkipVerify
// is intentional: there is no CA infrastructure in this design, and the
// client has no analogous allow-list to check the server against (spec
// §6 describes only server-side admission).
func ClientTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("config: loading client certificate: %w", err)
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, //nolint:gosec // no CA is assumed; see spec Design Notes
		NextProtos:         []string{transport.ALPNProtocol},
	}, nil
}
