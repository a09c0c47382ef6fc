// Package admission implements mutual-TLS peer identification and the
// SHA-1 public-key-hash allow-list check (C7).
package admission

import (
	"crypto/sha1" //nolint:gosec // fingerprint, not a security boundary — see spec Design Notes
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
)

// ErrNoClientCertificate is returned when the peer presented no
// certificate at all.
var ErrNoClientCertificate = errors.New("admission: client certificate required")

// ErrNotWhitelisted is returned when the peer's key hash isn't present in
// the current allow-list snapshot.
var ErrNotWhitelisted = errors.New("admission: client certificate not whitelisted")

// CloseCode is the spec's fixed application error code for admission
// rejection (§4.7: "close with code 1001").
const CloseCode = 1001

// CloseReason maps an Admit/PeerKeyHash error to the exact close-reason
// text spec §4.7/§8 pin on the wire — "Client certificate required" /
// "Client certificate not whitelisted" — with no package-qualifying
// prefix, unlike the Go error strings above.
func CloseReason(err error) string {
	switch {
	case errors.Is(err, ErrNoClientCertificate):
		return "Client certificate required"
	case errors.Is(err, ErrNotWhitelisted):
		return "Client certificate not whitelisted"
	default:
		return err.Error()
	}
}

// PeerKeyHash computes the lowercase hex SHA-1 digest of the DER-encoded
// subject public key of the peer's leaf certificate.
func PeerKeyHash(state *tls.ConnectionState) (string, error) {
	if state == nil || len(state.PeerCertificates) == 0 {
		return "", ErrNoClientCertificate
	}
	cert := state.PeerCertificates[0]
	der, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", ErrNoClientCertificate
	}
	sum := sha1.Sum(der) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// Admit checks a peer's TLS state against list, returning ErrNoClientCertificate
// or ErrNotWhitelisted on rejection. Signature-chain validation is
// deliberately not performed here (spec §6): the allow-list is the trust
// root, not the certificate's issuer.
func Admit(state *tls.ConnectionState, list *AllowList) (keyHash string, err error) {
	hash, err := PeerKeyHash(state)
	if err != nil {
		return "", err
	}
	if !list.Contains(hash) {
		return hash, ErrNotWhitelisted
	}
	return hash, nil
}
