package ftps

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

type trustMode int

const (
	trustSystem trustMode = iota
	trustAcceptAll
	trustPinned
)

// TrustPolicy decides which server certificates the client accepts on the
// control and data channels. The zero value is SystemDefault.
type TrustPolicy struct {
	mode trustMode
	pin  []byte // SHA-256 of the pinned leaf certificate
}

// SystemDefault verifies the certificate chain against the system roots
// and checks the hostname. It is the default policy.
func SystemDefault() TrustPolicy {
	return TrustPolicy{mode: trustSystem}
}

// AcceptAll accepts any certificate the server presents, without chain or
// hostname verification.
//
// INSECURE: the connection is encrypted but not authenticated, so anyone
// able to intercept traffic can impersonate the server and read the
// credentials. Only use it against servers with self-signed certificates
// on networks you control, and prefer Pinned.
func AcceptAll() TrustPolicy {
	return TrustPolicy{mode: trustAcceptAll}
}

// Pinned accepts exactly the given leaf certificate, whatever its issuer.
func Pinned(cert *x509.Certificate) TrustPolicy {
	sum := sha256.Sum256(cert.Raw)
	return TrustPolicy{mode: trustPinned, pin: sum[:]}
}

// PinnedSHA256 accepts the leaf certificate whose DER encoding has the
// given SHA-256 fingerprint.
func PinnedSHA256(fingerprint []byte) TrustPolicy {
	return TrustPolicy{mode: trustPinned, pin: bytes.Clone(fingerprint)}
}

// Insecure reports whether the policy skips server authentication.
func (p TrustPolicy) Insecure() bool {
	return p.mode == trustAcceptAll
}

func (p TrustPolicy) String() string {
	switch p.mode {
	case trustAcceptAll:
		return "insecure"
	case trustPinned:
		return "pinned:" + hex.EncodeToString(p.pin)
	default:
		return "system"
	}
}

// ParseTrustPolicy builds a policy from configuration. name is one of
// "system" (or empty), "insecure" or "pinned". For "pinned", pin is either
// a path to a PEM certificate or a hex SHA-256 fingerprint (colons allowed).
func ParseTrustPolicy(name, pin string) (TrustPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "system", "default":
		return SystemDefault(), nil
	case "insecure", "accept-all", "acceptall":
		return AcceptAll(), nil
	case "pinned", "pin":
		if pin == "" {
			return TrustPolicy{}, errors.New("pinned trust policy requires a certificate or fingerprint")
		}
		fp := strings.ReplaceAll(pin, ":", "")
		if raw, err := hex.DecodeString(fp); err == nil && len(raw) == sha256.Size {
			return PinnedSHA256(raw), nil
		}
		cert, err := loadCertificate(pin)
		if err != nil {
			return TrustPolicy{}, err
		}
		return Pinned(cert), nil
	default:
		return TrustPolicy{}, fmt.Errorf("unknown trust policy %q", name)
	}
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pinned certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

// NewTLSConfig builds the client TLS configuration used for both the control
// and the data channel. It never touches the network.
//
// The returned config always carries a ClientSessionCache and a ServerName:
// the cache is keyed by ServerName, which is what lets the data channel
// resume the control channel's TLS session.
func NewTLSConfig(serverName string, policy TrustPolicy) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(0),
	}

	switch policy.mode {
	case trustSystem:
	case trustAcceptAll:
		cfg.InsecureSkipVerify = true
	case trustPinned:
		if len(policy.pin) != sha256.Size {
			return nil, errors.New("pinned trust policy has an invalid fingerprint")
		}
		pin := policy.pin
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("server presented no certificate")
			}
			sum := sha256.Sum256(cs.PeerCertificates[0].Raw)
			if !bytes.Equal(sum[:], pin) {
				return fmt.Errorf("server certificate %x does not match pin", sum)
			}
			return nil
		}
	default:
		return nil, fmt.Errorf("unknown trust mode %d", policy.mode)
	}

	return cfg, nil
}
