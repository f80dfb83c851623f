package ftps

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gonzalop/ftps/internal/ftptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTLSConfig(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)

	tests := []struct {
		name         string
		policy       TrustPolicy
		wantSkip     bool
		wantVerifier bool
	}{
		{"system", SystemDefault(), false, false},
		{"accept all", AcceptAll(), true, false},
		{"pinned", Pinned(srv.Cert), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewTLSConfig("ftp.example.com", tt.policy)
			require.NoError(t, err)

			assert.Equal(t, "ftp.example.com", cfg.ServerName)
			assert.NotNil(t, cfg.ClientSessionCache)
			assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
			assert.Equal(t, tt.wantSkip, cfg.InsecureSkipVerify)
			assert.Equal(t, tt.wantVerifier, cfg.VerifyConnection != nil)
		})
	}
}

func TestPinned_VerifyConnection(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)

	cfg, err := NewTLSConfig("127.0.0.1", Pinned(srv.Cert))
	require.NoError(t, err)

	assert.NoError(t, cfg.VerifyConnection(tls.ConnectionState{PeerCertificates: []*x509.Certificate{srv.Cert}}))
}

func TestPinnedSHA256_Mismatch(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)

	cfg, err := NewTLSConfig("127.0.0.1", PinnedSHA256(make([]byte, sha256.Size)))
	require.NoError(t, err)

	err = cfg.VerifyConnection(tls.ConnectionState{PeerCertificates: []*x509.Certificate{srv.Cert}})
	assert.ErrorContains(t, err, "does not match pin")

	err = cfg.VerifyConnection(tls.ConnectionState{})
	assert.ErrorContains(t, err, "no certificate")
}

func TestNewTLSConfig_BadPin(t *testing.T) {
	t.Parallel()
	_, err := NewTLSConfig("h", PinnedSHA256([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestParseTrustPolicy(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	sum := sha256.Sum256(srv.Cert.Raw)
	fingerprint := hex.EncodeToString(sum[:])

	pemPath := filepath.Join(t.TempDir(), "server.pem")
	require.NoError(t, os.WriteFile(pemPath, srv.CertPEM(), 0o600))

	colons := make([]string, 0, len(sum))
	for _, b := range sum {
		colons = append(colons, strings.ToUpper(hex.EncodeToString([]byte{b})))
	}

	tests := []struct {
		name    string
		mode    string
		pin     string
		want    string
		wantErr bool
	}{
		{"empty is system", "", "", "system", false},
		{"system", "system", "", "system", false},
		{"insecure", "insecure", "", "insecure", false},
		{"accept-all alias", "Accept-All", "", "insecure", false},
		{"pinned fingerprint", "pinned", fingerprint, "pinned:" + fingerprint, false},
		{"pinned colon fingerprint", "pinned", strings.Join(colons, ":"), "pinned:" + fingerprint, false},
		{"pinned pem file", "pin", pemPath, "pinned:" + fingerprint, false},
		{"pinned without pin", "pinned", "", "", true},
		{"pinned missing file", "pinned", filepath.Join(t.TempDir(), "nope.pem"), "", true},
		{"unknown", "trust-me", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseTrustPolicy(tt.mode, tt.pin)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestTrustPolicy_ZeroValueIsSystem(t *testing.T) {
	t.Parallel()
	var p TrustPolicy
	assert.False(t, p.Insecure())
	assert.Equal(t, "system", p.String())
	assert.True(t, AcceptAll().Insecure())
}

func TestProfile(t *testing.T) {
	t.Parallel()
	p := Profile{Host: "ftp.example.com", Username: "bob", Password: "hunter2"}

	assert.NoError(t, p.Validate())
	assert.Equal(t, "ftp.example.com:21", p.Addr())
	assert.NotContains(t, p.String(), "hunter2")
	assert.Equal(t, "bob@ftp.example.com:21:~", p.String())

	p.Port = 2121
	p.Directory = "/in"
	assert.Equal(t, "[::1]:2121", Profile{Host: "::1", Port: 2121}.Addr())
	assert.Equal(t, "bob@ftp.example.com:2121:/in", p.String())

	assert.ErrorIs(t, Profile{}.Validate(), ErrInvalidProfile)
	assert.ErrorIs(t, Profile{Host: "h", Port: 70000}.Validate(), ErrInvalidProfile)
}
