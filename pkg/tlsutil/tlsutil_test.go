package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/datacollector/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

// setupTestFiles writes a cert, its key and the cert again as CA.
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o644))
	return certFile, keyFile, caFile
}

func TestLoadClientConfig(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)
	badPEM := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(badPEM, []byte("not a certificate"), 0o644))

	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
		checkFn func(*testing.T, *tls.Config)
	}{
		{
			name: "defaults",
			cfg:  ClientConfig{},
			checkFn: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.RootCAs)
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.False(t, c.InsecureSkipVerify)
				assert.Empty(t, c.Certificates)
			},
		},
		{
			name: "additional CA",
			cfg:  ClientConfig{CAFiles: []string{caFile}},
			checkFn: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.RootCAs)
			},
		},
		{
			name: "TLS 1.3",
			cfg:  ClientConfig{MinVersion: "1.3"},
			checkFn: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
			},
		},
		{
			name: "client certificate",
			cfg:  ClientConfig{CertFile: certFile, KeyFile: keyFile},
			checkFn: func(t *testing.T, c *tls.Config) {
				assert.Len(t, c.Certificates, 1)
			},
		},
		{
			name: "insecure",
			cfg:  ClientConfig{InsecureSkipVerify: true},
			checkFn: func(t *testing.T, c *tls.Config) {
				assert.True(t, c.InsecureSkipVerify)
			},
		},
		{name: "missing CA file", cfg: ClientConfig{CAFiles: []string{"/does/not/exist.pem"}}, wantErr: true},
		{name: "invalid CA PEM", cfg: ClientConfig{CAFiles: []string{badPEM}}, wantErr: true},
		{name: "cert without key", cfg: ClientConfig{CertFile: certFile}, wantErr: true},
		{name: "missing key file", cfg: ClientConfig{CertFile: certFile, KeyFile: "/does/not/exist.pem"}, wantErr: true},
		{name: "unknown version", cfg: ClientConfig{MinVersion: "1.0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadClientConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.checkFn(t, c)
		})
	}
}

func TestLoadClientConfig_ErrorClass(t *testing.T) {
	_, err := LoadClientConfig(ClientConfig{MinVersion: "2"})
	assert.True(t, errors.IsInvalid(err))

	_, err = LoadClientConfig(ClientConfig{CAFiles: []string{"/does/not/exist.pem"}})
	assert.True(t, errors.IsFatal(err))
}

func TestClientConfig_IsZero(t *testing.T) {
	assert.True(t, ClientConfig{}.IsZero())
	assert.False(t, ClientConfig{MinVersion: "1.3"}.IsZero())
	assert.False(t, ClientConfig{InsecureSkipVerify: true}.IsZero())
}

func TestNewHTTPClient_TrustsConfiguredCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "server-ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, caPEM, 0o644))

	plain, err := NewHTTPClient(ClientConfig{})
	require.NoError(t, err)
	_, err = plain.Get(srv.URL)
	assert.Error(t, err, "test server certificate is not trusted by default")

	client, err := NewHTTPClient(ClientConfig{CAFiles: []string{caFile}})
	require.NoError(t, err)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
