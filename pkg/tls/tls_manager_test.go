package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTLSManagerCreation(t *testing.T) {
	// Without a configuration file TLS is disabled by default
	manager, err := NewTLSManager()
	if err != nil {
		t.Fatalf("Failed to create TLS manager: %v", err)
	}

	if manager.IsEnabled() {
		t.Error("TLS should be disabled by default")
	}

	if manager.GetHTTPPort() == "" {
		t.Error("HTTP port should be set")
	}
	if manager.GetTLSConfig() != nil {
		t.Error("TLS config should be nil when TLS is disabled")
	}
	if manager.GetHTTPHandler() != nil {
		t.Error("HTTP handler should be nil when Let's Encrypt is disabled")
	}
	if manager.NeedsHTTPServer() {
		t.Error("Disabled TLS should not require an extra HTTP server")
	}
}

func TestTLSConfigValidation(t *testing.T) {
	// Test validation logic directly by creating a manager with invalid config
	config := &TLSConfig{
		EnableTLS:         true,
		EnableLetsEncrypt: true,
		Domain:            "", // Empty domain should cause validation error
		LetsEncryptEmail:  "test@example.com",
		CertCacheDir:      "./test_certs",
	}

	manager := &TLSManager{
		config: config,
	}

	// Test validation - should fail due to empty domain
	err := manager.validateConfig()
	if err == nil {
		t.Error("Expected validation error for empty domain, but got none")
	}

	// Test with empty email
	config.Domain = "test.com"
	config.LetsEncryptEmail = ""
	err = manager.validateConfig()
	if err == nil {
		t.Error("Expected validation error for empty email, but got none")
	}
}

func TestTLSManagerMethods(t *testing.T) {
	manager, err := NewTLSManager()
	if err != nil {
		t.Fatalf("Failed to create TLS manager: %v", err)
	}

	// Test port getters
	httpPort := manager.GetHTTPPort()
	httpsPort := manager.GetHTTPSPort()

	if httpPort == "" {
		t.Error("HTTP port should not be empty")
	}

	if httpsPort == "" {
		t.Error("HTTPS port should not be empty")
	}

	// Test certificate file paths
	certFile, keyFile := manager.GetCertFiles()
	if certFile == "" || keyFile == "" {
		t.Error("Certificate file paths should not be empty")
	}

	// Test NeedsHTTPServer
	needsHTTP := manager.NeedsHTTPServer()
	expectedNeedsHTTP := manager.config.EnableTLS && (manager.config.EnableLetsEncrypt || manager.config.ForceHTTPSRedirect)

	if needsHTTP != expectedNeedsHTTP {
		t.Errorf("NeedsHTTPServer() = %v, expected %v", needsHTTP, expectedNeedsHTTP)
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	manager := &TLSManager{
		config: &TLSConfig{
			EnableTLS:          true,
			Domain:             "brainterm.test",
			CertFile:           filepath.Join(dir, "server.crt"),
			KeyFile:            filepath.Join(dir, "server.key"),
			GenerateSelfSigned: true,
		},
	}

	if err := manager.GenerateSelfSignedCert(); err != nil {
		t.Fatalf("Failed to generate self-signed certificate: %v", err)
	}

	// The generated pair must be loadable by the TLS stack
	cert, err := tls.LoadX509KeyPair(manager.config.CertFile, manager.config.KeyFile)
	if err != nil {
		t.Fatalf("Generated certificate pair is not loadable: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("Certificate chain is empty")
	}

	// Check validity period and names
	pemData, err := os.ReadFile(manager.config.CertFile)
	if err != nil {
		t.Fatalf("Failed to read certificate file: %v", err)
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		t.Fatal("Certificate file contains no PEM block")
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}

	if time.Now().After(parsed.NotAfter) {
		t.Error("Certificate is already expired")
	}
	foundDomain := false
	for _, name := range parsed.DNSNames {
		if name == "brainterm.test" {
			foundDomain = true
		}
	}
	if !foundDomain {
		t.Errorf("Certificate should cover the configured domain, got %v", parsed.DNSNames)
	}

	// Key file must not be world readable
	info, err := os.Stat(manager.config.KeyFile)
	if err != nil {
		t.Fatalf("Failed to stat key file: %v", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		t.Errorf("Key file permissions too open: %v", info.Mode().Perm())
	}
}

func TestGenerateSelfSignedCertRejectedWithLetsEncrypt(t *testing.T) {
	manager := &TLSManager{
		config: &TLSConfig{
			EnableLetsEncrypt: true,
		},
	}
	if err := manager.GenerateSelfSignedCert(); err == nil {
		t.Error("Self-signed generation should be rejected when Let's Encrypt is enabled")
	}
}
