package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beta0629/stock-trading-system-sub001/internal/config"
)

// Filenames used inside a certificate directory.
const (
	certName   = "tls.crt"
	keyName    = "tls.key"
	caCertName = "tls_ca.crt"
)

// Setup builds the server TLS configuration from a [server.tls] section.
// A nil or disabled section yields (nil, nil) and the status server stays
// plain HTTP. Certificates are loaded per handshake, so a pair rotated on
// disk takes effect without a restart.
func Setup(section *config.TLSSection) (*tls.Config, error) {
	if section == nil || !section.Enabled {
		return nil, nil
	}
	minVer, maxVer := resolveVersions(section)

	if section.CertFile != "" && section.KeyFile != "" {
		return serverConfig(section.CertFile, section.KeyFile, minVer, maxVer), nil
	}

	if section.Dir != "" {
		certPath := filepath.Join(section.Dir, certName)
		keyPath := filepath.Join(section.Dir, keyName)
		if section.AutoGenerate && !pairExists(certPath, keyPath) {
			if err := generatePair(section, section.Dir); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
		return serverConfig(certPath, keyPath, minVer, maxVer), nil
	}

	return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is configured")
}

func serverConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	// #nosec G402 -- minimum version is resolved above, 1.2 only on request
	return &tls.Config{
		GetCertificate: loadPair(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

// loadPair reads the pair from disk on every handshake. Both files must
// stay inside the certificate's directory; a key path escaping it is
// rejected.
func loadPair(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certPath)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := readWithin(baseDir, certPath)
		if err != nil {
			return nil, err
		}
		keyPEM, err := readWithin(baseDir, keyPath)
		if err != nil {
			return nil, err
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &pair, nil
	}
}

func readWithin(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if absFile != absBase && !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
			return nil, fmt.Errorf("certificate file %s outside %s", p, baseDir)
		}
	}
	return os.ReadFile(clean)
}

func pairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func resolveVersions(section *config.TLSSection) (minVer uint16, maxVer uint16) {
	minVer, maxVer = tls.VersionTLS13, tls.VersionTLS13
	if v, ok := parseVersion(section.MinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(section.MaxVersion); ok {
		maxVer = v
	}
	return minVer, maxVer
}

func parseVersion(s string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// generatePair seeds dir with a self-signed pair using the section's
// auto_gen table, falling back to localhost-only defaults.
func generatePair(section *config.TLSSection, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}

	gen := section.AutoGen
	if gen == nil {
		gen = &config.AutoGenSection{}
	}
	commonName := gen.CommonName
	if commonName == "" {
		commonName = "localhost"
	}
	organization := gen.Organization
	if organization == "" {
		organization = "procmon"
	}
	dnsNames := gen.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	ipAddresses := gen.IPAddresses
	if len(ipAddresses) == 0 {
		ipAddresses = []string{"127.0.0.1"}
	}
	validDays := gen.ValidDays
	if validDays <= 0 {
		validDays = 825
	}

	return GenerateSelfSigned(Request{
		CommonName:   commonName,
		Organization: organization,
		DNSNames:     dnsNames,
		IPAddresses:  ipAddresses,
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(dir, certName),
		KeyPath:      filepath.Join(dir, keyName),
		CACertPath:   filepath.Join(dir, caCertName),
	})
}
