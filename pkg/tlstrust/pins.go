package tlstrust

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/milan604/netkit/pkg/config"
	"github.com/milan604/netkit/pkg/errors"
)

var certExtensions = map[string]bool{".cer": true, ".der": true, ".crt": true, ".pem": true}

// LoadCertificate reads a PEM or DER certificate. For PEM files the first CERTIFICATE
// block is used.
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read certificate %s", path)
	}
	certs, err := parseCertificates(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse certificate %s", path)
	}
	return certs[0], nil
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if len(out) > 0 {
		return out, nil
	}
	c, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, err
	}
	return []*x509.Certificate{c}, nil
}

// LoadCertificatesDir loads every .cer, .der, .crt and .pem file (any case) in dir, in
// name order. Subdirectories are ignored.
func LoadCertificatesDir(dir string) ([]*x509.Certificate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read pin directory %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !certExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	certs := make([]*x509.Certificate, 0, len(names))
	for _, n := range names {
		c, err := LoadCertificate(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// PublicKeysOf returns the DER SubjectPublicKeyInfo of each certificate.
func PublicKeysOf(certs []*x509.Certificate) [][]byte {
	keys := make([][]byte, len(certs))
	for i, c := range certs {
		keys[i] = c.RawSubjectPublicKeyInfo
	}
	return keys
}

// SPKIHash is the base64 SHA-256 of the certificate's public key info, the usual pin format.
func SPKIHash(c *x509.Certificate) string {
	sum := sha256.Sum256(c.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ConfigurationFrom builds a Configuration from the tls section of the client settings.
func ConfigurationFrom(tc config.TLSConfig) (Configuration, error) {
	cfg := Configuration{Policies: make(map[string]Policy, len(tc.Pins)), EvaluateAllHosts: tc.EvaluateAllHosts}
	for host, pin := range tc.Pins {
		certs := make([]*x509.Certificate, 0, len(pin.Certificates))
		for _, path := range pin.Certificates {
			c, err := LoadCertificate(path)
			if err != nil {
				return Configuration{}, errors.Wrapf(err, "pins for %s", host)
			}
			certs = append(certs, c)
		}
		keys := make([][]byte, 0, len(pin.PublicKeys))
		for _, k := range pin.PublicKeys {
			der, err := base64.StdEncoding.DecodeString(k)
			if err != nil {
				return Configuration{}, errors.Wrapf(err, "public key pin for %s", host)
			}
			keys = append(keys, der)
		}
		switch pin.Mode {
		case config.PinModeCertificate:
			cfg.Policies[host] = CertificatePolicy(certs...)
		case config.PinModePublicKey:
			cfg.Policies[host] = PublicKeyPolicy(keys...)
		case config.PinModeMixed:
			cfg.Policies[host] = MixedPolicy(certs, keys)
		default:
			return Configuration{}, errors.Wrapf(errors.New("unknown pin mode "+pin.Mode), "pins for %s", host)
		}
	}
	return cfg, nil
}
