// Package tlstrust evaluates server certificate chains against per-host pins.
package tlstrust

import (
	"bytes"
	"crypto/x509"
	"sort"
	"sync"
)

// Mode selects how a Policy is evaluated.
type Mode int

const (
	// ModeCertificates anchors the chain to the pinned certificates.
	ModeCertificates Mode = iota + 1
	// ModePublicKeys compares the leaf key with the pinned keys.
	ModePublicKeys
	// ModeMixed tries certificates, then public keys.
	ModeMixed
)

func (m Mode) String() string {
	switch m {
	case ModeCertificates:
		return "certificates"
	case ModePublicKeys:
		return "public_keys"
	case ModeMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Policy pins one host.
type Policy struct {
	Mode         Mode
	Certificates []*x509.Certificate
	// PublicKeys are DER-encoded SubjectPublicKeyInfo blobs.
	PublicKeys [][]byte
}

// CertificatePolicy pins the chain anchor.
func CertificatePolicy(certs ...*x509.Certificate) Policy {
	return Policy{Mode: ModeCertificates, Certificates: certs}
}

// PublicKeyPolicy pins the leaf public key.
func PublicKeyPolicy(keys ...[]byte) Policy {
	return Policy{Mode: ModePublicKeys, PublicKeys: keys}
}

// MixedPolicy accepts either pinned anchors or pinned leaf keys.
func MixedPolicy(certs []*x509.Certificate, keys [][]byte) Policy {
	return Policy{Mode: ModeMixed, Certificates: certs, PublicKeys: keys}
}

func (p Policy) certificatesMatch(host string, chain []*x509.Certificate, opts x509.VerifyOptions) bool {
	if len(p.Certificates) == 0 || len(chain) == 0 {
		return false
	}
	roots := x509.NewCertPool()
	for _, c := range p.Certificates {
		roots.AddCert(c)
	}
	inter := x509.NewCertPool()
	for _, c := range chain[1:] {
		inter.AddCert(c)
	}
	opts.Roots = roots
	opts.Intermediates = inter
	opts.DNSName = host
	_, err := chain[0].Verify(opts)
	return err == nil
}

func (p Policy) publicKeyMatches(chain []*x509.Certificate) bool {
	if len(chain) == 0 {
		return false
	}
	leafKey := chain[0].RawSubjectPublicKeyInfo
	for _, k := range p.PublicKeys {
		if bytes.Equal(k, leafKey) {
			return true
		}
	}
	return false
}

// Configuration is the evaluator setup. Hosts without a policy are handled by the platform
// verifier when EvaluateAllHosts is set and refused otherwise.
type Configuration struct {
	Policies         map[string]Policy
	EvaluateAllHosts bool
}

// DefaultConfiguration has no pins and evaluates all hosts.
func DefaultConfiguration() Configuration {
	return Configuration{Policies: map[string]Policy{}, EvaluateAllHosts: true}
}

// BlockedHosts records hosts whose trust evaluation failed. It only grows and is meant
// for diagnostics, not gating.
type BlockedHosts struct {
	mu    sync.RWMutex
	hosts map[string]struct{}
}

// NewBlockedHosts returns an empty set.
func NewBlockedHosts() *BlockedHosts {
	return &BlockedHosts{hosts: map[string]struct{}{}}
}

// Insert adds host. The zero value is ready to use.
func (b *BlockedHosts) Insert(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hosts == nil {
		b.hosts = map[string]struct{}{}
	}
	b.hosts[host] = struct{}{}
}

// Contains reports whether host was blocked.
func (b *BlockedHosts) Contains(host string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.hosts[host]
	return ok
}

// List returns the blocked hosts sorted.
func (b *BlockedHosts) List() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.hosts))
	for h := range b.hosts {
		out = append(out, h)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}
