package tlstrust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milan604/netkit/pkg/config"
	"github.com/milan604/netkit/pkg/errors"
)

const pinnedHost = "pinned.example.com"

func selfSigned(t *testing.T, host string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host},
		DNSNames:              []string{host},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	c, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return c
}

func TestCertificatePinRejectsOtherCertificate(t *testing.T) {
	certA := selfSigned(t, pinnedHost)
	certB := selfSigned(t, pinnedHost)

	e := NewEvaluator(Configuration{Policies: map[string]Policy{pinnedHost: CertificatePolicy(certA)}})

	assert.Equal(t, Cancel, e.Evaluate(pinnedHost, []*x509.Certificate{certB}))
	assert.True(t, e.BlockedHosts().Contains(pinnedHost))

	assert.Equal(t, UseCredential, e.Evaluate(pinnedHost, []*x509.Certificate{certA}))
}

func TestCertificatePinChecksValidityAgainstClock(t *testing.T) {
	cert := selfSigned(t, pinnedHost)
	later := func() time.Time { return time.Now().Add(2 * time.Hour) }

	e := NewEvaluator(Configuration{Policies: map[string]Policy{pinnedHost: CertificatePolicy(cert)}}, WithClock(later))
	assert.Equal(t, Cancel, e.Evaluate(pinnedHost, []*x509.Certificate{cert}))

	pk := NewEvaluator(Configuration{Policies: map[string]Policy{pinnedHost: PublicKeyPolicy(PublicKeysOf([]*x509.Certificate{cert})...)}}, WithClock(later))
	assert.Equal(t, UseCredential, pk.Evaluate(pinnedHost, []*x509.Certificate{cert}))
}

func TestCertificatePinChecksHostName(t *testing.T) {
	cert := selfSigned(t, "other.example.com")
	e := NewEvaluator(Configuration{Policies: map[string]Policy{pinnedHost: CertificatePolicy(cert)}})
	assert.Equal(t, Cancel, e.Evaluate(pinnedHost, []*x509.Certificate{cert}))
}

func TestPublicKeyAndMixedPolicies(t *testing.T) {
	leaf := selfSigned(t, pinnedHost)
	other := selfSigned(t, pinnedHost)

	pk := NewEvaluator(Configuration{Policies: map[string]Policy{pinnedHost: PublicKeyPolicy(PublicKeysOf([]*x509.Certificate{leaf})...)}})
	assert.Equal(t, UseCredential, pk.Evaluate(pinnedHost, []*x509.Certificate{leaf}))
	assert.Equal(t, Cancel, pk.Evaluate(pinnedHost, []*x509.Certificate{other}))

	mixed := NewEvaluator(Configuration{Policies: map[string]Policy{
		pinnedHost: MixedPolicy([]*x509.Certificate{other}, PublicKeysOf([]*x509.Certificate{leaf})),
	}})
	assert.Equal(t, UseCredential, mixed.Evaluate(pinnedHost, []*x509.Certificate{leaf}))
	assert.Equal(t, UseCredential, mixed.Evaluate(pinnedHost, []*x509.Certificate{other}))
	assert.Equal(t, Cancel, mixed.Evaluate(pinnedHost, []*x509.Certificate{selfSigned(t, pinnedHost)}))
}

func TestUnpinnedHosts(t *testing.T) {
	leaf := selfSigned(t, "api.example.com")
	tests := []struct {
		name    string
		cfg     Configuration
		chain   []*x509.Certificate
		want    Decision
		blocked bool
	}{
		{"no policies, evaluate all", DefaultConfiguration(), []*x509.Certificate{leaf}, PerformDefaultHandling, false},
		{"no policies, strict", Configuration{}, []*x509.Certificate{leaf}, Cancel, true},
		{"other host pinned, evaluate all", Configuration{
			Policies: map[string]Policy{pinnedHost: PublicKeyPolicy()}, EvaluateAllHosts: true,
		}, []*x509.Certificate{leaf}, PerformDefaultHandling, false},
		{"other host pinned, strict", Configuration{
			Policies: map[string]Policy{pinnedHost: PublicKeyPolicy()},
		}, []*x509.Certificate{leaf}, Cancel, true},
		{"no chain", Configuration{
			Policies: map[string]Policy{pinnedHost: PublicKeyPolicy()}, EvaluateAllHosts: true,
		}, nil, Cancel, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []Decision
			e := NewEvaluator(tt.cfg, OnChallenge(func(_ string, d Decision) { seen = append(seen, d) }))
			assert.Equal(t, tt.want, e.Evaluate("API.example.com.", tt.chain))
			assert.Equal(t, tt.blocked, e.BlockedHosts().Contains("api.example.com"))
			assert.Equal(t, []Decision{tt.want}, seen)
		})
	}
}

func TestBlockedHostsZeroValue(t *testing.T) {
	var b BlockedHosts
	assert.False(t, b.Contains("a"))
	assert.Empty(t, b.List())

	b.Insert("a")
	assert.True(t, b.Contains("a"))
	assert.Equal(t, []string{"a"}, b.List())
}

func TestBlockedHostsConcurrent(t *testing.T) {
	b := NewBlockedHosts()
	var wg sync.WaitGroup
	for _, h := range []string{"c", "a", "b", "a"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Insert(h)
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"a", "b", "c"}, b.List())
}

func TestDialTLSContextAgainstServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	get := func(e *Evaluator, base *tls.Config) error {
		tr := &http.Transport{DialTLSContext: e.DialTLSContext(nil, base)}
		defer tr.CloseIdleConnections()
		resp, err := (&http.Client{Transport: tr, Timeout: 5 * time.Second}).Get(srv.URL)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	pinned := NewEvaluator(Configuration{Policies: map[string]Policy{
		"127.0.0.1": PublicKeyPolicy(srv.Certificate().RawSubjectPublicKeyInfo),
	}})
	assert.NoError(t, get(pinned, nil))

	wrong := NewEvaluator(Configuration{Policies: map[string]Policy{
		"127.0.0.1": CertificatePolicy(selfSigned(t, "127.0.0.1")),
	}})
	err := get(wrong, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTLSRejected))
	assert.True(t, wrong.BlockedHosts().Contains("127.0.0.1"))

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())
	assert.NoError(t, get(NewEvaluator(DefaultConfiguration()), &tls.Config{RootCAs: roots}))
	assert.Error(t, get(NewEvaluator(DefaultConfiguration()), &tls.Config{RootCAs: x509.NewCertPool()}))
}

func TestTLSConfigUsesServerName(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	get := func(e *Evaluator) error {
		tr := &http.Transport{TLSClientConfig: e.TLSConfig(&tls.Config{ServerName: "example.com"})}
		defer tr.CloseIdleConnections()
		resp, err := (&http.Client{Transport: tr, Timeout: 5 * time.Second}).Get(srv.URL)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	pinned := NewEvaluator(Configuration{Policies: map[string]Policy{
		"example.com": PublicKeyPolicy(srv.Certificate().RawSubjectPublicKeyInfo),
	}})
	assert.NoError(t, get(pinned))

	wrong := NewEvaluator(Configuration{Policies: map[string]Policy{
		"example.com": PublicKeyPolicy(selfSigned(t, "example.com").RawSubjectPublicKeyInfo),
	}})
	err := get(wrong)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTLSRejected)
	assert.True(t, wrong.BlockedHosts().Contains("example.com"))
}

func TestLoadCertificatesDir(t *testing.T) {
	dir := t.TempDir()
	a := selfSigned(t, "a.example.com")
	b := selfSigned(t, "b.example.com")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.PEM"),
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.Raw}), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.cer"), b.Raw, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pem"), 0o700))

	certs, err := LoadCertificatesDir(dir)
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.Equal(t, a.Raw, certs[0].Raw)
	assert.Equal(t, b.Raw, certs[1].Raw)
	assert.Len(t, SPKIHash(a), 44)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.crt"), []byte("garbage"), 0o600))
	_, err = LoadCertificatesDir(dir)
	assert.Error(t, err)
}

func TestConfigurationFrom(t *testing.T) {
	dir := t.TempDir()
	c := selfSigned(t, pinnedHost)
	path := filepath.Join(dir, "pin.der")
	require.NoError(t, os.WriteFile(path, c.Raw, 0o600))

	cfg, err := ConfigurationFrom(config.TLSConfig{
		EvaluateAllHosts: false,
		Pins: map[string]config.PinConfig{
			pinnedHost: {Mode: config.PinModeMixed, Certificates: []string{path},
				PublicKeys: []string{base64.StdEncoding.EncodeToString(c.RawSubjectPublicKeyInfo)}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeMixed, cfg.Policies[pinnedHost].Mode)
	assert.Equal(t, UseCredential, NewEvaluator(cfg).Evaluate(pinnedHost, []*x509.Certificate{c}))

	_, err = ConfigurationFrom(config.TLSConfig{Pins: map[string]config.PinConfig{
		pinnedHost: {Mode: config.PinModeCertificate, Certificates: []string{filepath.Join(dir, "missing.pem")}},
	}})
	assert.Error(t, err)
}
