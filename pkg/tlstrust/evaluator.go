package tlstrust

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/logger"
)

// Decision is the outcome of one trust challenge.
type Decision int

const (
	// UseCredential accepts the chain on the strength of a pin.
	UseCredential Decision = iota + 1
	// PerformDefaultHandling defers to platform verification.
	PerformDefaultHandling
	// Cancel refuses the connection.
	Cancel
)

func (d Decision) String() string {
	switch d {
	case UseCredential:
		return "use_credential"
	case PerformDefaultHandling:
		return "default_handling"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// ChallengeObserver is told about every decision.
type ChallengeObserver func(host string, d Decision)

// Evaluator decides trust challenges. It is safe for concurrent use.
type Evaluator struct {
	cfg     Configuration
	blocked *BlockedHosts
	log     logger.LogManager
	now     func() time.Time

	mu        sync.RWMutex
	observers []ChallengeObserver
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithBlockedHosts shares a blocked hosts set between evaluators.
func WithBlockedHosts(b *BlockedHosts) Option {
	return func(e *Evaluator) { e.blocked = b }
}

// WithLogger sets the evaluator's logger.
func WithLogger(l logger.LogManager) Option {
	return func(e *Evaluator) { e.log = l }
}

// OnChallenge registers an observer.
func OnChallenge(fn ChallengeObserver) Option {
	return func(e *Evaluator) { e.observers = append(e.observers, fn) }
}

// WithClock overrides the time used for certificate validity checks.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an Evaluator for cfg.
func NewEvaluator(cfg Configuration, opts ...Option) *Evaluator {
	policies := make(map[string]Policy, len(cfg.Policies))
	for h, p := range cfg.Policies {
		policies[normalizeHost(h)] = p
	}
	cfg.Policies = policies
	e := &Evaluator{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	if e.blocked == nil {
		e.blocked = NewBlockedHosts()
	}
	e.log = logger.OrNop(e.log)
	return e
}

// BlockedHosts returns the set of hosts refused so far.
func (e *Evaluator) BlockedHosts() *BlockedHosts { return e.blocked }

// AddObserver registers fn after construction.
func (e *Evaluator) AddObserver(fn ChallengeObserver) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

// Evaluate decides the challenge for host given the presented chain, leaf first.
func (e *Evaluator) Evaluate(host string, chain []*x509.Certificate) Decision {
	d := e.evaluate(normalizeHost(host), chain)
	if d == Cancel {
		e.blocked.Insert(normalizeHost(host))
		e.log.WarnF("tls: refused %s (%d certificates presented)", host, len(chain))
	} else {
		e.log.DebugF("tls: %s for %s", d, host)
	}
	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()
	for _, fn := range observers {
		fn(host, d)
	}
	return d
}

func (e *Evaluator) evaluate(host string, chain []*x509.Certificate) Decision {
	if len(e.cfg.Policies) == 0 {
		return e.unpinned()
	}
	if len(chain) == 0 {
		return Cancel
	}
	p, ok := e.cfg.Policies[host]
	if !ok {
		return e.unpinned()
	}

	opts := x509.VerifyOptions{CurrentTime: e.now()}
	var trusted bool
	switch p.Mode {
	case ModeCertificates:
		trusted = p.certificatesMatch(host, chain, opts)
	case ModePublicKeys:
		trusted = p.publicKeyMatches(chain)
	case ModeMixed:
		trusted = p.certificatesMatch(host, chain, opts) || p.publicKeyMatches(chain)
	}
	if !trusted {
		return Cancel
	}
	return UseCredential
}

func (e *Evaluator) unpinned() Decision {
	if e.cfg.EvaluateAllHosts {
		return PerformDefaultHandling
	}
	return Cancel
}

// TLSConfigForHost returns a copy of base whose verification is driven by the evaluator
// for host. Default handling verifies against base.RootCAs, or the system pool when nil.
func (e *Evaluator) TLSConfigForHost(host string, base *tls.Config) *tls.Config {
	cfg := &tls.Config{}
	if base != nil {
		cfg = base.Clone()
	}
	roots := cfg.RootCAs
	// Verification happens in VerifyConnection so pinned self-signed chains can pass.
	cfg.InsecureSkipVerify = true
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		name := host
		if name == "" {
			name = cs.ServerName
		}
		return e.verify(name, cs.PeerCertificates, roots)
	}
	return cfg
}

// TLSConfig is TLSConfigForHost using the SNI name of each connection. Connections made to
// IP literals carry no SNI; use DialTLSContext for those.
func (e *Evaluator) TLSConfig(base *tls.Config) *tls.Config {
	return e.TLSConfigForHost("", base)
}

// DialTLSContext returns a dial function for http.Transport.DialTLSContext that evaluates
// each connection against the host it dials.
func (e *Evaluator) DialTLSContext(dialer *net.Dialer, base *tls.Config) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		cfg := e.TLSConfigForHost(host, base)
		if cfg.ServerName == "" && net.ParseIP(host) == nil {
			cfg.ServerName = host
		}
		td := &tls.Dialer{NetDialer: dialer, Config: cfg}
		return td.DialContext(ctx, network, addr)
	}
}

func (e *Evaluator) verify(host string, chain []*x509.Certificate, roots *x509.CertPool) error {
	switch e.Evaluate(host, chain) {
	case UseCredential:
		return nil
	case PerformDefaultHandling:
		if len(chain) == 0 {
			return fmt.Errorf("tls: %s presented no certificates", host)
		}
		inter := x509.NewCertPool()
		for _, c := range chain[1:] {
			inter.AddCert(c)
		}
		_, err := chain[0].Verify(x509.VerifyOptions{
			DNSName:       host,
			Roots:         roots,
			Intermediates: inter,
			CurrentTime:   e.now(),
		})
		return err
	default:
		return errors.Wrapf(errors.ErrTLSRejected, "host %s", host)
	}
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(h), ".")
}
