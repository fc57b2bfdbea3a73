package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trustcheck/internal/api"
)

// Source is the set of management and trust-proxy calls a cycle needs.
// *mgmt.Client satisfies it.
type Source interface {
	LocalDeviceInfo(ctx context.Context) (api.DeviceInfo, error)
	LocalCertificates(ctx context.Context) ([]api.Certificate, error)
	TrustTokens(ctx context.Context) ([]api.TrustToken, error)
	RemoteDeviceInfo(ctx context.Context, tok api.TrustToken) (api.DeviceInfo, error)
	RemoteCertificates(ctx context.Context, tok api.TrustToken) ([]api.Certificate, error)
}

// LocalIdentity is the local device and the certificate it presents.
// CertificateID is empty when no local certificate matches the machine id.
type LocalIdentity struct {
	Device        api.DeviceInfo
	CertificateID string
}

// PeerResult is the outcome of checking one trust token target.
type PeerResult struct {
	Token         api.TrustToken
	Device        api.DeviceInfo
	CertificateID string // the peer's own active certificate, display only
	Trusted       bool
}

// CycleResult is what one verification pass produced. Err is nil on success;
// otherwise it names the step that aborted the cycle.
type CycleResult struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Local    LocalIdentity
	Tokens   []api.TrustToken
	Peers    []PeerResult
	Err      error
}

func (r CycleResult) OK() bool { return r.Err == nil }

// Trusted returns the peers that hold the local active certificate.
func (r CycleResult) Trusted() []PeerResult {
	out := make([]PeerResult, 0, len(r.Peers))
	for _, p := range r.Peers {
		if p.Trusted {
			out = append(out, p)
		}
	}
	return out
}

// Verifier runs the trust verification workflow against a Source.
type Verifier struct {
	src      Source
	reporter Reporter
	now      func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source used for token lifetimes and cycle stamps.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func NewVerifier(src Source, reporter Reporter, opts ...Option) *Verifier {
	v := &Verifier{src: src, reporter: reporter, now: time.Now}
	if v.reporter == nil {
		v.reporter = Discard
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ResolveLocal fetches the local identity and certificate list and derives the
// active certificate id.
func (v *Verifier) ResolveLocal(ctx context.Context) (LocalIdentity, error) {
	var local LocalIdentity
	info, err := v.src.LocalDeviceInfo(ctx)
	if err != nil {
		return local, err
	}
	certs, err := v.src.LocalCertificates(ctx)
	if err != nil {
		return local, err
	}
	local.Device = info
	local.CertificateID = api.ActiveCertificateID(certs, info.MachineID)
	v.reporter.Local(local)
	return local, nil
}

// ListTokens fetches the outstanding trust tokens and reports each with its
// remaining lifetime. Expired tokens are reported with a negative value.
func (v *Verifier) ListTokens(ctx context.Context) ([]api.TrustToken, error) {
	tokens, err := v.src.TrustTokens(ctx)
	if err != nil {
		return nil, err
	}
	now := v.now()
	for _, tok := range tokens {
		v.reporter.Token(tok, tok.Remaining(now))
	}
	return tokens, nil
}

// Evaluate cross-references a peer's certificate list. trusted is true when
// some entry carries localCertID; peerCertID is the entry matching the peer's
// own machine id.
func Evaluate(certs []api.Certificate, peerMachineID, localCertID string) (trusted bool, peerCertID string) {
	return api.HasCertificate(certs, localCertID), api.ActiveCertificateID(certs, peerMachineID)
}

// CheckPeer fetches the token target's identity and certificates through the
// trust proxy and decides whether it trusts the local certificate.
func (v *Verifier) CheckPeer(ctx context.Context, tok api.TrustToken, localCertID string) (PeerResult, error) {
	res := PeerResult{Token: tok}
	info, err := v.src.RemoteDeviceInfo(ctx, tok)
	if err != nil {
		return res, err
	}
	certs, err := v.src.RemoteCertificates(ctx, tok)
	if err != nil {
		return res, err
	}
	res.Device = info
	res.Trusted, res.CertificateID = Evaluate(certs, info.MachineID, localCertID)
	return res, nil
}

// RunCycle performs one full pass: local identity, token listing, then each
// peer in order. The first error ends the pass and is returned in the result.
func (v *Verifier) RunCycle(ctx context.Context) (res CycleResult) {
	res = CycleResult{ID: uuid.NewString(), Started: v.now()}
	defer func() { res.Finished = v.now() }()

	v.reporter.Section("LOCAL DEVICE")
	local, err := v.ResolveLocal(ctx)
	if err != nil {
		res.Err = fmt.Errorf("resolve local identity: %w", err)
		return res
	}
	res.Local = local

	v.reporter.Section("LOCAL PROXY TRUSTS")
	tokens, err := v.ListTokens(ctx)
	if err != nil {
		res.Err = fmt.Errorf("list trust tokens: %w", err)
		return res
	}
	res.Tokens = tokens

	v.reporter.Section("TESTING TRUSTS")
	for _, tok := range tokens {
		peer, err := v.CheckPeer(ctx, tok, local.CertificateID)
		if err != nil {
			res.Err = fmt.Errorf("check peer %s: %w", tok.Address(), err)
			return res
		}
		res.Peers = append(res.Peers, peer)
		if peer.Trusted {
			v.reporter.Trusted(peer)
		}
	}
	return res
}
