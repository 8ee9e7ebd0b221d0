// File: iohandler/tls/options.go
//
// Mirrors spec.md §6's tls_ctx_options record. The crypto provider is
// an external collaborator per §1 ("cryptographic primitives treated as
// an opaque TLS provider"); this package's only concrete implementation
// is cryptoTLSProvider, built on crypto/tls, and Options carries
// crypto/tls and crypto/x509 values directly (CertSource.KeyPair,
// TrustStoreOverride).
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// MinimumVersion enumerates the floor protocol version a context will
// accept, per §6's minimum_version ∈ {v1.0, v1.1, v1.2, v1.3}.
type MinimumVersion int

const (
	MinVersionTLS10 MinimumVersion = iota
	MinVersionTLS11
	MinVersionTLS12
	MinVersionTLS13
)

func (v MinimumVersion) tlsConst() uint16 {
	switch v {
	case MinVersionTLS11:
		return tls.VersionTLS11
	case MinVersionTLS12:
		return tls.VersionTLS12
	case MinVersionTLS13:
		return tls.VersionTLS13
	default:
		return tls.VersionTLS10
	}
}

// CertSourceKind selects among §6's three mutually exclusive identity
// sources: client_mtls(cert, key) | server_from_path(cert, key) | pkcs12.
type CertSourceKind int

const (
	CertSourceNone CertSourceKind = iota
	CertSourceKeyPair
	CertSourcePKCS12
)

// CertSource carries one of the identity sources. KeyPair is populated
// for CertSourceKeyPair (covers both client_mtls and server_from_path —
// the distinction is which role the Options belong to, not the source
// shape); PKCS12DER is populated for CertSourcePKCS12.
type CertSource struct {
	Kind      CertSourceKind
	KeyPair   *tls.Certificate
	PKCS12DER []byte
	Password  string
}

// LoadKeyPairFromPath is the grounded helper behind client_mtls(cert,
// key) and server_from_path(cert, key): both name a certificate and key
// file on disk.
func LoadKeyPairFromPath(certPath, keyPath string) (CertSource, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return CertSource{}, fmt.Errorf("tls: load key pair: %w", err)
	}
	return CertSource{Kind: CertSourceKeyPair, KeyPair: &cert}, nil
}

// Options is the channel-handler-facing form of tls_ctx_options.
type Options struct {
	ALPNProtocols        []string
	ServerNameOverride   string
	VerifyPeer           bool
	MinimumVersion       MinimumVersion
	TrustStoreOverride   *x509.CertPool
	Identity             CertSource
	NegotiationTimeoutMs int
}

// certificate resolves Identity into a tls.Certificate, when present.
// PKCS12 is part of §6's option surface but no pack repo carries a
// PKCS12 parser (grep across _examples found none), so it is accepted
// into the type and rejected at construction rather than silently
// ignored or backed by a hand-rolled parser — see DESIGN.md.
func (o Options) certificate() (*tls.Certificate, error) {
	switch o.Identity.Kind {
	case CertSourceNone:
		return nil, nil
	case CertSourceKeyPair:
		return o.Identity.KeyPair, nil
	case CertSourcePKCS12:
		return nil, fmt.Errorf("tls: pkcs12 identity source is not implemented")
	default:
		return nil, fmt.Errorf("tls: unknown cert source kind %d", o.Identity.Kind)
	}
}

func (o Options) clientConfig() (*tls.Config, error) {
	cert, err := o.certificate()
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		ServerName:         o.ServerNameOverride,
		NextProtos:         o.ALPNProtocols,
		InsecureSkipVerify: !o.VerifyPeer,
		MinVersion:         o.MinimumVersion.tlsConst(),
		RootCAs:            o.TrustStoreOverride,
	}
	if cert != nil {
		cfg.Certificates = []tls.Certificate{*cert}
	}
	return cfg, nil
}

func (o Options) serverConfig() (*tls.Config, error) {
	cert, err := o.certificate()
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, fmt.Errorf("tls: server role requires an Identity certificate")
	}
	cfg := &tls.Config{
		NextProtos:   o.ALPNProtocols,
		MinVersion:   o.MinimumVersion.tlsConst(),
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    o.TrustStoreOverride,
	}
	if o.VerifyPeer {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}
