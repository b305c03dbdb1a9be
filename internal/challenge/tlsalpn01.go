package challenge

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync"
	"time"

	"github.com/root360/mod-md/internal/types"
)

// idPeAcmeIdentifier is the id-pe-acmeIdentifier OID from RFC 8737 section
// 3, carried as a critical extension in the self-signed certificate
// tls-alpn-01 validation requires.
var idPeAcmeIdentifier = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 31}

// acmeTLS1 is the ALPN protocol ID a tls-alpn-01 validation connection
// negotiates, per RFC 8737 section 3.
const acmeTLS1 = "acme-tls/1"

// TLSALPN01Publisher answers tls-alpn-01 challenges by holding, per domain,
// a self-signed certificate whose SAN is the domain and whose
// id-pe-acmeIdentifier extension carries SHA-256(keyAuth), returned from
// GetCertificate whenever a TLS ClientHello negotiates the acme-tls/1 ALPN
// protocol for that domain.
//
// Grounded on RFC 8737 and the lego Client's tlsALPNChallenge/
// TLSALPNProviderServer split (see other_examples' vendored lego client.go),
// collapsed into one type since this module's Publisher interface already
// separates challenge-type selection from provider implementation.
type TLSALPN01Publisher struct {
	mu    sync.RWMutex
	certs map[string]*tls.Certificate
}

// NewTLSALPN01Publisher builds an empty TLSALPN01Publisher.
func NewTLSALPN01Publisher() *TLSALPN01Publisher {
	return &TLSALPN01Publisher{certs: make(map[string]*tls.Certificate)}
}

func (p *TLSALPN01Publisher) Type() types.ChallengeType { return types.ChallengeTLSALPN01 }

func (p *TLSALPN01Publisher) Publish(_ context.Context, domain, _, keyAuth string) error {
	cert, err := selfSignedValidationCert(domain, keyAuth)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.certs[domain] = cert
	p.mu.Unlock()
	return nil
}

func (p *TLSALPN01Publisher) Withdraw(_ context.Context, domain, _ string) error {
	p.mu.Lock()
	delete(p.certs, domain)
	p.mu.Unlock()
	return nil
}

// GetCertificate implements the signature tls.Config.GetCertificate expects,
// so an operator's TLS listener can delegate tls-alpn-01 validation
// handshakes directly to this Publisher alongside its normal certificate.
func (p *TLSALPN01Publisher) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	wantsACME := false
	for _, proto := range hello.SupportedProtos {
		if proto == acmeTLS1 {
			wantsACME = true
			break
		}
	}
	if !wantsACME {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	cert, ok := p.certs[hello.ServerName]
	if !ok {
		return nil, nil
	}
	return cert, nil
}

func selfSignedValidationCert(domain, keyAuth string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256([]byte(keyAuth))
	extValue, err := asn1.Marshal(digest[:])
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtraExtensions: []pkix.Extension{
			{Id: idPeAcmeIdentifier, Critical: true, Value: extValue},
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
