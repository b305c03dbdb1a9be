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
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/root360/mod-md/internal/types"
)

// TLSSNI01Publisher answers the legacy tls-sni-01 challenge
// (draft-ietf-acme-acme-01 section 7.3, superseded by tls-alpn-01 and
// withdrawn from every production CA - see types.ChallengeTLSSNI01's doc
// comment). It exists only so a pending authorization created before the
// type's retirement, and still offering it on resume, can be driven to
// completion; the Registry never prefers it over tls-alpn-01 or http-01.
//
// Grounded on TLSALPN01Publisher in this package (self-signed certificate,
// in-memory map, GetCertificate hook), adapted from RFC 8737's SAN+ALPN
// scheme to draft-ietf-acme-acme-01 section 7.3's plain-SNI scheme: the
// validation hostname is hex(SHA-256(keyAuthorization)) split into two
// 32-character labels joined by a dot, under the .acme.invalid TLD, and the
// validating TLS handshake carries no ALPN at all - the certificate is
// selected purely by the ClientHello's SNI.
type TLSSNI01Publisher struct {
	mu sync.RWMutex
	// certs is keyed by the validation hostname a CA's ClientHello asks
	// for, since that is all GetCertificate has to go on.
	certs map[string]*tls.Certificate
	// hosts recovers the validation hostname for a given token, since
	// Withdraw is never given the keyAuth the hostname was derived from.
	hosts map[string]string
}

// NewTLSSNI01Publisher builds an empty TLSSNI01Publisher.
func NewTLSSNI01Publisher() *TLSSNI01Publisher {
	return &TLSSNI01Publisher{
		certs: make(map[string]*tls.Certificate),
		hosts: make(map[string]string),
	}
}

func (p *TLSSNI01Publisher) Type() types.ChallengeType { return types.ChallengeTLSSNI01 }

func (p *TLSSNI01Publisher) Publish(_ context.Context, _, token, keyAuth string) error {
	host := tlsSNI01Hostname(keyAuth)
	cert, err := selfSignedSNICert(host)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.certs[host] = cert
	p.hosts[token] = host
	p.mu.Unlock()
	return nil
}

func (p *TLSSNI01Publisher) Withdraw(_ context.Context, _, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if host, ok := p.hosts[token]; ok {
		delete(p.certs, host)
		delete(p.hosts, token)
	}
	return nil
}

// GetCertificate implements the signature tls.Config.GetCertificate
// expects, exactly like TLSALPN01Publisher.GetCertificate, except it
// answers on SNI alone - a tls-sni-01 validation connection negotiates no
// ALPN protocol.
func (p *TLSSNI01Publisher) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cert, ok := p.certs[hello.ServerName]
	if !ok {
		return nil, nil
	}
	return cert, nil
}

// tlsSNI01Hostname computes the validation hostname draft-ietf-acme-acme-01
// section 7.3 specifies: hex(SHA-256(keyAuth)), split into two 32-character
// labels under .acme.invalid.
func tlsSNI01Hostname(keyAuth string) string {
	digest := sha256.Sum256([]byte(keyAuth))
	z := hex.EncodeToString(digest[:])
	return fmt.Sprintf("%s.%s.acme.invalid", z[:32], z[32:64])
}

func selfSignedSNICert(host string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
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
