package challenge

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/require"
)

func tlsHelloForProtos(serverName string, protos []string) tls.ClientHelloInfo {
	return tls.ClientHelloInfo{ServerName: serverName, SupportedProtos: protos}
}

func tlsHelloFor(serverName string) tls.ClientHelloInfo {
	return tlsHelloForProtos(serverName, []string{acmeTLS1})
}

func TestTLSALPN01PublisherGetCertificate(t *testing.T) {
	p := NewTLSALPN01Publisher()
	require.Equal(t, "tls-alpn-01", string(p.Type()))

	ctx := context.Background()
	keyAuth := "tok-1.thumbprint"
	require.NoError(t, p.Publish(ctx, "example.com", "tok-1", keyAuth))

	hello := tlsHelloFor("example.com")
	cert, err := p.GetCertificate(&hello)
	require.NoError(t, err)
	require.NotNil(t, cert)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, []string{"example.com"}, parsed.DNSNames)

	digest := sha256.Sum256([]byte(keyAuth))
	wantExt, err := asn1.Marshal(digest[:])
	require.NoError(t, err)

	found := false
	for _, ext := range parsed.Extensions {
		if ext.Id.Equal(idPeAcmeIdentifier) {
			found = true
			require.Equal(t, wantExt, ext.Value)
		}
	}
	require.True(t, found, "expected id-pe-acmeIdentifier extension")
}

func TestTLSALPN01PublisherIgnoresNonACMEHello(t *testing.T) {
	p := NewTLSALPN01Publisher()
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, "example.com", "tok-1", "keyauth"))

	hello := tlsHelloForProtos("example.com", []string{"h2"})
	cert, err := p.GetCertificate(&hello)
	require.NoError(t, err)
	require.Nil(t, cert)
}

func TestTLSALPN01PublisherWithdraw(t *testing.T) {
	p := NewTLSALPN01Publisher()
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, "example.com", "tok-1", "keyauth"))
	require.NoError(t, p.Withdraw(ctx, "example.com", "tok-1"))

	hello := tlsHelloFor("example.com")
	cert, err := p.GetCertificate(&hello)
	require.NoError(t, err)
	require.Nil(t, cert)
}
