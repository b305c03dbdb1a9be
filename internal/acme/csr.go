package acme

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
)

// BuildCSR produces a base64url DER-encoded CSR covering names, signed by
// key. commonName defaults to names[0] if empty.
//
// Grounded on acme/client/csr.go's CSR, stripped of its shell key-cache
// lookup - the driver always knows exactly which key to sign with.
func BuildCSR(commonName string, names []string, key crypto.Signer) (string, error) {
	if len(names) == 0 {
		return "", New(Malformed, "CSR requires at least one name")
	}
	if commonName == "" {
		commonName = names[0]
	}

	template := x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: commonName},
		DNSNames: names,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, &template, key)
	if err != nil {
		return "", Wrap(Malformed, err, "creating CSR for %v", names)
	}

	return base64.RawURLEncoding.EncodeToString(der), nil
}
