package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/root360/mod-md/internal/types"
)

// Adapted from acme/keys/keys.go. sigAlgForKey/algForKey/JWKForSigner and
// the thumbprint helpers are kept nearly verbatim; NewSigner, MarshalSigner
// and UnmarshalSigner are generalized to take a types.PrivateKeySpec /
// types.KeyAlgorithm instead of the teacher's bare strings so the store can
// round-trip account and domain keys through the same code path.

func sigAlgForKey(signer crypto.Signer) jose.SignatureAlgorithm {
	switch signer.(type) {
	case *ecdsa.PrivateKey:
		return jose.ES256
	case *rsa.PrivateKey:
		return jose.RS256
	}
	return "unknown"
}

func algForKey(signer crypto.Signer) string {
	switch signer.(type) {
	case *ecdsa.PrivateKey:
		return "ECDSA"
	case *rsa.PrivateKey:
		return "RSA"
	}
	return "unknown"
}

// JWKForSigner returns the public JWK representation of signer, suitable
// for embedding in a JWS protected header or account registration body.
func JWKForSigner(signer crypto.Signer) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       signer.Public(),
		Algorithm: algForKey(signer),
	}
}

// SigningKeyForSigner builds the jose.SigningKey used to produce a JWS,
// with keyID left empty for embedded-JWK signing or set to the account URL
// for kid-based signing.
func SigningKeyForSigner(signer crypto.Signer, keyID string) jose.SigningKey {
	jwk := jose.JSONWebKey{
		Key:       signer,
		Algorithm: string(sigAlgForKey(signer)),
		KeyID:     keyID,
	}
	return jose.SigningKey{
		Key:       jwk,
		Algorithm: sigAlgForKey(signer),
	}
}

// JWKThumbprintBytes returns the RFC 7638 JWK thumbprint of signer's public
// key.
func JWKThumbprintBytes(signer crypto.Signer) []byte {
	jwk := JWKForSigner(signer)
	thumbBytes, _ := jwk.Thumbprint(crypto.SHA256)
	return thumbBytes
}

// JWKThumbprint returns the base64url-encoded JWK thumbprint of signer.
func JWKThumbprint(signer crypto.Signer) string {
	return base64.RawURLEncoding.EncodeToString(JWKThumbprintBytes(signer))
}

// KeyAuth computes the key authorization string for a challenge token, per
// RFC 8555 section 8.1: token "." base64url(JWK thumbprint).
func KeyAuth(signer crypto.Signer, token string) string {
	return fmt.Sprintf("%s.%s", token, JWKThumbprint(signer))
}

// MarshalSigner encodes signer's private key to DER bytes alongside its
// types.KeyAlgorithm, for storage via the Store's PKey value type.
func MarshalSigner(signer crypto.Signer) ([]byte, types.KeyAlgorithm, error) {
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		der, err := x509.MarshalECPrivateKey(k)
		return der, types.KeyECDSA, err
	case *rsa.PrivateKey:
		return x509.MarshalPKCS1PrivateKey(k), types.KeyRSA, nil
	default:
		return nil, "", fmt.Errorf("signer was unknown type: %T", k)
	}
}

// UnmarshalSigner is the inverse of MarshalSigner.
func UnmarshalSigner(keyBytes []byte, alg types.KeyAlgorithm) (crypto.Signer, error) {
	switch alg {
	case types.KeyECDSA:
		return x509.ParseECPrivateKey(keyBytes)
	case types.KeyRSA:
		return x509.ParsePKCS1PrivateKey(keyBytes)
	default:
		return nil, fmt.Errorf("unknown key algorithm %q", alg)
	}
}

// SignerToPEM encodes signer's private key as a PEM block, for operator
// inspection or export via the CLI.
func SignerToPEM(signer crypto.Signer) (string, error) {
	der, alg, err := MarshalSigner(signer)
	if err != nil {
		return "", err
	}
	header := "RSA PRIVATE KEY"
	if alg == types.KeyECDSA {
		header = "EC PRIVATE KEY"
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: header, Bytes: der})), nil
}

// NewSigner generates a fresh private key matching spec, defaulting a zero
// Bits to 4096 for RSA (the P-256 curve is fixed for ECDSA).
func NewSigner(spec types.PrivateKeySpec) (crypto.Signer, error) {
	switch spec.Algorithm {
	case types.KeyECDSA:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case types.KeyRSA:
		bits := spec.Bits
		if bits == 0 {
			bits = 4096
		}
		return rsa.GenerateKey(rand.Reader, bits)
	default:
		return nil, fmt.Errorf("unknown key algorithm: %q", spec.Algorithm)
	}
}
