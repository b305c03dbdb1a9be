package acme

import (
	"context"
	"crypto"

	jose "github.com/go-jose/go-jose/v4"
)

// allowedSignatureAlgorithms restricts which alg values this package will
// accept when reparsing a JWS it just produced (go-jose v4 requires this
// allow-list explicitly; the teacher predates that requirement).
var allowedSignatureAlgorithms = []jose.SignatureAlgorithm{jose.RS256, jose.ES256}

// SigningOptions controls how sign produces a JWS, mirroring acme/client/jws.go's
// SigningOptions but with the NonceSource resolved internally from a Directory
// rather than threaded in by the caller, and EmbedKey/KeyID populated by the
// caller explicitly rather than defaulted from an ActiveAccount (this package
// has no notion of an "active" account - the driver always knows exactly
// which account it is signing for).
type SigningOptions struct {
	// EmbedKey, if true, embeds the signer's public key as a JWK instead of
	// a "kid" header. Required for newAccount and any other pre-account
	// request. Mutually exclusive with KeyID.
	EmbedKey bool
	// KeyID is the account URL to use as the JWS "kid" header. Mutually
	// exclusive with EmbedKey.
	KeyID string
	// Signer signs the JWS.
	Signer crypto.Signer
}

func (opts *SigningOptions) validate() error {
	if opts.KeyID != "" && opts.EmbedKey {
		return New(Malformed, "cannot specify both KeyID and EmbedKey")
	}
	if opts.KeyID == "" && !opts.EmbedKey {
		return New(Malformed, "must specify a KeyID or EmbedKey")
	}
	if opts.Signer == nil {
		return New(Malformed, "must specify a Signer")
	}
	return nil
}

// SignResult holds a produced JWS, serialized and ready to POST.
type SignResult struct {
	JWS           *jose.JSONWebSignature
	SerializedJWS []byte
}

// sign produces a SignResult for the given url/data pair using the
// resolved NonceSource, grounded on acme/client/jws.go's signEmbedded/
// signKeyID/sign helpers, collapsed into one function since this package's
// SigningOptions carries everything the teacher split across three.
func sign(ctx context.Context, nonces *NonceSource, url string, data []byte, opts *SigningOptions) (*SignResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var signingKey jose.SigningKey
	joseOpts := &jose.SignerOptions{
		NonceSource: nonces,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
		},
	}
	if opts.EmbedKey {
		signingKey = SigningKeyForSigner(opts.Signer, "")
		joseOpts.EmbedJWK = true
	} else {
		signingKey = SigningKeyForSigner(opts.Signer, opts.KeyID)
	}

	signer, err := jose.NewSigner(signingKey, joseOpts)
	if err != nil {
		return nil, Wrap(Malformed, err, "constructing JWS signer")
	}

	signed, err := signer.Sign(data)
	if err != nil {
		return nil, Wrap(Malformed, err, "signing JWS payload")
	}

	serialized := []byte(signed.FullSerialize())
	parsed, err := jose.ParseSigned(string(serialized), allowedSignatureAlgorithms)
	if err != nil {
		return nil, Wrap(Malformed, err, "reparsing produced JWS")
	}

	return &SignResult{JWS: parsed, SerializedJWS: serialized}, nil
}

// postAsGetBody is the empty-string payload RFC 8555 section 6.3 requires
// for POST-as-GET requests.
const postAsGetBody = ""
