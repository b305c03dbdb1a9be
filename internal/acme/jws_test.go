package acme

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/root360/mod-md/internal/types"
)

func newSigningNonceSource(t *testing.T) *NonceSource {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/directory":
			fmt.Fprintf(w, `{"newNonce":"%s/new-nonce"}`, "http://"+r.Host)
		case "/new-nonce":
			w.Header().Set(replayNonceHeader, "test-nonce")
		}
	}))
	t.Cleanup(server.Close)

	transport, err := NewTransport("")
	require.NoError(t, err)
	dir := NewDirectory(server.URL+"/directory", transport)
	return NewNonceSource(context.Background(), dir, transport)
}

func TestSignWithEmbeddedKey(t *testing.T) {
	signer, err := NewSigner(types.PrivateKeySpec{Algorithm: types.KeyECDSA})
	require.NoError(t, err)
	nonces := newSigningNonceSource(t)

	result, err := sign(context.Background(), nonces, "https://ca.example/new-account", []byte(`{"termsOfServiceAgreed":true}`), &SigningOptions{
		EmbedKey: true,
		Signer:   signer,
	})
	require.NoError(t, err)
	require.NotNil(t, result.JWS)
	require.NotEmpty(t, result.SerializedJWS)

	header := result.JWS.Signatures[0].Header
	require.NotNil(t, header.JSONWebKey)
	require.Empty(t, header.KeyID)

	payload := result.JWS.UnsafePayloadWithoutVerification()
	require.JSONEq(t, `{"termsOfServiceAgreed":true}`, string(payload))
}

func TestSignWithKeyID(t *testing.T) {
	signer, err := NewSigner(types.PrivateKeySpec{Algorithm: types.KeyECDSA})
	require.NoError(t, err)
	nonces := newSigningNonceSource(t)

	result, err := sign(context.Background(), nonces, "https://ca.example/new-order", []byte(`{}`), &SigningOptions{
		KeyID:  "https://ca.example/acme/acct/1",
		Signer: signer,
	})
	require.NoError(t, err)

	header := result.JWS.Signatures[0].Header
	require.Nil(t, header.JSONWebKey)
	require.Equal(t, "https://ca.example/acme/acct/1", header.KeyID)
}

func TestSignRejectsBothKeyIDAndEmbedKey(t *testing.T) {
	signer, err := NewSigner(types.PrivateKeySpec{Algorithm: types.KeyECDSA})
	require.NoError(t, err)
	nonces := newSigningNonceSource(t)

	_, err = sign(context.Background(), nonces, "https://ca.example/x", nil, &SigningOptions{
		EmbedKey: true,
		KeyID:    "https://ca.example/acme/acct/1",
		Signer:   signer,
	})
	require.Error(t, err)
	require.Equal(t, Malformed, KindOf(err))
}

func TestSignRequiresKeyIDOrEmbedKey(t *testing.T) {
	signer, err := NewSigner(types.PrivateKeySpec{Algorithm: types.KeyECDSA})
	require.NoError(t, err)
	nonces := newSigningNonceSource(t)

	_, err = sign(context.Background(), nonces, "https://ca.example/x", nil, &SigningOptions{
		Signer: signer,
	})
	require.Error(t, err)
}

func TestSignRequiresSigner(t *testing.T) {
	nonces := newSigningNonceSource(t)

	_, err := sign(context.Background(), nonces, "https://ca.example/x", nil, &SigningOptions{
		EmbedKey: true,
	})
	require.Error(t, err)
}
