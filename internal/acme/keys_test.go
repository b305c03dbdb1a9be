package acme

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/root360/mod-md/internal/types"
)

func TestNewSignerRSADefaultsBits(t *testing.T) {
	signer, err := NewSigner(types.PrivateKeySpec{Algorithm: types.KeyRSA})
	require.NoError(t, err)
	require.NotNil(t, signer)

	der, alg, err := MarshalSigner(signer)
	require.NoError(t, err)
	require.Equal(t, types.KeyRSA, alg)

	roundtripped, err := UnmarshalSigner(der, alg)
	require.NoError(t, err)
	require.Equal(t, signer.Public(), roundtripped.Public())
}

func TestNewSignerECDSA(t *testing.T) {
	signer, err := NewSigner(types.PrivateKeySpec{Algorithm: types.KeyECDSA})
	require.NoError(t, err)

	der, alg, err := MarshalSigner(signer)
	require.NoError(t, err)
	require.Equal(t, types.KeyECDSA, alg)

	roundtripped, err := UnmarshalSigner(der, alg)
	require.NoError(t, err)
	require.Equal(t, signer.Public(), roundtripped.Public())
}

func TestNewSignerUnknownAlgorithm(t *testing.T) {
	_, err := NewSigner(types.PrivateKeySpec{Algorithm: "bogus"})
	require.Error(t, err)
}

func TestKeyAuthIsStableForSameKeyAndToken(t *testing.T) {
	signer, err := NewSigner(types.PrivateKeySpec{Algorithm: types.KeyECDSA})
	require.NoError(t, err)

	first := KeyAuth(signer, "token-1")
	second := KeyAuth(signer, "token-1")
	require.Equal(t, first, second)
	require.Contains(t, first, "token-1.")
}

func TestKeyAuthDiffersAcrossKeys(t *testing.T) {
	a, err := NewSigner(types.PrivateKeySpec{Algorithm: types.KeyECDSA})
	require.NoError(t, err)
	b, err := NewSigner(types.PrivateKeySpec{Algorithm: types.KeyECDSA})
	require.NoError(t, err)

	require.NotEqual(t, KeyAuth(a, "token-1"), KeyAuth(b, "token-1"))
}
