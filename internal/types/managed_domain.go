package types

// KeyAlgorithm names the private key algorithm a ManagedDomain's
// certificate key should use. Grounded on acme/keys/keys.go's
// NewSigner(keyType), which supports exactly these two.
type KeyAlgorithm string

const (
	KeyRSA   KeyAlgorithm = "rsa"
	KeyECDSA KeyAlgorithm = "ecdsa"
)

// PrivateKeySpec describes the algorithm and size to use when the driver
// must generate a fresh certificate private key for a ManagedDomain.
type PrivateKeySpec struct {
	Algorithm KeyAlgorithm `json:"algorithm"`
	// Bits is only meaningful for KeyRSA; the default is 4096 (matching
	// md_acme.h's acme->pkey_bits default, doubled over the teacher's
	// 2048-bit acmeshell default to match spec.md's stated default).
	Bits int `json:"bits,omitempty"`
}

// DefaultPrivateKeySpec is used whenever a ManagedDomain does not specify
// one explicitly.
var DefaultPrivateKeySpec = PrivateKeySpec{Algorithm: KeyRSA, Bits: 4096}

// ManagedDomain is a named bundle of one or more DNS names driven as one
// unit against a single CA. Its identity is Name; Names is the ordered
// list of SANs the resulting certificate must cover, with Names[0] as the
// canonical / CN name.
//
// Invariant: if CertURL is non-empty, an Authorization set existed that
// reached all-valid at some point in this domain's history.
type ManagedDomain struct {
	Name           string         `json:"name"`
	Names          []string       `json:"names"`
	Contacts       []string       `json:"contacts,omitempty"`
	CAURL          string         `json:"ca_url"`
	CAProtocol     string         `json:"ca_protocol"`
	CAAccountID    string         `json:"ca_account,omitempty"`
	CAAgreement    string         `json:"ca_agreement,omitempty"`
	CertURL        string         `json:"cert_url,omitempty"`
	PrivateKeySpec PrivateKeySpec `json:"private_key_spec"`
}

// CanonicalName returns the first element of Names, used as the CSR
// common name, or Name itself if Names is empty (should not happen for a
// domain that has reached the authorization phase).
func (m *ManagedDomain) CanonicalName() string {
	if len(m.Names) > 0 {
		return m.Names[0]
	}
	return m.Name
}
