package driver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// stableDigest derives a filesystem-safe, stable local identifier from an
// opaque CA-assigned URL, so account and order records can be filed by name
// without embedding a URL's slashes into a path.
func stableDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}
