package acme

import (
	"context"
	"encoding/json"
)

// Directory endpoint keys, per RFC 8555 section 7.1.1.
//
// Grounded on acme/constants.go.
const (
	endpointNewNonce   = "newNonce"
	endpointNewAccount = "newAccount"
	endpointNewOrder   = "newOrder"
	endpointKeyChange  = "keyChange"
	endpointRevokeCert = "revokeCert"

	replayNonceHeader = "Replay-Nonce"
)

// Directory caches an ACME server's directory resource and resolves the
// well-known endpoint keys the rest of this package needs.
//
// Grounded on acme/client/directory.go's Directory/UpdateDirectory/
// GetEndpointURL, generalized to take a context on every fetch.
type Directory struct {
	url       string
	transport *Transport
	entries   map[string]interface{}
}

// NewDirectory builds a Directory for the given server URL. The directory
// itself is not fetched until the first call that needs it.
func NewDirectory(url string, transport *Transport) *Directory {
	return &Directory{url: url, transport: transport}
}

// Refresh unconditionally re-fetches the directory resource.
func (d *Directory) Refresh(ctx context.Context) error {
	resp, err := d.transport.Get(ctx, d.url)
	if err != nil {
		return err
	}
	var entries map[string]interface{}
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return Wrap(Malformed, err, "decoding directory response from %s", d.url)
	}
	d.entries = entries
	return nil
}

// ensure fetches the directory on first use.
func (d *Directory) ensure(ctx context.Context) error {
	if d.entries != nil {
		return nil
	}
	return d.Refresh(ctx)
}

// EndpointURL resolves one of the well-known directory keys above to its
// URL, fetching the directory first if it has not yet been cached.
func (d *Directory) EndpointURL(ctx context.Context, key string) (string, bool) {
	if err := d.ensure(ctx); err != nil {
		return "", false
	}
	raw, ok := d.entries[key]
	if !ok {
		return "", false
	}
	v, ok := raw.(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (d *Directory) mustEndpoint(ctx context.Context, key string) (string, error) {
	url, ok := d.EndpointURL(ctx, key)
	if !ok {
		return "", New(Malformed, "directory has no %q entry", key)
	}
	return url, nil
}
