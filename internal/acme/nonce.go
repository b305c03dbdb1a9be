package acme

import (
	"context"
	"net/http"
	"sync"
)

// NonceSource is the single-outstanding-nonce cache spec.md section 4.2
// describes, adapted to also satisfy go-jose's jose.NonceSource interface
// so it plugs directly into the JWS signer the way acme/client/nonce.go's
// Client.Nonce plugs into the teacher's signing path.
//
// At most one nonce is ever held: Nonce consumes and clears whatever is
// cached, falling back to a HEAD of the newNonce endpoint only when the
// cache is empty. Replenish restocks the cache from any CA response's
// Replay-Nonce header (success or problem document alike), so a request
// retried after a badNonce problem picks up the fresh nonce the CA's own
// error response carried instead of spending a round trip re-fetching one.
//
// A sync.Mutex serializes access; the driver signs requests sequentially
// per-domain today, but a shared NonceSource must not race if that changes.
type NonceSource struct {
	mu        sync.Mutex
	dir       *Directory
	transport *Transport
	ctx       context.Context
	current   string
}

// NewNonceSource builds a NonceSource bound to ctx for the lifetime of its
// calls; go-jose's NonceSource interface has no context parameter, so the
// context used for nonce refreshes is fixed at construction time per signing
// operation (see client.go, which builds one NonceSource per signedRequest
// call and shares it across that call's badNonce retries).
func NewNonceSource(ctx context.Context, dir *Directory, transport *Transport) *NonceSource {
	return &NonceSource{ctx: ctx, dir: dir, transport: transport}
}

// Nonce implements jose.NonceSource by consuming the cached nonce, or
// fetching a fresh one via HEAD newNonce if none is cached.
func (n *NonceSource) Nonce() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != "" {
		nonce := n.current
		n.current = ""
		return nonce, nil
	}
	if err := n.refreshLocked(); err != nil {
		return "", err
	}
	nonce := n.current
	n.current = ""
	return nonce, nil
}

// Replenish stores headerValue as the next nonce to hand out, overwriting
// anything already cached. A call with an empty headerValue is a no-op,
// matching the teacher's tolerance for CA responses that omit the header.
func (n *NonceSource) Replenish(headerValue string) {
	if headerValue == "" {
		return
	}
	n.mu.Lock()
	n.current = headerValue
	n.mu.Unlock()
}

func (n *NonceSource) refreshLocked() error {
	nonceURL, err := n.dir.mustEndpoint(n.ctx, endpointNewNonce)
	if err != nil {
		return err
	}

	resp, err := n.transport.Head(n.ctx, nonceURL)
	if err != nil {
		return err
	}
	if resp.Raw.StatusCode != http.StatusOK {
		return New(Connection, "newNonce returned HTTP status %d", resp.Raw.StatusCode)
	}

	nonce := resp.Raw.Header.Get(replayNonceHeader)
	if nonce == "" {
		return New(ServerInternal, "newNonce response carried no %s header", replayNonceHeader)
	}
	n.current = nonce
	return nil
}
