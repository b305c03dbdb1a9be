// Package acme implements the wire-level ACME v2 protocol (RFC 8555): directory
// discovery, JWS request signing with anti-replay nonces, account
// registration, order/authorization/challenge management and certificate
// download. It has no notion of a ManagedDomain or a driving state machine -
// that lives in internal/driver, which is the only consumer of this package.
package acme

import (
	"context"
	"crypto"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Identity pairs a signer with the JWS key identification to use for it: a
// CA-assigned account URL once the account exists, or empty to embed the
// JWK directly (only valid for newAccount).
type Identity struct {
	Signer crypto.Signer
	KeyID  string
}

func (id Identity) signingOptions() *SigningOptions {
	if id.KeyID == "" {
		return &SigningOptions{EmbedKey: true, Signer: id.Signer}
	}
	return &SigningOptions{KeyID: id.KeyID, Signer: id.Signer}
}

// Client is a low-level ACME v2 client bound to one CA's directory URL. It
// has no notion of an "active account" the way acme/client.Client does -
// every signed operation takes an explicit signer and key ID, since a driver
// managing many ManagedDomains may hold many accounts concurrently.
//
// Grounded on acme/client/client.go's Client, stripped of its
// REPL-convenience fields (Output, PostAsGet, Keys, Accounts).
type Client struct {
	dir        *Directory
	transport  *Transport
	maxRetries uint64
}

// NewClient builds a Client for the given ACME server directory URL.
// caBundlePath may be empty to trust only the system root pool.
func NewClient(directoryURL, caBundlePath string) (*Client, error) {
	transport, err := NewTransport(caBundlePath)
	if err != nil {
		return nil, err
	}
	return &Client{
		dir:        NewDirectory(directoryURL, transport),
		transport:  transport,
		// maxRetries bounds signedRequest's retry loop, grounded on
		// md_acme.h's acme->max_retries field (the C driver's retry
		// count for the whole request/response cycle). The same budget
		// covers badNonce problems and failed HTTP round trips.
		maxRetries: 3,
	}, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)
}

// signedRequest signs payload and POSTs it to url, retrying on badNonce
// problems and on transport errors per c.retryPolicy. A non-2xx,
// non-badNonce response is decoded as a problem document and returned as a
// permanent *Error.
func (c *Client) signedRequest(ctx context.Context, url string, payload []byte, opts *SigningOptions) (*Response, error) {
	nonces := NewNonceSource(ctx, c.dir, c.transport)

	var result *Response
	operation := func() error {
		sr, err := sign(ctx, nonces, url, payload, opts)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.transport.Post(ctx, url, sr.SerializedJWS)
		if err != nil {
			return err
		}
		// Every response replenishes the nonce cache regardless of status,
		// per spec.md section 4.4 step 5 - this is what lets a badNonce
		// retry below pick up a fresh nonce from the CA's own problem
		// document instead of spending a round trip on a HEAD newNonce.
		nonces.Replenish(resp.Raw.Header.Get(replayNonceHeader))

		if resp.Raw.StatusCode >= 400 {
			aerr := problemFromResponse(resp)
			if aerr.Kind == BadNonce {
				return aerr
			}
			return backoff.Permanent(aerr)
		}

		result = resp
		return nil
	}

	if err := backoff.Retry(operation, c.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// postAsGet performs a POST-as-GET (RFC 8555 section 6.3): a signed request
// with an empty string payload, used for every authenticated read.
func (c *Client) postAsGet(ctx context.Context, url string, id Identity) (*Response, error) {
	return c.signedRequest(ctx, url, []byte(postAsGetBody), id.signingOptions())
}

func problemFromResponse(resp *Response) *Error {
	var p struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		kind := Generic
		if resp.Raw.StatusCode == http.StatusNotFound {
			kind = NotFound
		}
		aerr := New(kind, "HTTP %d with undecodable body", resp.Raw.StatusCode)
		aerr.Status = resp.Raw.StatusCode
		return aerr
	}
	kind := problemKind(p.Type)
	if kind == Generic && resp.Raw.StatusCode == http.StatusNotFound {
		kind = NotFound
	}
	return &Error{Kind: kind, Detail: p.Detail, Status: resp.Raw.StatusCode}
}
