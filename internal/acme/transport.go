package acme

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"runtime"
)

// Adapted from net/acme.go's ACMENet. Renamed to Transport to fit this
// module's naming, with every request now taking a context.Context so the
// driver's poll loops can be cancelled, and CA bundle loading made optional
// (a nil/empty path falls back to the system root pool rather than erroring,
// since a production driver talks to public CAs far more often than the
// shell tool this is grounded on did).
const (
	userAgentBase = "root360.mod-md"
	locale        = "en-us"
)

// Transport performs the HTTP requests underlying every ACME operation,
// recording request/response dumps for diagnostics the way net/acme.go did.
type Transport struct {
	httpClient *http.Client
}

// NewTransport builds a Transport trusting the system root pool, plus the
// PEM certificates in caBundlePath if it is non-empty.
func NewTransport(caBundlePath string) (*Transport, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if caBundlePath != "" {
		pemBundle, err := os.ReadFile(caBundlePath)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle %q: %w", caBundlePath, err)
		}
		if !pool.AppendCertsFromPEM(pemBundle) {
			return nil, fmt.Errorf("no certificates found in CA bundle %q", caBundlePath)
		}
	}

	return &Transport{
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: pool},
			},
		},
	}, nil
}

// Response is the result of a Transport request: the decoded body alongside
// the raw *http.Response for header inspection (Location, Replay-Nonce,
// Retry-After) and request/response dumps for debug logging.
type Response struct {
	Raw      *http.Response
	Body     []byte
	ReqDump  []byte
	RespDump []byte
}

func (t *Transport) do(req *http.Request) (*Response, error) {
	ua := fmt.Sprintf("%s (%s; %s)", userAgentBase, runtime.GOOS, runtime.GOARCH)
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", locale)

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		reqDump = nil
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, Wrap(Connection, err, "request to %s failed", req.URL)
	}
	defer resp.Body.Close()

	respDump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		respDump = nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Wrap(Connection, err, "reading response body from %s", req.URL)
	}

	return &Response{Raw: resp, Body: body, ReqDump: reqDump, RespDump: respDump}, nil
}

// Head issues an HTTP HEAD request, used only for the newNonce endpoint.
func (t *Transport) Head(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, Wrap(Malformed, err, "building HEAD request for %s", url)
	}
	return t.do(req)
}

// Get issues a plain, unauthenticated HTTP GET, used for the directory
// resource and for AIA issuer certificate downloads (every authenticated
// ACME read is a POST-as-GET signed request).
func (t *Transport) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Wrap(Malformed, err, "building GET request for %s", url)
	}
	return t.do(req)
}

// Post issues an HTTP POST with the given JWS body and
// application/jose+json content type, used for every signed ACME request.
func (t *Transport) Post(ctx context.Context, url string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Wrap(Malformed, err, "building POST request for %s", url)
	}
	req.Header.Set("Content-Type", "application/jose+json")
	return t.do(req)
}
