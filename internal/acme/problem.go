package acme

import (
	"strings"

	"github.com/root360/mod-md/internal/types"
)

// problemKinds maps the suffix of an RFC 8555 section 6.7 "urn:ietf:params:acme:error:*"
// problem type to this module's internal Kind taxonomy.
//
// Grounded on md_acme.c's static Problems[] table, which performs the same
// urn-suffix-to-status mapping against apr_status_t; the suffix set here is
// extended with the ACME errors the C table predates (caa, dns, tls).
var problemKinds = map[string]Kind{
	"badCSR":                  BadCSR,
	"badNonce":                BadNonce,
	"badSignatureAlgorithm":   BadSignature,
	"invalidContact":          InvalidContact,
	"malformed":               Malformed,
	"rateLimited":             RateLimited,
	"rejectedIdentifier":      Rejected,
	"serverInternal":          ServerInternal,
	"unauthorized":            Unauthorized,
	"unsupportedIdentifier":   Unsupported,
	"userActionRequired":      UserActionRequired,
	"caa":                     CAA,
	"dns":                     DNS,
	"connection":              Connection,
	"tls":                     TLS,
	"incorrectResponse":       IncorrectResponse,
	"accountDoesNotExist":     Unauthorized,
	"alreadyRevoked":          Rejected,
	"badPublicKey":            BadCSR,
	"badRevocationReason":     Malformed,
	"externalAccountRequired": UserActionRequired,
	"orderNotReady":           Malformed,
}

// problemKind strips the "urn:ietf:params:" or bare "urn:" prefix from an
// ACME problem type and looks up the remaining "acme:error:<suffix>" (or
// just "<suffix>") segment in problemKinds, mirroring
// md_acme.c's problem_status_get.
func problemKind(problemType string) Kind {
	suffix := strings.TrimPrefix(problemType, "urn:ietf:params:")
	suffix = strings.TrimPrefix(suffix, "urn:")
	suffix = strings.TrimPrefix(suffix, "acme:error:")

	if kind, ok := problemKinds[suffix]; ok {
		return kind
	}
	return Generic
}

// errorFromProblem converts a CA-returned problem document into this
// package's *Error, preserving the HTTP status and detail text.
func errorFromProblem(p *types.Problem) *Error {
	if p == nil {
		return New(Generic, "empty problem document")
	}
	return &Error{
		Kind:   problemKind(p.Type),
		Detail: p.Detail,
		Status: p.Status,
	}
}
