// Package challenge publishes and withdraws ACME challenge responses -
// http-01 file artifacts, dns-01 TXT records, tls-alpn-01 certificates - so
// the CA's validation requests can find them.
//
// Grounded on the lego Client's solver/preSolver/cleanup interface split
// (vendored into the pack as
// other_examples/3f650ecd_ccsnake-traefik__vendor-github.com-xenolf-lego-acme-client.go.go),
// generalized from lego's per-challenge-type concrete solver structs into
// a single Publisher interface the driver selects by ChallengeType, since
// this module (unlike lego) does not itself run the HTTP/TLS listener that
// answers validation traffic - that responsibility belongs to whatever
// embeds this driver (mirroring mod_md's position as an Apache module that
// hands off serving the acme-challenge path to the surrounding server).
package challenge

import (
	"context"

	"github.com/root360/mod-md/internal/types"
)

// Publisher makes one challenge type's response discoverable to a CA's
// validation servers, and removes it again once validation has completed
// (successfully or not). Publish must be idempotent: the driver calls it
// again after a restart for any challenge still in StatusProcessing.
type Publisher interface {
	// Type returns the ChallengeType this Publisher answers for.
	Type() types.ChallengeType

	// Publish makes keyAuth discoverable for domain/token; Withdraw takes
	// the same domain and token to remove it. For dns-01, domain is the bare
	// name being validated (not yet prefixed with "_acme-challenge.").
	Publish(ctx context.Context, domain, token, keyAuth string) error

	// Withdraw removes a previously published response. Safe to call even
	// if Publish was never called or already withdrawn.
	Withdraw(ctx context.Context, domain, token string) error
}

// Registry resolves a ChallengeType to the Publisher willing to answer it,
// in preference order - the driver picks the first entry among an
// authorization's offered challenges that has a registered Publisher.
//
// Grounded on the lego Client's `solvers map[Challenge]solver` field.
type Registry struct {
	publishers map[types.ChallengeType]Publisher
	// preference lists ChallengeTypes in the order the driver should try
	// them, grounded on spec.md's stated preference order: http-01, then
	// tls-alpn-01, then tls-sni-01, then dns-01 (tls-sni-01 ranks below
	// tls-alpn-01 since it only ever appears on an authorization that
	// predates the type's retirement - see types.ChallengeTLSSNI01's doc
	// comment - and is never the first choice for a new one).
	preference []types.ChallengeType
}

// NewRegistry builds an empty Registry with the standard preference order.
func NewRegistry() *Registry {
	return &Registry{
		publishers: make(map[types.ChallengeType]Publisher),
		preference: []types.ChallengeType{
			types.ChallengeHTTP01,
			types.ChallengeTLSALPN01,
			types.ChallengeTLSSNI01,
			types.ChallengeDNS01,
		},
	}
}

// Register installs p as the Publisher for its ChallengeType, replacing any
// previously registered Publisher for that type.
func (r *Registry) Register(p Publisher) {
	r.publishers[p.Type()] = p
}

// Select picks the most-preferred challenge among offered that this
// Registry has a Publisher for.
func (r *Registry) Select(offered []types.Challenge) (types.Challenge, Publisher, bool) {
	for _, want := range r.preference {
		if pub, ok := r.publishers[want]; ok {
			for _, c := range offered {
				if c.Type == want {
					return c, pub, true
				}
			}
		}
	}
	return types.Challenge{}, nil, false
}
