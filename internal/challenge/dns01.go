package challenge

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/miekg/dns"

	"github.com/root360/mod-md/internal/types"
)

// DNS01Publisher answers dns-01 challenges by serving
// _acme-challenge.<domain> TXT records itself from an embedded authoritative
// nameserver, the pattern Pebble/challtestsrv use for self-contained
// integration testing and which this module extends to a form usable
// standalone: the operator delegates the _acme-challenge subdomain's NS
// records to wherever this Publisher's Server is reachable.
//
// Grounded on miekg/dns, already a teacher indirect dependency (pulled in
// transitively by challtestsrv, which embeds the same kind of authoritative
// test nameserver); promoted to a direct dependency here since this
// Publisher exercises it itself rather than only through challtestsrv.
type DNS01Publisher struct {
	mu      sync.RWMutex
	records map[string][]string // fqdn (with trailing dot) -> TXT record values
}

// NewDNS01Publisher builds an empty DNS01Publisher.
func NewDNS01Publisher() *DNS01Publisher {
	return &DNS01Publisher{records: make(map[string][]string)}
}

func (p *DNS01Publisher) Type() types.ChallengeType { return types.ChallengeDNS01 }

func (p *DNS01Publisher) Publish(_ context.Context, domain, _, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fqdn := challengeFQDN(domain)
	p.records[fqdn] = append(p.records[fqdn], dns01TXTValue(keyAuth))
	return nil
}

func (p *DNS01Publisher) Withdraw(_ context.Context, domain, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, challengeFQDN(domain))
	return nil
}

// dns01TXTValue computes the base64url(SHA-256(keyAuth)) value RFC 8555
// section 8.4 requires for the _acme-challenge TXT record.
func dns01TXTValue(keyAuth string) string {
	digest := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

func challengeFQDN(domain string) string {
	return dns.Fqdn(fmt.Sprintf("_acme-challenge.%s", domain))
}

// ServeDNS implements dns.Handler, answering TXT queries for any published
// _acme-challenge name and refusing everything else (NXDOMAIN), matching
// challtestsrv's dnsHandler posture of only ever answering the records it
// was explicitly told about.
func (p *DNS01Publisher) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)

	if len(r.Question) != 1 || r.Question[0].Qtype != dns.TypeTXT {
		msg.Rcode = dns.RcodeNameError
		w.WriteMsg(msg)
		return
	}

	name := r.Question[0].Name
	p.mu.RLock()
	values, ok := p.records[name]
	p.mu.RUnlock()

	if !ok {
		msg.Rcode = dns.RcodeNameError
		w.WriteMsg(msg)
		return
	}

	for _, v := range values {
		msg.Answer = append(msg.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 5},
			Txt: []string{v},
		})
	}
	w.WriteMsg(msg)
}

// Server returns a *dns.Server serving this Publisher's records over UDP at
// addr (e.g. ":8053"), ready for the operator to run alongside the driver.
func (p *DNS01Publisher) Server(addr string) *dns.Server {
	return &dns.Server{Addr: addr, Net: "udp", Handler: p}
}
