package main

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"net/http"

	"github.com/root360/mod-md/internal/challenge"
)

// challengeServers holds the listeners spun up for the duration of one
// Drive call so the CA's validation traffic has somewhere to land. A
// production deployment would instead mount HTTP01Publisher.Handler and
// TLSALPN01Publisher.GetCertificate into its own already-running web
// server; this CLI has none, so it runs minimal standalone listeners of its
// own for as long as a drive takes - grounded on cmd/acmeshell's embedded
// challenge test server, which likewise only runs for the lifetime of one
// shell session (see shell/acmeshell.go's Run/Shutdown).
type challengeServers struct {
	http        *http.Server
	tlsListener net.Listener
	dnsSrv      dnsServer
}

// dnsServer is the subset of *dns.Server this package needs, kept narrow so
// servers.go does not have to import miekg/dns just to shut one down.
type dnsServer interface {
	ListenAndServe() error
	ShutdownContext(ctx context.Context) error
}

// startChallengeServers brings up one listener per Publisher that has a
// non-empty bind address, logging failures asynchronously rather than
// failing the whole drive - a challenge type the CA never offers for this
// managed domain needn't have a working listener. tls-alpn-01 and
// tls-sni-01 share a single TLS listener and port, the way a real TLS
// front end would only ever bind :443 once: the handshake's ALPN protocol
// list already tells the two apart (tls-sni-01 negotiates none), so
// chaining their GetCertificate lookups on one tls.Config.GetCertificate
// is enough, with no ambiguity between the two.
func startChallengeServers(http01 *challenge.HTTP01Publisher, tlsalpn01 *challenge.TLSALPN01Publisher, tlssni01 *challenge.TLSSNI01Publisher, dns01Srv dnsServer, httpAddr, tlsAddr, dnsAddr string) *challengeServers {
	cs := &challengeServers{}

	if httpAddr != "" {
		cs.http = &http.Server{Addr: httpAddr, Handler: http01.Handler()}
		go func() {
			if err := cs.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http-01 challenge server: %v", err)
			}
		}()
	}

	if tlsAddr != "" {
		getCertificate := func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if cert, err := tlsalpn01.GetCertificate(hello); err != nil || cert != nil {
				return cert, err
			}
			return tlssni01.GetCertificate(hello)
		}
		ln, err := tls.Listen("tcp", tlsAddr, &tls.Config{
			GetCertificate: getCertificate,
			NextProtos:     []string{"acme-tls/1"},
		})
		if err != nil {
			log.Printf("tls-alpn-01/tls-sni-01 challenge server: %v", err)
		} else {
			cs.tlsListener = ln
			go serveTLSALPN(ln)
		}
	}

	if dnsAddr != "" {
		cs.dnsSrv = dns01Srv
		go func() {
			if err := cs.dnsSrv.ListenAndServe(); err != nil {
				log.Printf("dns-01 challenge server: %v", err)
			}
		}()
	}

	return cs
}

// serveTLSALPN accepts connections only long enough to complete the TLS
// handshake tls-alpn-01 validation needs, then closes them - there is no
// application data to serve once the CA has the certificate it came for.
// ln is already a tls.Listener configured with the Publisher's
// GetCertificate, so the handshake alone is enough to hand back the
// validation certificate negotiated via the acme-tls/1 ALPN protocol.
func serveTLSALPN(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			if tlsConn, ok := c.(*tls.Conn); ok {
				_ = tlsConn.Handshake()
			}
		}(conn)
	}
}

func (cs *challengeServers) stop() {
	ctx := context.Background()
	if cs.http != nil {
		_ = cs.http.Shutdown(ctx)
	}
	if cs.tlsListener != nil {
		_ = cs.tlsListener.Close()
	}
	if cs.dnsSrv != nil {
		_ = cs.dnsSrv.ShutdownContext(ctx)
	}
}
