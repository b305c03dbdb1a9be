package main

import (
	"context"
	"fmt"

	"github.com/root360/mod-md/internal/challenge"
	"github.com/root360/mod-md/internal/driver"
	"github.com/root360/mod-md/internal/store"
)

// runDrive implements `mdacme drive <name>`: runs one pass of the driving
// state machine for the named managed domain, standing up just enough
// challenge-response infrastructure for the duration of the call.
//
// Grounded on md_cmd_reg.c's "drive" command (out-of-core scheduling is the
// production posture per spec.md section 1, but a manual single-shot
// trigger is in scope for an operator tool).
func runDrive(s store.Store, opts globalOptions, name string) error {
	md, err := loadManagedDomain(s, name)
	if err != nil {
		return fmt.Errorf("loading managed domain %q: %w", name, err)
	}

	http01 := challenge.NewHTTP01Publisher(s)
	tlsalpn01 := challenge.NewTLSALPN01Publisher()
	tlssni01 := challenge.NewTLSSNI01Publisher()
	dns01 := challenge.NewDNS01Publisher()

	registry := challenge.NewRegistry()
	registry.Register(http01)
	registry.Register(tlsalpn01)
	registry.Register(tlssni01)
	registry.Register(dns01)

	servers := startChallengeServers(http01, tlsalpn01, tlssni01, dns01.Server(opts.dnsAddr), opts.httpAddr, opts.tlsAddr, opts.dnsAddr)
	defer servers.stop()

	d := driver.NewDriver(s, registry, opts.caBundlePath)

	ctx, stop := withSignalCancel(context.Background())
	defer stop()
	if err := d.Drive(ctx, md); err != nil {
		return err
	}

	return saveManagedDomain(s, md, false)
}
