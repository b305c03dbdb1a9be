package driver

import (
	"context"
	"log"

	"github.com/root360/mod-md/internal/acme"
	"github.com/root360/mod-md/internal/challenge"
	"github.com/root360/mod-md/internal/store"
	"github.com/root360/mod-md/internal/types"
)

// Driver runs one end-to-end pass of certificate acquisition or renewal for
// a ManagedDomain: choose an account, ensure an order, solve its
// authorizations, finalize the CSR and store the issued certificate. Each
// phase persists its own state, so a Drive call interrupted at any point
// picks up where it left off on the next call instead of restarting from
// scratch.
//
// Grounded on md_acme_drive.c's acme_driver_run/acme_drive_cert, which
// chains its phases with short-circuiting && so a failure at any point
// leaves every prior phase's persisted state intact for the next attempt.
type Driver struct {
	accounts     *AccountManager
	orders       *OrderCoordinator
	finalizer    *Finalizer
	caBundlePath string
}

// NewDriver builds a Driver persisting state to s and publishing challenge
// responses through registry. caBundlePath may be empty to trust only the
// system root pool.
func NewDriver(s store.Store, registry *challenge.Registry, caBundlePath string) *Driver {
	return &Driver{
		accounts:     NewAccountManager(s),
		orders:       NewOrderCoordinator(s, registry),
		finalizer:    NewFinalizer(s),
		caBundlePath: caBundlePath,
	}
}

// Drive runs md through every phase needed to reach a stored certificate,
// returning nil once one is in place. It is idempotent: calling it again
// against an already-complete ManagedDomain is a cheap no-op save for one
// confirming round-trip to the CA.
func (d *Driver) Drive(ctx context.Context, md *types.ManagedDomain) error {
	client, err := acme.NewClient(md.CAURL, d.caBundlePath)
	if err != nil {
		return phaseErr("choose account", err)
	}

	log.Printf("managed domain %q: choose account", md.Name)
	acct, err := d.accounts.Ensure(ctx, client, md)
	if err != nil {
		return phaseErr("choose account", err)
	}
	id := acme.Identity{Signer: acct.Signer, KeyID: acct.KeyID()}

	// check agreement: RFC 8555 has no separate accept-current-terms
	// endpoint the way ACME v1's md_acme_acct_check_agreement needed -
	// termsOfServiceAgreed is only ever sent at newAccount time, so this
	// phase is satisfied as a side effect of account creation/lookup
	// above and never runs again after that.
	log.Printf("managed domain %q: check agreement", md.Name)

	log.Printf("managed domain %q: check authz", md.Name)
	order, err := d.orders.EnsureOrder(ctx, client, id, md)
	if err != nil {
		return phaseErr("check authz", err)
	}

	if order.CertURL != "" && order.CertURL == md.CertURL {
		if err := d.confirmCertificate(ctx, client, id, md, order); err == nil {
			log.Printf("managed domain %q: completed", md.Name)
			return nil
		} else if acme.KindOf(err) != acme.NotFound {
			return phaseErr("poll certificate", err)
		}
		log.Printf("managed domain %q: previous certificate no longer found, redriving", md.Name)
		md.CertURL = ""
		order.CertURL = ""
	}

	log.Printf("managed domain %q: start challenges", md.Name)
	if err := d.orders.SolveAuthorizations(ctx, client, id, order); err != nil {
		return phaseErr("monitor challenges", err)
	}

	log.Printf("managed domain %q: setup cert pkey", md.Name)
	log.Printf("managed domain %q: setup csr", md.Name)
	log.Printf("managed domain %q: submit csr", md.Name)
	if err := d.finalizer.Finalize(ctx, client, id, md, order); err != nil {
		return phaseErr("poll certificate", err)
	}

	log.Printf("managed domain %q: completed", md.Name)
	return nil
}

// confirmCertificate re-fetches the certificate previously recorded at
// order.CertURL, so Drive can tell a genuinely complete ManagedDomain (skip
// everything) from one whose cert_url the CA has since forgotten (e.g. the
// CA's storage expired it) and that therefore needs re-driving from
// authorization onward.
//
// Grounded on the NotFound semantics resolved in DESIGN.md: a 404 on a
// previously recorded cert_url clears it and re-drives rather than failing
// permanently, matching md_acme_drive.c's restart-safety invariant that
// every phase is idempotent.
func (d *Driver) confirmCertificate(ctx context.Context, client *acme.Client, id acme.Identity, md *types.ManagedDomain, order *types.Order) error {
	_, err := client.DownloadCertificate(ctx, id, order)
	return err
}

// phaseErr tags err with the phase it failed in, the way md_log_perror
// prefixes every original-source log line with a status and message.
func phaseErr(phase string, err error) error {
	return acme.Wrap(acme.KindOf(err), err, "%s: %s", phase, err)
}
