package driver

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/root360/mod-md/internal/acme"
	"github.com/root360/mod-md/internal/store"
	"github.com/root360/mod-md/internal/types"
)

// Finalizer generates (or loads) a ManagedDomain's certificate private key,
// submits the CSR once its Order is "ready", and retrieves the issued
// certificate and chain once the CA reports "valid".
//
// Grounded on md_acme_drive.c's ad_setup_certificate (pkey load-or-generate,
// CSR creation, CSR submission, cert polling) and on_init_csr_req/csr_req/
// on_got_cert/get_cert/ad_cert_poll.
type Finalizer struct {
	store      store.Store
	pollPeriod time.Duration
}

// NewFinalizer builds a Finalizer backed by s.
func NewFinalizer(s store.Store) *Finalizer {
	return &Finalizer{store: s, pollPeriod: 30 * time.Second}
}

func (f *Finalizer) keyAspect() store.Aspect   { return "privkey.pem" }
func (f *Finalizer) certAspect() store.Aspect  { return "cert.pem" }
func (f *Finalizer) chainAspect() store.Aspect { return "chain.pem" }

// certKey loads md's certificate private key, generating and persisting one
// if absent - mirroring ad_setup_certificate's md_pkey_load/md_pkey_gen_rsa/
// md_pkey_save sequence.
func (f *Finalizer) certKey(md *types.ManagedDomain) (crypto.Signer, error) {
	spec := md.PrivateKeySpec
	if spec.Algorithm == "" {
		spec = types.DefaultPrivateKeySpec
	}

	data, err := f.store.Load(store.GroupDomains, md.Name, f.keyAspect())
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, acme.New(acme.Malformed, "certificate key for %q is not valid PEM", md.Name)
		}
		return acme.UnmarshalSigner(block.Bytes, spec.Algorithm)
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	key, err := acme.NewSigner(spec)
	if err != nil {
		return nil, acme.Wrap(acme.Malformed, err, "generating certificate key for %q", md.Name)
	}

	keyPEM, err := acme.SignerToPEM(key)
	if err != nil {
		return nil, err
	}
	if err := f.store.Save(store.GroupDomains, md.Name, f.keyAspect(), []byte(keyPEM), true); err != nil {
		return nil, err
	}
	return key, nil
}

// Finalize drives order from "ready" through to a stored certificate. It is
// safe to call again after a restart: if order already carries a
// certificate URL it goes straight to polling/download.
func (f *Finalizer) Finalize(ctx context.Context, client *acme.Client, id acme.Identity, md *types.ManagedDomain, order *types.Order) error {
	if order.CertURL == "" {
		key, err := f.certKey(md)
		if err != nil {
			return err
		}

		b64CSR, err := acme.BuildCSR(md.CanonicalName(), md.Names, key)
		if err != nil {
			return err
		}

		updated, err := client.FinalizeOrder(ctx, id, order, b64CSR)
		if err != nil {
			return err
		}
		*order = *updated
	}

	bundle, err := f.pollForCertificate(ctx, client, id, order)
	if err != nil {
		return err
	}

	if len(bundle.ChainPEM) == 0 {
		if err := f.fetchIssuerChain(ctx, client, bundle); err != nil {
			return err
		}
	}

	// A renewal redrive reaches here with cert.pem/chain.pem already on
	// disk from the previous issuance, so this must overwrite rather than
	// fail-if-exists; a first issuance has neither file yet. Upsert covers
	// both without the caller having to know which case applies.
	if err := store.Upsert(f.store, store.GroupDomains, md.Name, f.certAspect(), bundle.CertPEM); err != nil {
		return err
	}
	if len(bundle.ChainPEM) > 0 {
		if err := store.Upsert(f.store, store.GroupDomains, md.Name, f.chainAspect(), bundle.ChainPEM); err != nil {
			return err
		}
	}

	md.CertURL = order.CertURL
	return nil
}

// pollForCertificate retries DownloadCertificate until the CA has finished
// issuing, mirroring ad_cert_poll's md_util_try loop.
//
// Grounded on on_got_cert treating APR_ENOENT (no cert in response yet) as
// APR_EAGAIN: here a NotFound Kind from DownloadCertificate is retried the
// same way.
func (f *Finalizer) pollForCertificate(ctx context.Context, client *acme.Client, id acme.Identity, order *types.Order) (*types.CertBundle, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.MaxInterval = 10 * time.Second
	eb.MaxElapsedTime = f.pollPeriod
	policy := backoff.WithContext(eb, ctx)

	var bundle *types.CertBundle
	operation := func() error {
		refreshed, err := client.GetOrder(ctx, id, order.URL)
		if err != nil {
			return backoff.Permanent(err)
		}
		*order = *refreshed

		switch {
		case refreshed.CertURL != "":
			b, err := client.DownloadCertificate(ctx, id, refreshed)
			if err != nil {
				if acme.KindOf(err) == acme.NotFound {
					return err
				}
				return backoff.Permanent(err)
			}
			bundle = b
			return nil
		default:
			return acme.New(acme.Generic, "order not yet finalized")
		}
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return bundle, nil
}

// fetchIssuerChain follows the leaf certificate's Authority Information
// Access issuer URL when the CA response carried no chain of its own.
func (f *Finalizer) fetchIssuerChain(ctx context.Context, client *acme.Client, bundle *types.CertBundle) error {
	block, _ := pem.Decode(bundle.CertPEM)
	if block == nil {
		return acme.New(acme.Malformed, "issued certificate is not valid PEM")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return acme.Wrap(acme.Malformed, err, "parsing issued certificate")
	}
	if len(leaf.IssuingCertificateURL) == 0 {
		return nil
	}

	chain, err := client.FetchIssuerCertificate(ctx, leaf.IssuingCertificateURL[0])
	if err != nil {
		return err
	}
	bundle.ChainPEM = chain
	return nil
}
