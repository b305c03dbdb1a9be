// Package driver implements the managed-domain driving state machine:
// account selection, authorization and challenge solving, order
// finalization and certificate retrieval, composed the way
// md_acme_drive.c's acme_drive_cert phases are composed, restart-safe at
// every phase boundary.
package driver

import (
	"context"
	"fmt"

	"github.com/root360/mod-md/internal/acme"
	"github.com/root360/mod-md/internal/store"
	"github.com/root360/mod-md/internal/types"
)

// accountRecord is the on-disk JSON shape for GroupAccounts/<id>/account.json,
// generalizing acme/resources/account.go's rawAccount to also carry the CA
// URL an account belongs to (a driver manages accounts against more than
// one CA, unlike the teacher's single-directory shell session).
type accountRecord struct {
	ID        string              `json:"id"`
	URL       string              `json:"url"`
	CAURL     string              `json:"ca_url"`
	Contact   []string            `json:"contact,omitempty"`
	Agreement string              `json:"agreement,omitempty"`
	Status    types.AccountStatus `json:"status"`
	KeyType   types.KeyAlgorithm  `json:"key_type"`
	KeyDER    []byte              `json:"key_der"`
}

// AccountManager resolves the Account to use for a ManagedDomain: loading
// a previously chosen one, searching the store for any usable account
// against the same CA, or registering a fresh one - mirroring
// md_acme_drive.c's ad_set_acct.
type AccountManager struct {
	store store.Store
}

// NewAccountManager builds an AccountManager backed by s.
func NewAccountManager(s store.Store) *AccountManager {
	return &AccountManager{store: s}
}

// accountFileName derives the store record name for an account from its local
// ID, which is itself derived from the CA account URL the first time an
// account is created (see persist).
func accountFileName(id string) string {
	return id
}

func (m *AccountManager) load(name string) (*types.Account, string, error) {
	data, err := m.store.Load(store.GroupAccounts, name, "account.json")
	if err != nil {
		return nil, "", err
	}
	var rec accountRecord
	if err := jsonUnmarshal(data, &rec); err != nil {
		return nil, "", acme.Wrap(acme.Malformed, err, "decoding account record %q", name)
	}
	signer, err := acme.UnmarshalSigner(rec.KeyDER, rec.KeyType)
	if err != nil {
		return nil, "", acme.Wrap(acme.Malformed, err, "decoding account key %q", name)
	}
	return &types.Account{
		ID:           rec.ID,
		URL:          rec.URL,
		Signer:       signer,
		Contact:      rec.Contact,
		AgreementURL: rec.Agreement,
		Status:       rec.Status,
	}, rec.CAURL, nil
}

func (m *AccountManager) persist(acct *types.Account, caURL string, create bool) error {
	der, keyType, err := acme.MarshalSigner(acct.Signer)
	if err != nil {
		return acme.Wrap(acme.Malformed, err, "marshaling account key %q", acct.ID)
	}
	rec := accountRecord{
		ID:        acct.ID,
		URL:       acct.URL,
		CAURL:     caURL,
		Contact:   acct.Contact,
		Agreement: acct.AgreementURL,
		Status:    acct.Status,
		KeyType:   keyType,
		KeyDER:    der,
	}
	data, err := jsonMarshal(rec)
	if err != nil {
		return acme.Wrap(acme.Malformed, err, "encoding account record %q", acct.ID)
	}
	return m.store.Save(store.GroupAccounts, accountFileName(acct.ID), "account.json", data, create)
}

// disable flips an account's status to Disabled and persists it, mirroring
// md_acme_acct_disable - called when the CA reports an account no longer
// exists or is unauthorized, matching ad_acct_validate's APR_ENOENT/
// APR_EACCES handling. The record was just loaded by the caller, so this is
// always an update of an account already on disk.
func (m *AccountManager) disable(acct *types.Account, caURL string) error {
	acct.Status = types.AccountDisabled
	return m.persist(acct, caURL, false)
}

// Ensure resolves the account to use for md against client, in this order:
//  1. If md.CAAccountID names a local account record, load and validate it.
//  2. Otherwise search every local account record for one that validates
//     against this CA.
//  3. Otherwise register a brand new account using md.Contacts.
//
// On success md.CAAccountID is updated to the chosen account's local ID.
//
// Grounded on md_acme_drive.c's ad_set_acct / ad_acct_validate.
func (m *AccountManager) Ensure(ctx context.Context, client *acme.Client, md *types.ManagedDomain) (*types.Account, error) {
	if md.CAAccountID != "" {
		acct, caURL, err := m.load(md.CAAccountID)
		if err != nil && !store.IsNotFound(err) {
			return nil, err
		}
		if err == nil && caURL == md.CAURL && acct.Status == types.AccountValid {
			if valid, verr := m.validate(ctx, client, acct, caURL); verr != nil {
				return nil, verr
			} else if valid {
				return acct, nil
			}
		}
	}

	names, err := m.store.List(store.GroupAccounts, "*")
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		acct, caURL, err := m.load(name)
		if err != nil {
			continue
		}
		if caURL != md.CAURL || acct.Status != types.AccountValid {
			continue
		}
		if valid, err := m.validate(ctx, client, acct, caURL); err != nil {
			return nil, err
		} else if valid {
			md.CAAccountID = acct.ID
			return acct, nil
		}
	}

	if len(md.Contacts) == 0 {
		return nil, acme.New(acme.InvalidContact, "no contact information for managed domain %q", md.Name)
	}

	signer, err := acme.NewSigner(types.PrivateKeySpec{Algorithm: types.KeyECDSA})
	if err != nil {
		return nil, acme.Wrap(acme.Malformed, err, "generating account key")
	}

	acct, err := client.CreateAccount(ctx, signer, contactURIs(md.Contacts))
	if err != nil {
		return nil, err
	}
	acct.ID = localAccountID(acct.URL)
	acct.AgreementURL = md.CAAgreement

	// A brand new account key just registered with the CA; its derived ID
	// cannot already have a local record.
	if err := m.persist(acct, md.CAURL, true); err != nil {
		return nil, err
	}
	md.CAAccountID = acct.ID
	return acct, nil
}

// validate confirms the CA still recognizes acct, disabling it locally if
// not - mirroring ad_acct_validate's handling of APR_ENOENT/APR_EACCES from
// md_acme_acct_validate.
func (m *AccountManager) validate(ctx context.Context, client *acme.Client, acct *types.Account, caURL string) (bool, error) {
	_, err := client.LookupAccount(ctx, acct.Signer)
	if err == nil {
		return true, nil
	}
	kind := acme.KindOf(err)
	if kind == acme.NotFound || kind == acme.Unauthorized {
		if derr := m.disable(acct, caURL); derr != nil {
			return false, derr
		}
		return false, nil
	}
	return false, err
}

func contactURIs(contacts []string) []string {
	uris := make([]string, len(contacts))
	for i, c := range contacts {
		uris[i] = fmt.Sprintf("mailto:%s", c)
	}
	return uris
}

func localAccountID(accountURL string) string {
	digest := stableDigest(accountURL)
	return digest
}
