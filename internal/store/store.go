// Package store provides the persistent record abstraction the driver uses
// to save and load accounts, managed domains, orders, challenge responses
// and certificates across restarts.
//
// Grounded on md_store.h's md_store_t vtable and its group/vtype
// enumerations, translated into a single Go interface (this module has
// exactly one backing implementation, so the C vtable's indirection through
// function pointers collapses to a plain interface satisfied by FileStore).
package store

import (
	"errors"
	"fmt"
)

// Group names the top-level category a record belongs to, mirroring
// md_store_group_t.
type Group string

const (
	// GroupAccounts holds one record per registered ACME account.
	GroupAccounts Group = "accounts"
	// GroupChallenges holds in-progress challenge response artifacts, keyed
	// by token, so an http-01 responder can serve them across process
	// restarts mid-validation.
	GroupChallenges Group = "challenges"
	// GroupDomains holds one record per ManagedDomain.
	GroupDomains Group = "domains"
	// GroupStaging holds domain records that have not yet been promoted -
	// used while an order's certificate is still being finalized, so
	// a concurrent renewal cannot observe a half-updated domain record.
	GroupStaging Group = "staging"
)

// VType names the encoding used for a record's value, mirroring
// md_store_vtype_t.
type VType string

const (
	VText  VType = "text"
	VJSON  VType = "json"
	VCert  VType = "cert"
	VPKey  VType = "pkey"
	VChain VType = "chain"
)

// Aspect names one named facet of a record within a Group - e.g. a
// ManagedDomain in GroupDomains has a "domain.json" aspect describing it
// and a "privkey.pem" aspect holding its certificate key. This mirrors
// md_store.h's load/save callbacks, which key every record by
// (group, name, aspect, vtype).
type Aspect string

// Store is the persistence contract every driver component depends on.
// Implementations must make Save atomic with respect to concurrent readers:
// a Load must never observe a partially written value.
type Store interface {
	// Load reads the named aspect's raw bytes. Returns a *NotFoundError if
	// no such record exists.
	Load(group Group, name string, aspect Aspect) ([]byte, error)

	// Save writes the named aspect's raw bytes. If create is true, Save
	// creates the record (and any containing directories), failing with an
	// *ExistsError if one is already present. If create is false, Save
	// requires the record to already exist and returns a *NotFoundError
	// otherwise - mirroring md_store_save_cb's create flag, which
	// distinguishes "first write" of a new record from an in-place update
	// of one already known to exist. Callers that cannot tell which case
	// applies should use Upsert instead.
	Save(group Group, name string, aspect Aspect, data []byte, create bool) error

	// Remove deletes the named aspect. If force is false, Remove returns an
	// error if the aspect does not exist; if force is true, a missing
	// aspect is not an error. Mirrors md_store_remove_cb's force flag.
	Remove(group Group, name string, aspect Aspect, force bool) error

	// Purge removes every aspect recorded under (group, name), mirroring
	// md_store_purge_cb.
	Purge(group Group, name string) error

	// List returns the names present in group whose name matches pattern
	// (a filepath.Match-style glob), mirroring md_store_iter_cb.
	List(group Group, pattern string) ([]string, error)

	// Move relocates every aspect of name from one group to another,
	// mirroring md_store_move_cb - used to promote a domain record out of
	// GroupStaging once its certificate is ready.
	Move(from, to Group, name string) error
}

// NotFoundError is returned by Load (and by Remove when force is false)
// when no record exists for the requested key.
type NotFoundError struct {
	Group  Group
	Name   string
	Aspect Aspect
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("store: no %s record for %s/%s", e.Aspect, e.Group, e.Name)
}

// IsNotFound reports whether err is (or wraps) a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ExistsError is returned by Save when create is true but a record already
// exists for the requested key.
type ExistsError struct {
	Group  Group
	Name   string
	Aspect Aspect
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("store: %s record for %s/%s already exists", e.Aspect, e.Group, e.Name)
}

// IsExists reports whether err is (or wraps) an *ExistsError.
func IsExists(err error) bool {
	var ee *ExistsError
	return errors.As(err, &ee)
}

// Upsert saves data under (group, name, aspect), writing it whether or not
// a record already exists there - first attempting an in-place update and
// falling back to a first write if none exists yet. Use this instead of
// Save directly when a caller genuinely cannot tell in advance whether the
// record is being created or replaced (e.g. re-publishing a challenge
// response after a restart, or overwriting a certificate on renewal).
func Upsert(s Store, group Group, name string, aspect Aspect, data []byte) error {
	err := s.Save(group, name, aspect, data, false)
	if IsNotFound(err) {
		return s.Save(group, name, aspect, data, true)
	}
	return err
}

