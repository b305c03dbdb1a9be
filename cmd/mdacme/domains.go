package main

import (
	"encoding/json"
	"fmt"

	"github.com/root360/mod-md/internal/store"
	"github.com/root360/mod-md/internal/types"
)

const domainAspect store.Aspect = "domain.json"

// saveManagedDomain persists md under its own name. create distinguishes
// "add"'s genuine first write (fails if a domain by this name is already
// managed) from a drive's update of a record it just loaded - grounded on
// md_cmd_reg.c's "add" command, which always (re-)writes the full managed
// domain definition.
func saveManagedDomain(s store.Store, md *types.ManagedDomain, create bool) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding managed domain %q: %w", md.Name, err)
	}
	return s.Save(store.GroupDomains, md.Name, domainAspect, data, create)
}

func loadManagedDomain(s store.Store, name string) (*types.ManagedDomain, error) {
	data, err := s.Load(store.GroupDomains, name, domainAspect)
	if err != nil {
		return nil, err
	}
	var md types.ManagedDomain
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decoding managed domain %q: %w", name, err)
	}
	return &md, nil
}

// listManagedDomains returns the name of every managed domain record in the
// store - grounded on md_cmd_reg.c's "list" command.
func listManagedDomains(s store.Store) ([]string, error) {
	return s.List(store.GroupDomains, "*")
}
