package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/root360/mod-md/internal/acme"
	"github.com/root360/mod-md/internal/challenge"
	"github.com/root360/mod-md/internal/store"
	"github.com/root360/mod-md/internal/types"
)

// OrderCoordinator creates and persists the Order covering a ManagedDomain's
// names, and drives every pending Authorization to "valid" by publishing
// and polling challenges.
//
// Grounded on md_acme_drive.c's ad_setup_authz (authorization set management)
// and ad_start_challenges/check_challenges/ad_monitor_challenges (challenge
// publication and polling), re-expressed in RFC 8555 order-centric terms:
// the C driver predates ACME v2's order resource and manages per-domain
// authorizations directly, where this module creates one Order per
// ManagedDomain and walks its AuthzURLs.
type OrderCoordinator struct {
	store         store.Store
	registry      *challenge.Registry
	monitorPeriod time.Duration
}

// NewOrderCoordinator builds an OrderCoordinator backed by s, publishing
// challenge responses via registry.
func NewOrderCoordinator(s store.Store, registry *challenge.Registry) *OrderCoordinator {
	return &OrderCoordinator{store: s, registry: registry, monitorPeriod: 30 * time.Second}
}

func orderAspect() store.Aspect { return "order.json" }

// EnsureOrder returns the current Order for md, creating one with the CA if
// none is persisted yet or the persisted one can no longer be fetched from
// the CA. A persisted order that the CA still returns is reused whatever
// its status; an expired or invalid order is not detected here.
//
// Grounded on ad_setup_authz's authz-set load-or-create split.
func (o *OrderCoordinator) EnsureOrder(ctx context.Context, client *acme.Client, id acme.Identity, md *types.ManagedDomain) (*types.Order, error) {
	hadRecord := false
	if order, err := o.loadOrder(md.Name); err == nil {
		hadRecord = true
		refreshed, rerr := client.GetOrder(ctx, id, order.URL)
		if rerr == nil && !orderUnusable(refreshed) {
			return refreshed, nil
		}
	} else if !store.IsNotFound(err) {
		return nil, err
	}

	order, err := client.NewOrder(ctx, id, md.Names)
	if err != nil {
		return nil, err
	}
	// A stale order.json from a prior run is replaced in place; only a
	// domain driven for the very first time is writing a genuinely new
	// record.
	if err := o.saveOrder(md.Name, order, !hadRecord); err != nil {
		return nil, err
	}
	return order, nil
}

func orderUnusable(order *types.Order) bool {
	return order == nil
}

func (o *OrderCoordinator) loadOrder(mdName string) (*types.Order, error) {
	data, err := o.store.Load(store.GroupDomains, mdName, orderAspect())
	if err != nil {
		return nil, err
	}
	var order types.Order
	if err := jsonUnmarshal(data, &order); err != nil {
		return nil, acme.Wrap(acme.Malformed, err, "decoding order record for %q", mdName)
	}
	return &order, nil
}

func (o *OrderCoordinator) saveOrder(mdName string, order *types.Order, create bool) error {
	data, err := jsonMarshal(order)
	if err != nil {
		return acme.Wrap(acme.Malformed, err, "encoding order record for %q", mdName)
	}
	return o.store.Save(store.GroupDomains, mdName, orderAspect(), data, create)
}

// SolveAuthorizations walks every authorization in order, publishing and
// submitting a response for any still pending, then polling until every
// authorization reaches a terminal state. Already-valid authorizations are
// left untouched, so resuming after a restart mid-validation does not
// redo completed work.
//
// Grounded on ad_start_challenges (respond to pending authzs) and
// ad_monitor_challenges/check_challenges (poll until all are valid),
// collapsed here into one pass per authorization instead of the C driver's
// two-pass "start all, then monitor all" structure, since each
// authorization's poll is independent and gains nothing from being
// batched after the fact.
func (o *OrderCoordinator) SolveAuthorizations(ctx context.Context, client *acme.Client, id acme.Identity, order *types.Order) error {
	for _, authzURL := range order.AuthzURLs {
		authz, err := client.GetAuthorization(ctx, id, authzURL)
		if err != nil {
			return err
		}

		switch authz.Status {
		case types.StatusValid:
			continue
		case types.StatusPending:
			if err := o.respondAndPoll(ctx, client, id, authz); err != nil {
				return err
			}
		default:
			return acme.New(acme.Unauthorized, "authorization for %q is %s, not resumable", authz.Domain, authz.Status)
		}
	}
	return nil
}

func (o *OrderCoordinator) respondAndPoll(ctx context.Context, client *acme.Client, id acme.Identity, authz *types.Authorization) error {
	chall, publisher, ok := o.registry.Select(authz.Challenges)
	if !ok {
		offered := challengeTypeList(authz.Challenges)
		return acme.New(acme.Unsupported, "no usable challenge publisher for %q (offered: %s)", authz.Domain, strings.Join(offered, ", "))
	}

	keyAuth := acme.KeyAuth(id.Signer, chall.Token)
	if err := publisher.Publish(ctx, authz.Domain, chall.Token, keyAuth); err != nil {
		return acme.Wrap(acme.Generic, err, "publishing %s response for %q", chall.Type, authz.Domain)
	}
	defer publisher.Withdraw(ctx, authz.Domain, chall.Token)

	if _, err := client.RespondToChallenge(ctx, id, chall.URL); err != nil {
		return err
	}

	return o.pollAuthorization(ctx, client, id, authz.URL)
}

func (o *OrderCoordinator) pollAuthorization(ctx context.Context, client *acme.Client, id acme.Identity, authzURL string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.MaxInterval = 10 * time.Second
	eb.RandomizationFactor = 0.2
	eb.MaxElapsedTime = o.monitorPeriod
	policy := backoff.WithContext(eb, ctx)

	operation := func() error {
		authz, err := client.GetAuthorization(ctx, id, authzURL)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch authz.Status {
		case types.StatusValid:
			return nil
		case types.StatusPending, types.StatusProcessing:
			return fmt.Errorf("authorization for %q still %s", authz.Domain, authz.Status)
		default:
			return backoff.Permanent(acme.New(acme.Unauthorized, "authorization for %q failed with status %s", authz.Domain, authz.Status))
		}
	}

	return backoff.Retry(operation, policy)
}

func challengeTypeList(challs []types.Challenge) []string {
	out := make([]string, len(challs))
	for i, c := range challs {
		out[i] = string(c.Type)
	}
	return out
}
