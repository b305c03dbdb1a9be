package challenge

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/root360/mod-md/internal/store"
	"github.com/root360/mod-md/internal/types"
)

const wellKnownPrefix = "/.well-known/acme-challenge/"

// HTTP01Publisher answers http-01 challenges by writing the key
// authorization to the Store under GroupChallenges, and serving it back via
// its Handler - the same division of labor mod_md itself uses (the module
// writes the response artifact, Apache's normal request handling serves
// it), adapted here into a self-contained http.Handler so this module does
// not need to assume any particular surrounding web server.
type HTTP01Publisher struct {
	store store.Store
}

// NewHTTP01Publisher builds an HTTP01Publisher backed by s.
func NewHTTP01Publisher(s store.Store) *HTTP01Publisher {
	return &HTTP01Publisher{store: s}
}

func (p *HTTP01Publisher) Type() types.ChallengeType { return types.ChallengeHTTP01 }

func (p *HTTP01Publisher) Publish(_ context.Context, _, token, keyAuth string) error {
	// Publish must be idempotent (see the Publisher interface doc): the
	// driver calls it again after a restart for a challenge still in
	// StatusProcessing, by which point the response is already on disk.
	return store.Upsert(p.store, store.GroupChallenges, token, "key-authorization", []byte(keyAuth))
}

func (p *HTTP01Publisher) Withdraw(_ context.Context, _, token string) error {
	return p.store.Remove(store.GroupChallenges, token, "key-authorization", true)
}

// Handler serves http-01 challenge responses at
// /.well-known/acme-challenge/<token>, ready to be mounted on an operator's
// own http.ServeMux.
func (p *HTTP01Publisher) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, wellKnownPrefix) {
			http.NotFound(w, r)
			return
		}
		token := path.Base(r.URL.Path)

		keyAuth, err := p.store.Load(store.GroupChallenges, token, "key-authorization")
		if err != nil {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(keyAuth)
	})
}
