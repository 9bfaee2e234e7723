package auth

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"

	svn "github.com/cespedes/svnra"
)

// Baton holds an ordered list of providers, the run-time parameters and
// a cache of the credentials accepted during the program's lifetime.
//
// A Baton may be shared by several sessions.
type Baton struct {
	mu        sync.Mutex
	providers []Provider
	params    map[string]any
	ttl       time.Duration
	cache     *ttlcache.Cache[string, Credentials]
}

// Option configures a Baton.
type Option func(*Baton)

// WithCacheTTL makes accepted credentials expire from the runtime cache
// after ttl.  Zero, the default, keeps them until forgotten.
func WithCacheTTL(ttl time.Duration) Option {
	return func(b *Baton) {
		b.ttl = ttl
	}
}

// Open returns a Baton trying providers in order.
func Open(providers []Provider, opts ...Option) *Baton {
	b := &Baton{
		providers: slices.Clone(providers),
		params:    make(map[string]any),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cache = ttlcache.New[string, Credentials](
		ttlcache.WithTTL[string, Credentials](b.ttl),
		ttlcache.WithDisableTouchOnHit[string, Credentials](),
	)
	return b
}

// SetParameter sets a run-time parameter.  A nil value removes it.
func (b *Baton) SetParameter(name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if value == nil {
		delete(b.params, name)
		return
	}
	b.params[name] = value
}

// Parameter returns a run-time parameter, or nil.
func (b *Baton) Parameter(name string) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params[name]
}

// Forget removes cached credentials of kind for realm.
func (b *Baton) Forget(kind, realm string) {
	b.cache.Delete(cacheKey(kind, realm))
}

func cacheKey(kind, realm string) string {
	return kind + "\x00" + realm
}

// Iterator walks the credentials offered for one negotiation.
type Iterator struct {
	b         *Baton
	req       *Request
	key       string
	providers []Provider
	idx       int
	cur       Attempts
	last      Credentials
	cached    bool
}

// FirstCredentials returns the first credentials of kind for realm:
// cached credentials if there are any, or else the first credentials
// offered by the providers.
func (b *Baton) FirstCredentials(kind, realm string) (Credentials, *Iterator, error) {
	return b.first(kind, realm, nil)
}

func (b *Baton) first(kind, realm string, extra map[string]any) (Credentials, *Iterator, error) {
	b.mu.Lock()
	params := maps.Clone(b.params)
	var providers []Provider
	for _, p := range b.providers {
		if p.CredKind() == kind {
			providers = append(providers, p)
		}
	}
	b.mu.Unlock()
	maps.Copy(params, extra)

	if len(providers) == 0 {
		return nil, nil, svn.Errorf(svn.ErrCodeAuthnNoProvider, "no provider registered for %q credentials", kind)
	}
	it := &Iterator{
		b:         b,
		req:       &Request{Kind: kind, Realm: realm, params: params},
		key:       cacheKey(kind, realm),
		providers: providers,
		idx:       -1,
	}
	if item := b.cache.Get(it.key); item != nil {
		glog.V(2).Infof("auth: using cached %s credentials for %s", kind, realm)
		it.last = item.Value()
		it.cached = true
		return it.last, it, nil
	}
	creds, err := it.Next()
	return creds, it, err
}

// Next returns the next credentials after the previous ones were rejected.
// It fails with ErrCodeAuthnCredsUnavail once every provider is exhausted.
func (it *Iterator) Next() (Credentials, error) {
	if it.cached {
		it.cached = false
		it.b.cache.Delete(it.key)
	}
	for {
		if it.cur == nil {
			it.idx++
			if it.idx >= len(it.providers) {
				it.last = nil
				return nil, svn.Errorf(svn.ErrCodeAuthnCredsUnavail, "no more %s credentials for %s", it.req.Kind, it.req.Realm)
			}
			it.cur = it.providers[it.idx].Attempts(it.req)
		}
		var creds Credentials
		err := svn.Call(it.req.Kind+" provider", func() (err error) {
			creds, err = it.cur.Next()
			return err
		})
		if err != nil {
			it.last = nil
			return nil, err
		}
		if creds != nil {
			it.last = creds
			return creds, nil
		}
		it.cur = nil
	}
}

// Save records that the last credentials returned were accepted.
// They are cached for the realm and, when saveable and ParamNoAuthCache
// is unset, persisted by the first provider of their kind willing to
// store them.
func (it *Iterator) Save() error {
	creds := it.last
	if creds == nil {
		return nil
	}
	it.b.cache.Set(it.key, creds, ttlcache.DefaultTTL)
	if !creds.Saveable() || !it.req.MaySave() {
		return nil
	}
	for _, p := range it.providers {
		s, ok := p.(Saver)
		if !ok {
			continue
		}
		saved, err := s.Save(it.req, creds)
		if err != nil {
			return svn.Wrap(err, 0, "saving %s credentials for %s", it.req.Kind, it.req.Realm)
		}
		if saved {
			glog.V(2).Infof("auth: saved %s credentials for %s", it.req.Kind, it.req.Realm)
			return nil
		}
	}
	return nil
}

// Verdict is the outcome of trying credentials against a server.
type Verdict int

const (
	// Rejected asks for the next credentials.
	Rejected Verdict = iota
	// Accepted ends the negotiation and saves the credentials.
	Accepted
	// Fatal ends the negotiation with the error returned alongside it.
	Fatal
)

// Negotiate offers credentials of kind to try until it accepts them,
// then saves them.
func (b *Baton) Negotiate(kind, realm string, try func(Credentials) (Verdict, error)) (Credentials, error) {
	return b.NegotiateWith(kind, realm, nil, try)
}

// NegotiateWith is Negotiate with extra run-time parameters for this
// negotiation only, such as the certificate being verified.
func (b *Baton) NegotiateWith(kind, realm string, params map[string]any, try func(Credentials) (Verdict, error)) (Credentials, error) {
	creds, it, err := b.first(kind, realm, params)
	for err == nil {
		var v Verdict
		v, err = try(creds)
		switch {
		case v == Fatal:
			if err == nil {
				err = svn.Errorf(svn.ErrCodeAuthnFailed, "%s authentication failed for %s", kind, realm)
			}
			return nil, err
		case err != nil:
			return nil, err
		case v == Accepted:
			if serr := it.Save(); serr != nil {
				glog.Warningf("auth: %v", serr)
			}
			return creds, nil
		}
		glog.V(1).Infof("auth: %s credentials rejected for %s", kind, realm)
		creds, err = it.Next()
	}
	return nil, err
}

// Purge drops every cached credential that may not be saved.  Sessions
// call it when they close.
func (b *Baton) Purge() {
	for key, item := range b.cache.Items() {
		if !item.Value().Saveable() {
			b.cache.Delete(key)
		}
	}
}
