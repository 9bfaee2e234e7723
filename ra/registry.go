package ra

import (
	"fmt"
	"net/url"
	"sort"
	"sync"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/auth"
)

// DialConfig is what a DialFunc gets to open a Transport.
type DialConfig struct {
	Auth *auth.Baton
	// Tunnels maps tunnel names, as in "svn+NAME://", to commands.
	Tunnels   map[string]string
	UserAgent string
}

// DialFunc opens a Transport to the repository at url.
type DialFunc func(url string, cfg DialConfig) (Transport, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DialFunc)
)

// Register makes a DialFunc available for URLs with the given scheme.
// A scheme ending in "+" matches every scheme with that prefix, as
// "svn+" does for tunnels.
func Register(scheme string, dial DialFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = dial
}

// Schemes returns the registered schemes.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var s []string
	for k := range registry {
		s = append(s, k)
	}
	sort.Strings(s)
	return s
}

func lookup(scheme string) DialFunc {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if d, ok := registry[scheme]; ok {
		return d
	}
	for k, d := range registry {
		if k[len(k)-1] == '+' && len(scheme) > len(k) && scheme[:len(k)] == k {
			return d
		}
	}
	return nil
}

// Open opens a Session to the repository at rawURL using the transport
// registered for its scheme.
func Open(rawURL string, opts ...Option) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeRAIllegalURL, "illegal repository URL %q", rawURL)
	}
	dial := lookup(u.Scheme)
	if dial == nil {
		return nil, svn.Errorf(svn.ErrCodeRAIllegalURL, "unrecognized URL scheme for %q", rawURL)
	}
	o := newOptions(opts)
	t, err := dial(rawURL, o.dial)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", rawURL, err)
	}
	return newSession(t, o), nil
}
