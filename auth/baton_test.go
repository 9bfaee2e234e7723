package auth

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/spf13/afero"

	svn "github.com/cespedes/svnra"
)

func TestChainRetryLimitThenFallThrough(t *testing.T) {
	var calls []string
	a := SimplePromptProvider(func(realm, user string, maySave bool) (*SimpleCredentials, error) {
		calls = append(calls, "A")
		return &SimpleCredentials{Username: "a", Password: "wrong"}, nil
	}, 2)
	b := SimplePromptProvider(func(realm, user string, maySave bool) (*SimpleCredentials, error) {
		calls = append(calls, "B")
		return &SimpleCredentials{Username: "b", Password: "right"}, nil
	}, 2)
	baton := Open([]Provider{a, b})

	creds, err := baton.Negotiate(KindSimple, "realm", func(c Credentials) (Verdict, error) {
		if c.(SimpleCredentials).Password == "right" {
			return Accepted, nil
		}
		return Rejected, nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, creds.(SimpleCredentials).Username, "b")
	assert.Equal(t, calls, []string{"A", "A", "B"})
}

func TestChainExhausted(t *testing.T) {
	a := SimplePromptProvider(func(realm, user string, maySave bool) (*SimpleCredentials, error) {
		return &SimpleCredentials{Username: "a"}, nil
	}, 3)
	baton := Open([]Provider{a})
	tries := 0
	_, err := baton.Negotiate(KindSimple, "realm", func(Credentials) (Verdict, error) {
		tries++
		return Rejected, nil
	})
	assert.Equal(t, tries, 3)
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeAuthnCredsUnavail)
}

func TestNoProvider(t *testing.T) {
	baton := Open([]Provider{UsernameProvider(NewMemoryStore())})
	_, _, err := baton.FirstCredentials(KindSimple, "realm")
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeAuthnNoProvider)
}

func TestPromptGivesUp(t *testing.T) {
	n := 0
	a := UsernamePromptProvider(func(realm string, maySave bool) (*UsernameCredentials, error) {
		n++
		return nil, nil
	}, 5)
	b := UsernamePromptProvider(func(realm string, maySave bool) (*UsernameCredentials, error) {
		return &UsernameCredentials{Username: "fallback"}, nil
	}, 1)
	creds, _, err := Open([]Provider{a, b}).FirstCredentials(KindUsername, "realm")
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 1)
	assert.Equal(t, creds.(UsernameCredentials).Username, "fallback")
}

func TestNonInteractive(t *testing.T) {
	prompted := false
	p := SimplePromptProvider(func(realm, user string, maySave bool) (*SimpleCredentials, error) {
		prompted = true
		return &SimpleCredentials{}, nil
	}, 2)
	baton := Open([]Provider{ParameterProvider(KindSimple), p})
	baton.SetParameter(ParamNonInteractive, true)
	baton.SetParameter(ParamDefaultUsername, "jrandom")
	baton.SetParameter(ParamDefaultPassword, "rayjandom")

	creds, it, err := baton.FirstCredentials(KindSimple, "realm")
	assert.Equal(t, err, nil)
	assert.Equal(t, creds, SimpleCredentials{Username: "jrandom", Password: "rayjandom", MaySave: true})
	_, err = it.Next()
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeAuthnCredsUnavail)
	assert.Equal(t, prompted, false)
}

func TestFatalVerdict(t *testing.T) {
	baton := Open([]Provider{ParameterProvider(KindUsername)})
	baton.SetParameter(ParamDefaultUsername, "jrandom")
	boom := errors.New("connection reset")
	_, err := baton.Negotiate(KindUsername, "realm", func(Credentials) (Verdict, error) {
		return Fatal, boom
	})
	assert.Equal(t, errors.Is(err, boom), true)
}

func TestProviderPanic(t *testing.T) {
	p := UsernamePromptProvider(func(string, bool) (*UsernameCredentials, error) {
		panic("prompt exploded")
	}, 1)
	_, _, err := Open([]Provider{p}).FirstCredentials(KindUsername, "realm")
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeCallbackFailed)
}

func TestCachedCredentialsOfferedFirst(t *testing.T) {
	prompts := 0
	p := SimplePromptProvider(func(realm, user string, maySave bool) (*SimpleCredentials, error) {
		prompts++
		return &SimpleCredentials{Username: "u", Password: "p", MaySave: true}, nil
	}, 1)
	baton := Open([]Provider{p})
	baton.SetParameter(ParamNoAuthCache, true)
	accept := func(Credentials) (Verdict, error) { return Accepted, nil }

	_, err := baton.Negotiate(KindSimple, "realm", accept)
	assert.Equal(t, err, nil)
	_, err = baton.Negotiate(KindSimple, "realm", accept)
	assert.Equal(t, err, nil)
	assert.Equal(t, prompts, 1)

	// A rejected cached entry is dropped and the providers asked again.
	tries := 0
	_, err = baton.Negotiate(KindSimple, "realm", func(Credentials) (Verdict, error) {
		tries++
		if tries == 1 {
			return Rejected, nil
		}
		return Accepted, nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, prompts, 2)
}

func TestUnsaveableNeverPersisted(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "/home/u/.subversion")
	prompts := 0
	prompt := SimplePromptProvider(func(realm, user string, maySave bool) (*SimpleCredentials, error) {
		prompts++
		return &SimpleCredentials{Username: "u", Password: "p", MaySave: false}, nil
	}, 1)
	baton := Open([]Provider{SimpleProvider(store, nil), prompt})
	accept := func(Credentials) (Verdict, error) { return Accepted, nil }

	_, err := baton.Negotiate(KindSimple, "<svn://h:3690> r", accept)
	assert.Equal(t, err, nil)
	assert.Equal(t, prompts, 1)

	// Session closes.
	baton.Purge()

	data, err := store.Load(KindSimple, "<svn://h:3690> r")
	assert.Equal(t, err, nil)
	assert.Equal(t, data == nil, true)
	_, err = baton.Negotiate(KindSimple, "<svn://h:3690> r", accept)
	assert.Equal(t, err, nil)
	assert.Equal(t, prompts, 2)
}

func TestStoredCredentialsSurvivePurge(t *testing.T) {
	store := NewMemoryStore()
	assert.Equal(t, store.Save(KindSimple, "realm", map[string]string{
		attrUsername: "u",
		attrPassword: "p",
		attrPasstype: "simple",
	}), nil)
	asked := 0
	plaintext := func(string) (bool, error) {
		asked++
		return true, nil
	}
	baton := Open([]Provider{SimpleProvider(store, plaintext)})
	accept := func(Credentials) (Verdict, error) { return Accepted, nil }

	creds, err := baton.Negotiate(KindSimple, "realm", accept)
	assert.Equal(t, err, nil)
	assert.Equal(t, creds.Saveable(), true)
	// Unchanged credentials are not stored again.
	assert.Equal(t, asked, 0)

	baton.Purge()
	assert.Equal(t, len(baton.cache.Items()), 1)
}

func TestSaveableStoredAndReused(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "/cfg")
	p := SimplePromptProvider(func(realm, user string, maySave bool) (*SimpleCredentials, error) {
		return &SimpleCredentials{Username: "u", Password: "p", MaySave: maySave}, nil
	}, 1)
	accept := func(Credentials) (Verdict, error) { return Accepted, nil }

	_, err := Open([]Provider{SimpleProvider(store, nil), p}).Negotiate(KindSimple, "realm", accept)
	assert.Equal(t, err, nil)

	// A fresh baton finds them on disk.
	creds, _, err := Open([]Provider{SimpleProvider(store, nil)}).FirstCredentials(KindSimple, "realm")
	assert.Equal(t, err, nil)
	assert.Equal(t, creds.(SimpleCredentials).Password, "p")
}

func TestPlaintextRefused(t *testing.T) {
	store := NewMemoryStore()
	p := SimpleProvider(store, func(string) (bool, error) { return false, nil })
	ok, err := p.(Saver).Save(NewRequest(KindSimple, "realm", nil), SimpleCredentials{Username: "u", Password: "p", MaySave: true})
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	data, _ := store.Load(KindSimple, "realm")
	assert.Equal(t, data, map[string]string{"username": "u"})
}
