package auth

// Run-time parameters understood by the providers.
const (
	ParamDefaultUsername    = "svn:auth:username"
	ParamDefaultPassword    = "svn:auth:password"
	ParamNonInteractive     = "svn:auth:non-interactive"
	ParamNoAuthCache        = "svn:auth:no-auth-cache"
	ParamDontStorePasswords = "svn:auth:dont-store-passwords"
	ParamSSLServerFailures  = "svn:auth:ssl:failures"
	ParamSSLServerCertInfo  = "svn:auth:ssl:cert-info"
	ParamConfigDir          = "svn:auth:config-dir"
)

// Provider supplies credentials of one kind.  Providers keep no state
// between negotiations: everything specific to one negotiation lives in
// the Attempts value returned by Attempts.
type Provider interface {
	CredKind() string
	// Attempts starts a negotiation for req.
	Attempts(req *Request) Attempts
}

// Attempts yields the successive credentials a provider offers during
// one negotiation.  Next returns nil credentials and a nil error once the
// provider has nothing more to offer; an error stops the negotiation.
type Attempts interface {
	Next() (Credentials, error)
}

// AttemptsFunc adapts a function to Attempts.
type AttemptsFunc func() (Credentials, error)

func (f AttemptsFunc) Next() (Credentials, error) {
	return f()
}

// Saver is implemented by providers able to persist credentials they
// accept.  Save reports whether it stored them.
type Saver interface {
	Save(req *Request, creds Credentials) (bool, error)
}

// Request describes one negotiation: the kind and realm being asked for
// and a snapshot of the run-time parameters.
type Request struct {
	Kind   string
	Realm  string
	params map[string]any
}

// NewRequest returns a Request with the given parameters, mostly useful
// to test providers on their own.
func NewRequest(kind, realm string, params map[string]any) *Request {
	return &Request{Kind: kind, Realm: realm, params: params}
}

// Param returns a run-time parameter, or nil.
func (r *Request) Param(name string) any {
	return r.params[name]
}

// String returns a string parameter, or "".
func (r *Request) String(name string) string {
	s, _ := r.params[name].(string)
	return s
}

// Bool returns a boolean parameter.  Any non-nil value other than false
// counts as set.
func (r *Request) Bool(name string) bool {
	switch v := r.params[name].(type) {
	case nil:
		return false
	case bool:
		return v
	}
	return true
}

// NonInteractive reports whether prompting is disabled.
func (r *Request) NonInteractive() bool {
	return r.Bool(ParamNonInteractive)
}

// MaySave reports whether credentials obtained now may be saved.
func (r *Request) MaySave() bool {
	return !r.Bool(ParamNoAuthCache)
}

// Failures returns the SSL verification failures being negotiated.
func (r *Request) Failures() uint32 {
	f, _ := r.params[ParamSSLServerFailures].(uint32)
	return f
}

// CertInfo returns the server certificate being negotiated.
func (r *Request) CertInfo() *SSLServerCertInfo {
	info, _ := r.params[ParamSSLServerCertInfo].(*SSLServerCertInfo)
	return info
}

// single returns Attempts offering at most one set of credentials.
func single(get func() (Credentials, error)) Attempts {
	done := false
	return AttemptsFunc(func() (Credentials, error) {
		if done {
			return nil, nil
		}
		done = true
		return get()
	})
}
