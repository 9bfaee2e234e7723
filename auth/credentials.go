// Package auth implements the credential provider chain: providers of
// several kinds tried in order for a realm, with retry limits, a runtime
// cache and persistent credential stores.
package auth

// Credential kinds.
const (
	KindSimple        = "svn.simple"
	KindUsername      = "svn.username"
	KindSSLClientCert = "svn.ssl.client-cert"
	KindSSLServer     = "svn.ssl.server"
)

// Credentials are issued by providers.  They are values: once handed out
// they are never modified.
type Credentials interface {
	// CredKind returns the kind of the credentials.
	CredKind() string
	// Saveable reports whether the credentials may be cached and stored.
	Saveable() bool
}

// SimpleCredentials is a user name and password.
type SimpleCredentials struct {
	Username string
	Password string
	MaySave  bool
}

func (SimpleCredentials) CredKind() string { return KindSimple }

func (c SimpleCredentials) Saveable() bool { return c.MaySave }

// UsernameCredentials is a bare user name.
type UsernameCredentials struct {
	Username string
	MaySave  bool
}

func (UsernameCredentials) CredKind() string { return KindUsername }

func (c UsernameCredentials) Saveable() bool { return c.MaySave }

// SSLClientCertCredentials locates a client certificate and the
// passphrase that unlocks it.
type SSLClientCertCredentials struct {
	Path       string
	Passphrase string
	MaySave    bool
}

func (SSLClientCertCredentials) CredKind() string { return KindSSLClientCert }

func (c SSLClientCertCredentials) Saveable() bool { return c.MaySave }

// SSL certificate verification failures.
const (
	SSLNotYetValid uint32 = 0x00000001
	SSLExpired     uint32 = 0x00000002
	SSLCNMismatch  uint32 = 0x00000004
	SSLUnknownCA   uint32 = 0x00000008
	SSLOther       uint32 = 0x40000000
)

// SSLServerTrust accepts a server certificate despite AcceptedFailures.
type SSLServerTrust struct {
	AcceptedFailures uint32
	MaySave          bool
}

func (SSLServerTrust) CredKind() string { return KindSSLServer }

func (c SSLServerTrust) Saveable() bool { return c.MaySave }

// Accepts reports whether every bit of failures is accepted.
func (c SSLServerTrust) Accepts(failures uint32) bool {
	return failures&^c.AcceptedFailures == 0
}

// SSLServerCertInfo describes a server certificate to a trust provider.
type SSLServerCertInfo struct {
	Hostname    string
	Fingerprint string
	ValidFrom   string
	ValidUntil  string
	IssuerDName string
	// ASCIICert is the base64 encoded DER certificate.
	ASCIICert string
}

// Clone returns a copy of info, so that a provider may keep it.
func (info *SSLServerCertInfo) Clone() *SSLServerCertInfo {
	if info == nil {
		return nil
	}
	c := *info
	return &c
}
