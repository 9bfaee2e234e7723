package main

import (
	"bufio"
	"crypto/x509"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/term"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/auth"
	"github.com/cespedes/svnra/ra"
	"github.com/cespedes/svnra/rasvn"
)

// open opens a session to rawURL with the configured credentials.
func (a *app) open(rawURL string) (s *ra.Session, err error) {
	store, err := a.cfg.OpenStore(a.fs)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		// On success the store stays open until the command exits.
		defer func() {
			if err != nil {
				c.Close()
			}
		}()
	}
	b := auth.Open(a.providers(store), auth.WithCacheTTL(a.cfg.CacheTTL))
	a.cfg.Apply(b)
	opts := []ra.Option{
		ra.WithAuth(b),
		ra.WithTunnels(a.cfg.Tunnels),
		ra.WithUserAgent(a.cfg.UserAgent),
	}
	if strings.HasPrefix(rawURL, "svns://") && len(a.cfg.AuthorityFiles) > 0 {
		roots, err := a.authorities()
		if err != nil {
			return nil, err
		}
		c, err := rasvn.DialTLS(rawURL, ra.DialConfig{Auth: b, UserAgent: a.cfg.UserAgent}, roots)
		if err != nil {
			return nil, err
		}
		return ra.New(c, opts...), nil
	}
	return ra.Open(rawURL, opts...)
}

// authorities returns the certificates of the configured authority files.
func (a *app) authorities() (*x509.CertPool, error) {
	roots := x509.NewCertPool()
	for _, name := range a.cfg.AuthorityFiles {
		pem, err := afero.ReadFile(a.fs, name)
		if err != nil {
			return nil, fmt.Errorf("reading authority file: %w", err)
		}
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in authority file %s", name)
		}
	}
	return roots, nil
}

// providers returns the credential providers: stored credentials first,
// then the configured ones, then the prompts.
func (a *app) providers(store auth.Store) []auth.Provider {
	plaintext := func(realm string) (bool, error) {
		return a.cfg.StorePlaintext, nil
	}
	p := []auth.Provider{
		auth.ParameterProvider(auth.KindSimple),
		auth.SimpleProvider(store, plaintext),
		auth.ParameterProvider(auth.KindUsername),
		auth.UsernameProvider(store),
		auth.SSLServerTrustFileProvider(store),
		auth.SSLClientCertFileProvider(store),
	}
	if a.cfg.ClientCert != "" {
		p = append(p, a.cfg.ClientCertProvider())
	}
	if a.terminal() {
		p = append(p,
			auth.SimplePromptProvider(a.promptSimple, 3),
			auth.UsernamePromptProvider(a.promptUsername, 3),
			auth.SSLServerTrustPromptProvider(a.promptServerTrust),
			auth.SSLClientCertPromptProvider(a.promptClientCert, 2),
		)
	}
	return p
}

func (a *app) terminal() bool {
	f, ok := a.stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (a *app) readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if a.in == nil {
		a.in = bufio.NewReader(a.stdin)
	}
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(a.stdin.(*os.File).Fd()))
	fmt.Fprintln(os.Stderr)
	return string(secret), err
}

func (a *app) promptSimple(realm, username string, maySave bool) (*auth.SimpleCredentials, error) {
	fmt.Fprintf(os.Stderr, "Authentication realm: %s\n", realm)
	if username == "" {
		var err error
		if username, err = a.readLine("Username: "); err != nil {
			return nil, err
		}
	}
	password, err := a.readSecret(fmt.Sprintf("Password for '%s': ", username))
	if err != nil {
		return nil, err
	}
	return &auth.SimpleCredentials{Username: username, Password: password, MaySave: maySave}, nil
}

func (a *app) promptUsername(realm string, maySave bool) (*auth.UsernameCredentials, error) {
	fmt.Fprintf(os.Stderr, "Authentication realm: %s\n", realm)
	username, err := a.readLine("Username: ")
	if err != nil {
		return nil, err
	}
	return &auth.UsernameCredentials{Username: username, MaySave: maySave}, nil
}

func (a *app) promptServerTrust(realm string, failures uint32, info *auth.SSLServerCertInfo, maySave bool) (*auth.SSLServerTrust, error) {
	fmt.Fprintf(os.Stderr, "Error validating server certificate for '%s':\n", realm)
	reasons := []struct {
		bit uint32
		msg string
	}{
		{auth.SSLUnknownCA, "The certificate is not issued by a trusted authority."},
		{auth.SSLCNMismatch, "The certificate hostname does not match."},
		{auth.SSLNotYetValid, "The certificate is not yet valid."},
		{auth.SSLExpired, "The certificate has expired."},
		{auth.SSLOther, "The certificate has an unknown error."},
	}
	for _, r := range reasons {
		if failures&r.bit != 0 {
			fmt.Fprintf(os.Stderr, " - %s\n", r.msg)
		}
	}
	if info != nil {
		fmt.Fprintf(os.Stderr, "Certificate information:\n - Hostname: %s\n - Valid: from %s until %s\n - Issuer: %s\n - Fingerprint: %s\n",
			info.Hostname, info.ValidFrom, info.ValidUntil, info.IssuerDName, info.Fingerprint)
	}
	choices := "(R)eject or accept (t)emporarily? "
	if maySave {
		choices = "(R)eject, accept (t)emporarily or accept (p)ermanently? "
	}
	answer, err := a.readLine(choices)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(answer) {
	case "t":
		return &auth.SSLServerTrust{AcceptedFailures: failures}, nil
	case "p":
		if maySave {
			return &auth.SSLServerTrust{AcceptedFailures: failures, MaySave: true}, nil
		}
	}
	return nil, nil
}

func (a *app) promptClientCert(realm string, maySave bool) (*auth.SSLClientCertCredentials, error) {
	fmt.Fprintf(os.Stderr, "Authentication realm: %s\n", realm)
	file, err := a.readLine("Client certificate filename: ")
	if err != nil || file == "" {
		return nil, err
	}
	passphrase, err := a.readSecret(fmt.Sprintf("Passphrase for '%s': ", file))
	if err != nil {
		return nil, err
	}
	return &auth.SSLClientCertCredentials{Path: file, Passphrase: passphrase, MaySave: maySave}, nil
}

// splitURL splits rawURL into the URL of its parent directory and the
// unescaped name of its last component.
func splitURL(rawURL string) (parent, name string, err error) {
	u, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return "", "", svn.Wrap(err, svn.ErrCodeRAIllegalURL, "illegal URL %q", rawURL)
	}
	dir, name := path.Split(u.Path)
	if name == "" {
		return "", "", svn.Errorf(svn.ErrCodeRAIllegalURL, "URL %q has no last component", rawURL)
	}
	u.Path = strings.TrimSuffix(dir, "/")
	u.RawPath = ""
	return u.String(), name, nil
}

// splitURLs splits URLs which must all share the same parent.
func splitURLs(urls []string) (parent string, names []string, err error) {
	for _, rawURL := range urls {
		p, name, err := splitURL(rawURL)
		if err != nil {
			return "", nil, err
		}
		if parent != "" && p != parent {
			return "", nil, fmt.Errorf("%s and %s are in different directories", urls[0], rawURL)
		}
		parent = p
		names = append(names, name)
	}
	return parent, names, nil
}
