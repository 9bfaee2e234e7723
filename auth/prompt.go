package auth

// Prompt functions ask the user for credentials.  They return nil
// credentials when the user gives up, which ends the provider.
type (
	SimplePrompt         func(realm, username string, maySave bool) (*SimpleCredentials, error)
	UsernamePrompt       func(realm string, maySave bool) (*UsernameCredentials, error)
	SSLServerTrustPrompt func(realm string, failures uint32, info *SSLServerCertInfo, maySave bool) (*SSLServerTrust, error)
	SSLClientCertPrompt  func(realm string, maySave bool) (*SSLClientCertCredentials, error)
)

// promptProvider calls ask at most retryLimit times per negotiation.
type promptProvider struct {
	kind       string
	retryLimit int
	ask        func(req *Request, attempt int) (Credentials, error)
}

func (p *promptProvider) CredKind() string { return p.kind }

func (p *promptProvider) Attempts(req *Request) Attempts {
	limit := max(p.retryLimit, 1)
	n := 0
	return AttemptsFunc(func() (Credentials, error) {
		if n >= limit || req.NonInteractive() {
			return nil, nil
		}
		n++
		creds, err := p.ask(req, n)
		if err != nil || creds == nil {
			n = limit
		}
		return creds, err
	})
}

// SimplePromptProvider asks for a user name and password, at most
// retryLimit times per negotiation.  The first prompt suggests the
// default user name.
func SimplePromptProvider(prompt SimplePrompt, retryLimit int) Provider {
	return &promptProvider{
		kind:       KindSimple,
		retryLimit: retryLimit,
		ask: func(req *Request, attempt int) (Credentials, error) {
			user := ""
			if attempt == 1 {
				user = req.String(ParamDefaultUsername)
			}
			c, err := prompt(req.Realm, user, req.MaySave())
			if err != nil || c == nil {
				return nil, err
			}
			creds := *c
			creds.MaySave = creds.MaySave && req.MaySave()
			return creds, nil
		},
	}
}

// UsernamePromptProvider asks for a user name, at most retryLimit times
// per negotiation.
func UsernamePromptProvider(prompt UsernamePrompt, retryLimit int) Provider {
	return &promptProvider{
		kind:       KindUsername,
		retryLimit: retryLimit,
		ask: func(req *Request, _ int) (Credentials, error) {
			c, err := prompt(req.Realm, req.MaySave())
			if err != nil || c == nil {
				return nil, err
			}
			creds := *c
			creds.MaySave = creds.MaySave && req.MaySave()
			return creds, nil
		},
	}
}

// SSLServerTrustPromptProvider shows the certificate and its failures
// and asks whether to trust it.  The prompt gets its own copy of the
// certificate information.
func SSLServerTrustPromptProvider(prompt SSLServerTrustPrompt) Provider {
	return &promptProvider{
		kind:       KindSSLServer,
		retryLimit: 1,
		ask: func(req *Request, _ int) (Credentials, error) {
			c, err := prompt(req.Realm, req.Failures(), req.CertInfo().Clone(), req.MaySave())
			if err != nil || c == nil {
				return nil, err
			}
			creds := *c
			creds.MaySave = creds.MaySave && req.MaySave()
			return creds, nil
		},
	}
}

// SSLClientCertPromptProvider asks for a client certificate file and its
// passphrase, at most retryLimit times per negotiation.
func SSLClientCertPromptProvider(prompt SSLClientCertPrompt, retryLimit int) Provider {
	return &promptProvider{
		kind:       KindSSLClientCert,
		retryLimit: retryLimit,
		ask: func(req *Request, _ int) (Credentials, error) {
			c, err := prompt(req.Realm, req.MaySave())
			if err != nil || c == nil {
				return nil, err
			}
			creds := *c
			creds.MaySave = creds.MaySave && req.MaySave()
			return creds, nil
		},
	}
}
